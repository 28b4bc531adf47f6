package internal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"
	"io"
	"sort"
)

// --------------------------------------------------------------------------
// Snapshot File Format
// --------------------------------------------------------------------------

//	magic       8 bytes  "RKVMAPLE"
//	version     1 byte
//	compression 1 byte
//	checksum    8 bytes  xxh3 of the compressed body, little-endian
//	length      8 bytes  size of the compressed body, little-endian
//	body        compressed CBOR encoding of fileState

const (
	magic      = "RKVMAPLE"
	version    = 1
	headerSize = len(magic) + 1 + 1 + 8 + 8
)

// ErrCorrupt is returned when a snapshot file cannot be read
var ErrCorrupt = errors.New("corrupt snapshot file")

type fileTable struct {
	Name   string   `cbor:"1,keyasint"`
	Flags  uint     `cbor:"2,keyasint"`
	Keys   [][]byte `cbor:"3,keyasint"`
	Values [][]byte `cbor:"4,keyasint"`
}

type fileState struct {
	TxnID  uint64      `cbor:"1,keyasint"`
	Tables []fileTable `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	if encMode, err = (cbor.EncOptions{Sort: cbor.SortCanonical}).EncMode(); err != nil {
		panic(err)
	}
}

// WriteSnapshot writes all tables to w
func WriteSnapshot(w io.Writer, txnID uint64, tables map[string]*Table, c Compression) error {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	state := fileState{TxnID: txnID, Tables: make([]fileTable, 0, len(names))}
	for _, name := range names {
		t := tables[name]
		ft := fileTable{
			Name:   name,
			Flags:  uint(t.Flags),
			Keys:   make([][]byte, 0, t.Len()),
			Values: make([][]byte, 0, t.Len()),
		}
		t.Tree.Ascend(func(e Entry) bool {
			ft.Keys = append(ft.Keys, e.Key)
			ft.Values = append(ft.Values, e.Value)
			return true
		})
		state.Tables = append(state.Tables, ft)
	}

	raw, err := encMode.Marshal(state)
	if err != nil {
		return err
	}
	body, err := Compress(c, raw)
	if err != nil {
		return err
	}

	header := make([]byte, 0, headerSize)
	header = append(header, magic...)
	header = append(header, version, byte(c))
	header = binary.LittleEndian.AppendUint64(header, xxh3.Hash(body))
	header = binary.LittleEndian.AppendUint64(header, uint64(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadSnapshot reads the tables written by WriteSnapshot
func ReadSnapshot(r io.Reader) (txnID uint64, tables map[string]*Table, err error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return 0, nil, fmt.Errorf("%w: invalid magic number", ErrCorrupt)
	}
	if header[len(magic)] != version {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header[len(magic)])
	}
	c := Compression(header[len(magic)+1])
	checksum := binary.LittleEndian.Uint64(header[len(magic)+2:])
	length := binary.LittleEndian.Uint64(header[len(magic)+10:])

	body, err := io.ReadAll(io.LimitReader(r, int64(length)))
	if err != nil {
		return 0, nil, err
	}
	if uint64(len(body)) != length {
		return 0, nil, fmt.Errorf("%w: truncated body", ErrCorrupt)
	}
	if xxh3.Hash(body) != checksum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	raw, err := Decompress(c, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var state fileState
	if err := cbor.Unmarshal(raw, &state); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	tables = make(map[string]*Table, len(state.Tables))
	for _, ft := range state.Tables {
		if len(ft.Keys) != len(ft.Values) {
			return 0, nil, fmt.Errorf("%w: table %s has %d keys and %d values", ErrCorrupt, ft.Name, len(ft.Keys), len(ft.Values))
		}
		t := NewTable(db.DBFlags(ft.Flags))
		for i := range ft.Keys {
			t.Insert(Entry{Key: ft.Keys[i], Value: ft.Values[i]})
		}
		tables[ft.Name] = t
	}
	return state.TxnID, tables, nil
}
