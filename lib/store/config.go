package store

import (
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"strings"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// WriterPolicy selects what BeginWrite does while another writer is active.
type WriterPolicy string

const (
	// WriterBlock waits (FIFO) until the active writer commits or aborts.
	WriterBlock WriterPolicy = "block"
	// WriterFailFast returns ErrWriteTxnUnavailable immediately.
	WriterFailFast WriterPolicy = "fail-fast"
)

// Config holds the parameters consumed when an environment is opened.
type Config struct {
	// Backend selects the storage engine ("bolt", "mdbx" or "maple")
	Backend db.Implementation

	// Engine limits, 0 selects the backend default
	MaxDBs     int
	MapSize    int64
	MaxReaders int

	// Canonicalize resolves symlinks before the path is used as registry key.
	// Disabling it only cleans the path and trusts the caller to use one
	// spelling per environment.
	Canonicalize bool

	ReadOnly bool
	NoSync   bool

	WriterPolicy WriterPolicy

	// Compression of maple snapshot files ("none", "snappy", "zstd", "lz4")
	Compression string
}

// DefaultConfig returns the default environment configuration
func DefaultConfig() *Config {
	return &Config{
		Backend:      db.ImplBolt,
		MaxDBs:       128,
		MapSize:      1 << 30,
		MaxReaders:   126,
		Canonicalize: true,
		WriterPolicy: WriterBlock,
		Compression:  "snappy",
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.MaxDBs < 0 || c.MapSize < 0 || c.MaxReaders < 0 {
		return NewError(RetCInvalidOperation, "limits must not be negative")
	}
	switch c.WriterPolicy {
	case WriterBlock, WriterFailFast, "":
	default:
		return NewError(RetCInvalidOperation, fmt.Sprintf("unknown writer policy %q", c.WriterPolicy))
	}
	switch c.Compression {
	case "", "none", "snappy", "zstd", "lz4":
	default:
		return NewError(RetCInvalidOperation, fmt.Sprintf("unknown compression %q", c.Compression))
	}
	return nil
}

func (c *Config) envOptions() db.EnvOptions {
	opts := db.EnvOptions{
		MaxDBs:     c.MaxDBs,
		MapSize:    c.MapSize,
		MaxReaders: c.MaxReaders,
		ReadOnly:   c.ReadOnly,
		NoSync:     c.NoSync,
	}
	if c.Compression != "" {
		opts.Options = map[string]string{maple.OptionCompression: c.Compression}
	}
	return opts
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Backend")
	addField("Engine", string(c.Backend))
	if c.Backend == db.ImplMaple {
		addField("Compression", c.Compression)
	}

	addSection("Limits")
	addField("Max Databases", fmt.Sprintf("%d", c.MaxDBs))
	addField("Map Size", formatBytes(c.MapSize))
	addField("Max Readers", fmt.Sprintf("%d", c.MaxReaders))

	addSection("Behaviour")
	addField("Canonicalize Path", fmt.Sprintf("%t", c.Canonicalize))
	addField("Read-Only", fmt.Sprintf("%t", c.ReadOnly))
	addField("No Sync", fmt.Sprintf("%t", c.NoSync))
	addField("Writer Policy", string(c.WriterPolicy))

	return sb.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
