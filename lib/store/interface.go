package store

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Txn is implemented by *ReadTxn and *WriteTxn. Every read operation of a
// store accepts a Txn, every mutation requires a *WriteTxn.
type Txn interface {
	// Environment returns the environment the transaction belongs to.
	Environment() *Environment
	// Status returns the current state of the transaction.
	Status() TxnStatus
	// Abort ends the transaction. It is a no-op on finished transactions.
	Abort()

	// backend returns the backend transaction or ErrTransactionFinished.
	backend() (db.ReadTxn, error)
}

// Key is the set of key types accepted by byte-keyed stores.
type Key interface {
	~string | ~[]byte
}

// Kind is the flavor of a store. A store name is bound to exactly one kind.
type Kind uint8

const (
	KindSingle         Kind = iota + 1 // One value per key, byte-ordered keys
	KindDupSort                        // Sorted set of values per key, byte-ordered keys
	KindInteger                        // One value per key, numerically ordered keys
	KindDupSortInteger                 // Sorted set of values per key, numerically ordered keys
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindDupSort:
		return "multi"
	case KindInteger:
		return "integer"
	case KindDupSortInteger:
		return "multi-integer"
	default:
		return "unknown"
	}
}

// ParseKind converts the name returned by Kind.String back to a Kind.
func ParseKind(name string) (Kind, error) {
	for k := KindSingle; k <= KindDupSortInteger; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, NewError(RetCInvalidOperation, fmt.Sprintf("unknown store kind %q", name))
}

// DupSort reports whether the kind keeps multiple values per key.
func (k Kind) DupSort() bool {
	return k == KindDupSort || k == KindDupSortInteger
}

// IntegerKeys reports whether the kind orders keys numerically.
func (k Kind) IntegerKeys() bool {
	return k == KindInteger || k == KindDupSortInteger
}

func (k Kind) flags() db.DBFlags {
	var f db.DBFlags
	if k.DupSort() {
		f |= db.FlagDupSort
	}
	if k.IntegerKeys() {
		f |= db.FlagIntegerKey
	}
	return f
}

func kindOf(flags db.DBFlags) Kind {
	switch flags.SortFlags() {
	case db.FlagDupSort:
		return KindDupSort
	case db.FlagIntegerKey:
		return KindInteger
	case db.FlagDupSort | db.FlagIntegerKey:
		return KindDupSortInteger
	default:
		return KindSingle
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and the underlying cause. Errors with the same code match
// each other with errors.Is, so the sentinels below can be used as targets.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The cause (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code, message and cause.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// CodeOf returns the return code of err, RetCSuccess for nil and
// RetCInternalError for errors not created by this package.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// Sentinel errors for errors.Is
var (
	ErrKindMismatch        = NewError(RetCKindMismatch, "store is bound to a different kind")
	ErrNotFound            = NewError(RetCNotFound, "not found")
	ErrUnexpectedType      = NewError(RetCUnexpectedType, "unexpected value type")
	ErrDecoding            = NewError(RetCDecodingError, "value could not be decoded")
	ErrEncoding            = NewError(RetCEncodingError, "value could not be encoded")
	ErrTransactionFinished = NewError(RetCTransactionFinished, "transaction already finished")
	ErrWriteTxnUnavailable = NewError(RetCWriteTxnUnavailable, "write transaction unavailable")
	ErrReadOnly            = NewError(RetCReadOnly, "environment is read-only")
	ErrOpenFailed          = NewError(RetCOpenFailed, "environment could not be opened")
	ErrBackendFailure      = NewError(RetCBackendFailure, "backend failure")
	ErrEnvironmentMismatch = NewError(RetCEnvironmentMismatch, "transaction belongs to another environment")
	ErrInvalidOperation    = NewError(RetCInvalidOperation, "invalid operation")
	ErrInternal            = NewError(RetCInternalError, "internal error")
)

// codecError converts an error of the codec package
func codecError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, codec.ErrUnexpectedType):
		return WrapError(RetCUnexpectedType, "unexpected value type", err)
	case errors.Is(err, codec.ErrEncoding):
		return WrapError(RetCEncodingError, "encoding failed", err)
	default:
		return WrapError(RetCDecodingError, "decoding failed", err)
	}
}

// backendError converts an error of the backend. Resource exhaustion that
// prevents writing is reported as WriteTxnUnavailable.
func backendError(op string, err error) error {
	var e *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return err
	case errors.Is(err, db.ErrNotFound):
		return WrapError(RetCNotFound, op, err)
	case errors.Is(err, db.ErrTxnDone):
		return WrapError(RetCTransactionFinished, op, err)
	case errors.Is(err, db.ErrReadOnly):
		return WrapError(RetCReadOnly, op, err)
	case errors.Is(err, db.ErrIncompatible):
		return WrapError(RetCKindMismatch, op, err)
	case errors.Is(err, db.ErrMapFull), errors.Is(err, db.ErrDBsFull):
		return WrapError(RetCWriteTxnUnavailable, op, err)
	case errors.Is(err, db.ErrKeyExists):
		return WrapError(RetCKeyExists, op, err)
	case errors.Is(err, db.ErrBadValSize), errors.Is(err, db.ErrInvalid):
		return WrapError(RetCInvalidOperation, op, err)
	default:
		return WrapError(RetCBackendFailure, op, err)
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend.
	RetCInvalidOperation                    // 3: Invalid operation or argument.
	RetCKindMismatch                        // 4: Store name is bound to a different kind.
	RetCNotFound                            // 5: Key, value or store does not exist.
	RetCUnexpectedType                      // 6: Stored value has a different type tag.
	RetCDecodingError                       // 7: Stored bytes are not a valid encoding.
	RetCEncodingError                       // 8: Value cannot be encoded.
	RetCTransactionFinished                 // 9: Transaction was committed or aborted.
	RetCWriteTxnUnavailable                 // 10: No writer could be acquired.
	RetCReadOnly                            // 11: Environment or transaction is read-only.
	RetCOpenFailed                          // 12: Environment could not be opened.
	RetCBackendFailure                      // 13: Backend reported an error.
	RetCEnvironmentMismatch                 // 14: Transaction and store belong to different environments.
	RetCKeyExists                           // 15: Put with NoOverwrite or NoDupData found the entry.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCKindMismatch:
		return "KindMismatch"
	case RetCNotFound:
		return "NotFound"
	case RetCUnexpectedType:
		return "UnexpectedType"
	case RetCDecodingError:
		return "DecodingError"
	case RetCEncodingError:
		return "EncodingError"
	case RetCTransactionFinished:
		return "TransactionFinished"
	case RetCWriteTxnUnavailable:
		return "WriteTxnUnavailable"
	case RetCReadOnly:
		return "ReadOnly"
	case RetCOpenFailed:
		return "OpenFailed"
	case RetCBackendFailure:
		return "BackendFailure"
	case RetCEnvironmentMismatch:
		return "EnvironmentMismatch"
	case RetCKeyExists:
		return "KeyExists"
	default:
		return "Unknown"
	}
}
