package sqlidb

import (
	"github.com/roach88/sqlidb/internal/domerr"
	"github.com/roach88/sqlidb/internal/engine"
	"github.com/roach88/sqlidb/internal/key"
	"github.com/roach88/sqlidb/internal/keyrange"
)

type (
	Factory      = engine.Factory
	Database     = engine.Database
	DatabaseInfo = engine.DatabaseInfo
	Transaction  = engine.Transaction
	ObjectStore  = engine.ObjectStore
	Index        = engine.Index
	Cursor       = engine.Cursor
	Request      = engine.Request
	ErrorEvent   = engine.ErrorEvent
	UpgradeFunc  = engine.UpgradeFunc
	StoreOptions = engine.StoreOptions
	IndexOptions = engine.IndexOptions
	Mode         = engine.Mode
	Direction    = engine.Direction
	Config       = engine.Config
	Option       = engine.Option

	// KeyRange is an interval of keys. A nil *KeyRange is unbounded.
	KeyRange = keyrange.Range

	// Error is a named failure such as a ConstraintError.
	Error = domerr.Error

	// ErrorName names an error kind, for example "DataError".
	ErrorName = domerr.Name
)

// Transaction modes.
const (
	ReadOnly      = engine.ReadOnly
	ReadWrite     = engine.ReadWrite
	VersionChange = engine.VersionChange
)

// Cursor directions.
const (
	Next       = engine.Next
	NextUnique = engine.NextUnique
	Prev       = engine.Prev
	PrevUnique = engine.PrevUnique
)

// Error names.
const (
	ConstraintError          = domerr.Constraint
	DataError                = domerr.Data
	DataCloneError           = domerr.DataClone
	InvalidStateError        = domerr.InvalidState
	InvalidAccessError       = domerr.InvalidAccess
	TransactionInactiveError = domerr.TransactionInactive
	ReadOnlyError            = domerr.ReadOnly
	NotFoundError            = domerr.NotFound
	VersionError             = domerr.Version
	AbortError               = domerr.Abort
	SyntaxError              = domerr.Syntax
	TypeError                = domerr.Type
	QuotaExceededError       = domerr.QuotaExceeded
	UnknownError             = domerr.Unknown
)

// Factory construction and options.
var (
	NewFactory       = engine.NewFactory
	WithDataDir      = engine.WithDataDir
	WithInMemory     = engine.WithInMemory
	WithPrefetchSize = engine.WithPrefetchSize
	WithDebug        = engine.WithDebug
	WithLogger       = engine.WithLogger
	WithSerializer   = engine.WithSerializer
	WithRegisterer   = engine.WithRegisterer
	WithIDGenerator  = engine.WithIDGenerator
)

// Cmp compares two keys: -1, 0 or 1. Either argument that is not a valid
// key fails with a DataError.
func Cmp(a, b any) (int, error) {
	return key.Cmp(a, b)
}

// Only returns the range holding exactly v.
func Only(v any) (*KeyRange, error) {
	return keyrange.Only(v)
}

// LowerBound returns the range of keys above v (or at v, unless open).
func LowerBound(v any, open bool) (*KeyRange, error) {
	return keyrange.LowerBound(v, open)
}

// UpperBound returns the range of keys below v (or at v, unless open).
func UpperBound(v any, open bool) (*KeyRange, error) {
	return keyrange.UpperBound(v, open)
}

// Bound returns the range between lower and upper. It fails with a
// DataError when lower is above upper, or equal to it with an open side.
func Bound(lower, upper any, lowerOpen, upperOpen bool) (*KeyRange, error) {
	return keyrange.Bound(lower, upper, lowerOpen, upperOpen)
}

// ErrorKind returns the name of the failure err carries, looking through
// an abort to the request error that caused it. It returns "" for errors
// that are not named failures.
func ErrorKind(err error) ErrorName {
	return domerr.Kind(engine.Cause(err))
}

// IsError reports whether err is a named failure of the given kind.
func IsError(err error, name ErrorName) bool {
	return domerr.Is(err, name)
}

// Cause returns the error that made an aborted transaction abort, or err
// itself.
func Cause(err error) error {
	return engine.Cause(err)
}
