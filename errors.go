package bptree

import "errors"

// User-visible error kinds (spec §7). Check with errors.Is.
var (
	// ErrKeyExists is returned by Insert when replace is false and the
	// key already has a Record.
	ErrKeyExists = errors.New("bptree: key already exists")

	// ErrKeyNotFound is returned by Item, the subscript-style accessor
	// (spec §6 "tree[missing] raises KeyNotFound"), when key has no
	// Record. Get itself never returns this — it returns a
	// caller-supplied default instead.
	ErrKeyNotFound = errors.New("bptree: key not found")

	// ErrOrderViolation is returned by BatchInsert when the supplied
	// keys are not strictly ascending, or not all greater than any key
	// already in the tree.
	ErrOrderViolation = errors.New("bptree: batch insert keys must be strictly ascending and greater than any existing key")

	// ErrInvalidSlice is returned by range iteration when start >= stop,
	// or a reverse range is requested.
	ErrInvalidSlice = errors.New("bptree: invalid range: start must be less than stop")

	// ErrInvalidArgument covers a value that exceeds what can be
	// represented in an overflow chain, or a key the configured
	// Serializer cannot encode.
	ErrInvalidArgument = errors.New("bptree: invalid argument")

	// ErrCorruptFile is returned when the on-disk format fails a
	// structural check: an unrecognized node type tag, a WAL
	// page-size mismatch, or a checksum mismatch.
	ErrCorruptFile = errors.New("bptree: corrupt file")

	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("bptree: tree is closed")
)

// errNotFound is internal: "no entry for this key in this node". It
// never escapes the package; callers see ErrKeyNotFound or a nil/default
// value instead.
var errNotFound = errors.New("bptree: entry not found in node")
