package bptree

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Serializer encodes and decodes a tree's key type to and from a
// fixed-maximum-size byte slice. The core never interprets keys beyond
// ordering via the values a Serializer produces: all key comparisons
// are performed on the deserialized key.
//
// Any type is addressed through the `any` interface rather than Go
// generics so that a TreeConf's Serializer can be selected at runtime
// (chosen through Options when the tree is opened; it is not stored in
// the metadata page) instead of fixed at compile time — mirroring the
// source's runtime-pluggable Serializer contract.
type Serializer interface {
	// Serialize encodes key into at most keySize bytes. It returns
	// ErrInvalidArgument if key cannot be represented.
	Serialize(key any, keySize uint32) ([]byte, error)

	// Deserialize decodes the bytes produced by Serialize (tolerant of
	// the zero-padding a fixed-width Record/Reference applies after the
	// length-prefixed payload).
	Deserialize(data []byte) (any, error)

	// Compare orders two deserialized keys, returning <0, 0, >0 the way
	// a traditional comparator does. Used by every ordering-sensitive
	// operation (insert, search, range scan).
	Compare(a, b any) int
}

// IntSerializer encodes a non-negative 64-bit integer key as 8
// big-endian bytes, right-aligned in a zero-filled buffer of exactly
// keySize bytes (keySize must be at least 8). Negative keys are
// rejected with ErrInvalidArgument.
type IntSerializer struct{}

func (IntSerializer) Serialize(key any, keySize uint32) ([]byte, error) {
	v, ok := key.(int64)
	if !ok {
		iv, ok2 := key.(int)
		if !ok2 {
			return nil, fmt.Errorf("%w: IntSerializer requires int64 or int, got %T", ErrInvalidArgument, key)
		}
		v = int64(iv)
	}
	if v < 0 {
		return nil, fmt.Errorf("%w: IntSerializer does not support negative keys", ErrInvalidArgument)
	}
	if keySize < 8 {
		return nil, fmt.Errorf("%w: key_size must be >= 8 for IntSerializer", ErrInvalidArgument)
	}
	buf := make([]byte, keySize)
	binary.BigEndian.PutUint64(buf[keySize-8:], uint64(v))
	return buf, nil
}

func (IntSerializer) Deserialize(data []byte) (any, error) {
	if len(data) < 8 {
		var padded [8]byte
		copy(padded[8-len(data):], data)
		return int64(binary.BigEndian.Uint64(padded[:])), nil
	}
	return int64(binary.BigEndian.Uint64(data[len(data)-8:])), nil
}

func (IntSerializer) Compare(a, b any) int {
	av, bv := a.(int64), b.(int64)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// StrSerializer encodes a string key as its UTF-8 bytes.
type StrSerializer struct{}

func (StrSerializer) Serialize(key any, keySize uint32) ([]byte, error) {
	s, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("%w: StrSerializer requires string, got %T", ErrInvalidArgument, key)
	}
	b := []byte(s)
	if uint32(len(b)) > keySize {
		return nil, fmt.Errorf("%w: string key %d bytes exceeds key_size %d", ErrInvalidArgument, len(b), keySize)
	}
	return b, nil
}

func (StrSerializer) Deserialize(data []byte) (any, error) {
	return string(data), nil
}

func (StrSerializer) Compare(a, b any) int {
	as, bs := a.(string), b.(string)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// UUIDSerializer encodes a google/uuid.UUID key as its 16-byte form.
type UUIDSerializer struct{}

func (UUIDSerializer) Serialize(key any, keySize uint32) ([]byte, error) {
	u, ok := key.(uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("%w: UUIDSerializer requires uuid.UUID, got %T", ErrInvalidArgument, key)
	}
	if keySize < 16 {
		return nil, fmt.Errorf("%w: key_size must be >= 16 for UUIDSerializer", ErrInvalidArgument)
	}
	b := make([]byte, 16)
	copy(b, u[:])
	return b, nil
}

func (UUIDSerializer) Deserialize(data []byte) (any, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: UUID payload too short", ErrCorruptFile)
	}
	u, err := uuid.FromBytes(data[:16])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	return u, nil
}

func (UUIDSerializer) Compare(a, b any) int {
	au, bu := a.(uuid.UUID), b.(uuid.UUID)
	for i := range au {
		if au[i] != bu[i] {
			if au[i] < bu[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// DatetimeUTCSerializer encodes a UTC time.Time key as 8-byte big-endian
// nanoseconds-since-epoch. Unlike the source's temporenc-backed packed
// decimal encoding (see DESIGN.md), this is a plain fixed-width integer
// encoding built on the standard library only.
type DatetimeUTCSerializer struct{}

func (DatetimeUTCSerializer) Serialize(key any, keySize uint32) ([]byte, error) {
	t, ok := key.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: DatetimeUTCSerializer requires time.Time, got %T", ErrInvalidArgument, key)
	}
	if keySize < 8 {
		return nil, fmt.Errorf("%w: key_size must be >= 8 for DatetimeUTCSerializer", ErrInvalidArgument)
	}
	buf := make([]byte, keySize)
	binary.BigEndian.PutUint64(buf[int(keySize)-8:], uint64(t.UTC().UnixNano()))
	return buf, nil
}

func (DatetimeUTCSerializer) Deserialize(data []byte) (any, error) {
	if len(data) < 8 {
		var padded [8]byte
		copy(padded[8-len(data):], data)
		data = padded[:]
	}
	ns := int64(binary.BigEndian.Uint64(data[len(data)-8:]))
	return time.Unix(0, ns).UTC(), nil
}

func (DatetimeUTCSerializer) Compare(a, b any) int {
	at, bt := a.(time.Time), b.(time.Time)
	switch {
	case at.Before(bt):
		return -1
	case at.After(bt):
		return 1
	default:
		return 0
	}
}
