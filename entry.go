package bptree

import (
	"encoding/binary"
	"fmt"
)

// Record is a key/value entry inside a Leaf or LonelyRoot node (spec §3).
//
// Values up to conf.ValueSize are stored inline; larger values are
// stored in an overflow chain and overflowPage is non-zero. Exactly one
// of value/overflowPage is populated at any time (I: Record invariant).
//
// Per the lazily-decoded design note in spec §9, a Record keeps its raw
// dump alongside its decoded fields and invalidates the cache (sets raw
// to nil) on mutation, rather than truly deferring decode: the fields
// are always decoded eagerly on load, but re-serialization is skipped
// whenever nothing has changed since the last dump.
type Record struct {
	conf         TreeConf
	key          any
	value        []byte // nil when overflowPage != 0
	overflowPage uint32
	raw          []byte // cached dump(); nil after any mutation
}

// newRecord builds a Record from decoded fields (a freshly inserted
// entry, not yet persisted).
func newRecord(conf TreeConf, key any, value []byte, overflowPage uint32) *Record {
	return &Record{conf: conf, key: key, value: value, overflowPage: overflowPage}
}

// loadRecord decodes a Record from its fixed-width on-page bytes.
func loadRecord(conf TreeConf, data []byte) (*Record, error) {
	r := &Record{conf: conf}
	if err := r.load(data); err != nil {
		return nil, err
	}
	r.raw = data
	return r, nil
}

func (r *Record) load(data []byte) error {
	want := r.conf.recordLength()
	if len(data) != want {
		return fmt.Errorf("%w: record length %d, want %d", ErrCorruptFile, len(data), want)
	}
	usedKeyLen := int(binary.LittleEndian.Uint16(data[:usedKeyLengthBytes]))
	if usedKeyLen < 0 || usedKeyLen > int(r.conf.KeySize) {
		return fmt.Errorf("%w: record key length %d out of range", ErrCorruptFile, usedKeyLen)
	}
	endKey := usedKeyLengthBytes + usedKeyLen
	key, err := r.conf.Serializer.Deserialize(data[usedKeyLengthBytes:endKey])
	if err != nil {
		return fmt.Errorf("record key: %w", err)
	}
	r.key = key

	startUsedValueLen := usedKeyLengthBytes + int(r.conf.KeySize)
	endUsedValueLen := startUsedValueLen + usedValueLengthBytes
	usedValueLen := int(binary.LittleEndian.Uint16(data[startUsedValueLen:endUsedValueLen]))
	if usedValueLen < 0 || usedValueLen > int(r.conf.ValueSize) {
		return fmt.Errorf("%w: record value length %d out of range", ErrCorruptFile, usedValueLen)
	}
	endValue := endUsedValueLen + usedValueLen

	startOverflow := endUsedValueLen + int(r.conf.ValueSize)
	endOverflow := startOverflow + pageRefBytes
	overflow := binary.LittleEndian.Uint32(data[startOverflow:endOverflow])
	if overflow != 0 {
		r.overflowPage = overflow
		r.value = nil
	} else {
		r.overflowPage = 0
		r.value = append([]byte(nil), data[endUsedValueLen:endValue]...)
	}
	return nil
}

// Key returns the decoded key.
func (r *Record) Key() any { return r.key }

// Value returns the inline value, or nil if the value lives in an
// overflow chain (see OverflowPage).
func (r *Record) Value() []byte { return r.value }

// OverflowPage returns the first page of the value's overflow chain, or
// 0 if the value is stored inline.
func (r *Record) OverflowPage() uint32 { return r.overflowPage }

// SetValue installs an inline value and clears any overflow reference.
func (r *Record) SetValue(v []byte) {
	r.value = v
	r.overflowPage = 0
	r.raw = nil
}

// SetOverflowPage installs an overflow chain reference and clears the
// inline value.
func (r *Record) SetOverflowPage(page uint32) {
	r.overflowPage = page
	r.value = nil
	r.raw = nil
}

func (r *Record) dump() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	if r.value != nil && r.overflowPage != 0 {
		return nil, fmt.Errorf("%w: record has both inline value and overflow page", ErrInvalidArgument)
	}
	keyBytes, err := r.conf.Serializer.Serialize(r.key, r.conf.KeySize)
	if err != nil {
		return nil, err
	}
	usedKeyLen := len(keyBytes)

	value := r.value
	if r.overflowPage != 0 {
		value = nil
	}
	usedValueLen := len(value)

	buf := make([]byte, r.conf.recordLength())
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(usedKeyLen))
	off += usedKeyLengthBytes
	copy(buf[off:], keyBytes)
	off += int(r.conf.KeySize)
	binary.LittleEndian.PutUint16(buf[off:], uint16(usedValueLen))
	off += usedValueLengthBytes
	copy(buf[off:], value)
	off += int(r.conf.ValueSize)
	binary.LittleEndian.PutUint32(buf[off:], r.overflowPage)

	r.raw = buf
	return buf, nil
}

// Reference is a key plus two child-page pointers inside a Root or
// Internal node (spec §3). Adjacent references within a node satisfy
// refs[i].after == refs[i+1].before (I3).
type Reference struct {
	conf   TreeConf
	key    any
	before uint32
	after  uint32
	raw    []byte
}

func newReference(conf TreeConf, key any, before, after uint32) *Reference {
	return &Reference{conf: conf, key: key, before: before, after: after}
}

func loadReference(conf TreeConf, data []byte) (*Reference, error) {
	r := &Reference{conf: conf}
	if err := r.load(data); err != nil {
		return nil, err
	}
	r.raw = data
	return r, nil
}

func (r *Reference) load(data []byte) error {
	want := r.conf.referenceLength()
	if len(data) != want {
		return fmt.Errorf("%w: reference length %d, want %d", ErrCorruptFile, len(data), want)
	}
	endBefore := pageRefBytes
	r.before = binary.LittleEndian.Uint32(data[:endBefore])

	endUsedKeyLen := endBefore + usedKeyLengthBytes
	usedKeyLen := int(binary.LittleEndian.Uint16(data[endBefore:endUsedKeyLen]))
	if usedKeyLen < 0 || usedKeyLen > int(r.conf.KeySize) {
		return fmt.Errorf("%w: reference key length %d out of range", ErrCorruptFile, usedKeyLen)
	}
	endKey := endUsedKeyLen + usedKeyLen
	key, err := r.conf.Serializer.Deserialize(data[endUsedKeyLen:endKey])
	if err != nil {
		return fmt.Errorf("reference key: %w", err)
	}
	r.key = key

	startAfter := endUsedKeyLen + int(r.conf.KeySize)
	endAfter := startAfter + pageRefBytes
	r.after = binary.LittleEndian.Uint32(data[startAfter:endAfter])
	return nil
}

// Key returns the decoded separator key.
func (r *Reference) Key() any { return r.key }

// Before returns the child page holding keys < Key.
func (r *Reference) Before() uint32 { return r.before }

// After returns the child page holding keys >= Key.
func (r *Reference) After() uint32 { return r.after }

// SetBefore updates the before-pointer (used to fix up neighbors on insert).
func (r *Reference) SetBefore(p uint32) { r.before = p; r.raw = nil }

// SetAfter updates the after-pointer (used to fix up neighbors on insert).
func (r *Reference) SetAfter(p uint32) { r.after = p; r.raw = nil }

func (r *Reference) dump() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	keyBytes, err := r.conf.Serializer.Serialize(r.key, r.conf.KeySize)
	if err != nil {
		return nil, err
	}
	usedKeyLen := len(keyBytes)

	buf := make([]byte, r.conf.referenceLength())
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], r.before)
	off += pageRefBytes
	binary.LittleEndian.PutUint16(buf[off:], uint16(usedKeyLen))
	off += usedKeyLengthBytes
	copy(buf[off:], keyBytes)
	off += int(r.conf.KeySize)
	binary.LittleEndian.PutUint32(buf[off:], r.after)

	r.raw = buf
	return buf, nil
}

// opaqueData holds one chunk of an overflow chain's payload: raw bytes
// occupying the entire remaining payload of an Overflow page.
type opaqueData struct {
	data []byte
}

func (o *opaqueData) dump() ([]byte, error) { return o.data, nil }
