package bptree

import (
	"bytes"
	"testing"
)

func testConf() TreeConf {
	return TreeConf{PageSize: 4096, Order: 4, KeySize: 16, ValueSize: 16, Serializer: IntSerializer{}}
}

// P1: record round-trip.
func TestRecordRoundTrip(t *testing.T) {
	conf := testConf()
	r := newRecord(conf, int64(42), []byte("hello"), 0)
	buf, err := r.dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(buf) != conf.recordLength() {
		t.Fatalf("dump length %d, want %d", len(buf), conf.recordLength())
	}

	r2, err := loadRecord(conf, buf)
	if err != nil {
		t.Fatalf("loadRecord: %v", err)
	}
	if r2.Key() != int64(42) {
		t.Fatalf("key = %v, want 42", r2.Key())
	}
	if !bytes.Equal(r2.Value(), []byte("hello")) {
		t.Fatalf("value = %q, want hello", r2.Value())
	}
	if r2.OverflowPage() != 0 {
		t.Fatalf("overflow page = %d, want 0", r2.OverflowPage())
	}
}

func TestRecordOverflowRoundTrip(t *testing.T) {
	conf := testConf()
	r := newRecord(conf, int64(7), nil, 99)
	buf, err := r.dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	r2, err := loadRecord(conf, buf)
	if err != nil {
		t.Fatalf("loadRecord: %v", err)
	}
	if r2.Value() != nil {
		t.Fatalf("value = %v, want nil", r2.Value())
	}
	if r2.OverflowPage() != 99 {
		t.Fatalf("overflow page = %d, want 99", r2.OverflowPage())
	}
}

func TestRecordSetValueInvalidatesRaw(t *testing.T) {
	conf := testConf()
	r := newRecord(conf, int64(1), []byte("a"), 0)
	buf1, _ := r.dump()
	r.SetValue([]byte("bb"))
	buf2, _ := r.dump()
	if bytes.Equal(buf1, buf2) {
		t.Fatal("dump did not change after SetValue")
	}
	r2, err := loadRecord(conf, buf2)
	if err != nil {
		t.Fatalf("loadRecord: %v", err)
	}
	if !bytes.Equal(r2.Value(), []byte("bb")) {
		t.Fatalf("value = %q, want bb", r2.Value())
	}
}

// P1: reference round-trip.
func TestReferenceRoundTrip(t *testing.T) {
	conf := testConf()
	ref := newReference(conf, int64(10), 3, 4)
	buf, err := ref.dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(buf) != conf.referenceLength() {
		t.Fatalf("dump length %d, want %d", len(buf), conf.referenceLength())
	}

	ref2, err := loadReference(conf, buf)
	if err != nil {
		t.Fatalf("loadReference: %v", err)
	}
	if ref2.Key() != int64(10) || ref2.Before() != 3 || ref2.After() != 4 {
		t.Fatalf("reference mismatch: %+v", ref2)
	}
}

func TestReferenceSetBeforeAfterInvalidatesRaw(t *testing.T) {
	conf := testConf()
	ref := newReference(conf, int64(1), 1, 2)
	buf1, _ := ref.dump()
	ref.SetAfter(5)
	buf2, _ := ref.dump()
	if bytes.Equal(buf1, buf2) {
		t.Fatal("dump did not change after SetAfter")
	}
}
