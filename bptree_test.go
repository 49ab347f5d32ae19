package bptree

import (
	"bytes"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
)

func openTestTree(t *testing.T) *BPlusTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	tr, err := Open(path, scenarioOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// P3: every inserted key survives a close/reopen, and nothing else exists.
func TestInsertSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	tr, err := Open(path, scenarioOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := map[int64][]byte{}
	for i := int64(0); i < 200; i++ {
		v := []byte(strconv.FormatInt(i, 10))
		if err := tr.Insert(i, v, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		want[i] = v
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr2, err := Open(path, scenarioOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tr2.Close()

	for k, v := range want {
		got, err := tr2.Get(k, nil)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if !bytes.Equal(got, v) {
			t.Fatalf("Get(%d) = %q, want %q", k, got, v)
		}
	}
	got, err := tr2.Get(int64(9999), []byte("missing"))
	if err != nil {
		t.Fatalf("Get(9999): %v", err)
	}
	if !bytes.Equal(got, []byte("missing")) {
		t.Fatalf("Get(9999) = %q, want the default", got)
	}
}

// P4: Items yields strictly ascending keys.
func TestItemsOrderedAcrossManySplits(t *testing.T) {
	tr := openTestTree(t)
	for i := int64(999); i >= 0; i-- {
		if err := tr.Insert(i, []byte(strconv.FormatInt(i, 10)), false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	items, err := tr.Items(Range{})
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	prev := int64(-1)
	count := 0
	for k, v := range items {
		ik := k.(int64)
		if ik <= prev {
			t.Fatalf("key %d out of order after %d", ik, prev)
		}
		if !bytes.Equal(v, []byte(strconv.FormatInt(ik, 10))) {
			t.Fatalf("value for %d = %q", ik, v)
		}
		prev = ik
		count++
	}
	if count != 1000 {
		t.Fatalf("count = %d, want 1000", count)
	}
}

func TestRangeBounds(t *testing.T) {
	tr := openTestTree(t)
	for i := int64(0); i < 100; i++ {
		if err := tr.Insert(i, []byte(strconv.FormatInt(i, 10)), false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	keys, err := tr.Keys(Range{Start: int64(10), HasStart: true, Stop: int64(20), HasStop: true})
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	var got []int64
	for k := range keys {
		got = append(got, k.(int64))
	}
	if len(got) != 10 {
		t.Fatalf("range [10,20) yielded %d keys, want 10", len(got))
	}
	for i, k := range got {
		if k != int64(10+i) {
			t.Fatalf("range key[%d] = %d, want %d", i, k, 10+i)
		}
	}
}

func TestRangeInvalidBounds(t *testing.T) {
	tr := openTestTree(t)
	_, err := tr.Items(Range{Start: int64(5), HasStart: true, Stop: int64(5), HasStop: true})
	if !errors.Is(err, ErrInvalidSlice) {
		t.Fatalf("equal bounds err = %v, want ErrInvalidSlice", err)
	}
	_, err = tr.Items(Range{Start: int64(9), HasStart: true, Stop: int64(1), HasStop: true})
	if !errors.Is(err, ErrInvalidSlice) {
		t.Fatalf("reversed bounds err = %v, want ErrInvalidSlice", err)
	}
}

func TestContains(t *testing.T) {
	tr := openTestTree(t)
	if err := tr.Insert(int64(1), []byte("x"), false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ok, err := tr.Contains(int64(1))
	if err != nil || !ok {
		t.Fatalf("Contains(1) = %v, %v; want true, nil", ok, err)
	}
	ok, err = tr.Contains(int64(2))
	if err != nil || ok {
		t.Fatalf("Contains(2) = %v, %v; want false, nil", ok, err)
	}
}

func TestItemAccessor(t *testing.T) {
	tr := openTestTree(t)
	if err := tr.Insert(int64(1), []byte("x"), false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := tr.Item(int64(1))
	if err != nil {
		t.Fatalf("Item(1): %v", err)
	}
	if !bytes.Equal(v, []byte("x")) {
		t.Fatalf("Item(1) = %q, want x", v)
	}
	if _, err := tr.Item(int64(2)); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Item(2) err = %v, want ErrKeyNotFound", err)
	}
}

func TestLenExact(t *testing.T) {
	tr := openTestTree(t)
	for i := int64(0); i < 50; i++ {
		if err := tr.Insert(i, []byte("v"), false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	n, err := tr.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 50 {
		t.Fatalf("Len() = %d, want 50", n)
	}
}

func TestOverflowValueRoundTrip(t *testing.T) {
	tr := openTestTree(t)
	big := bytes.Repeat([]byte("z"), 10000)
	if err := tr.Insert(int64(1), big, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := tr.Get(int64(1), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Fatal("large value did not round-trip through overflow chain")
	}
}

func TestBatchInsertOrderViolationLeavesNoPartialState(t *testing.T) {
	tr := openTestTree(t)
	if err := tr.Insert(int64(5), []byte("five"), false); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	batch := []KV{{Key: int64(6), Value: []byte("6")}, {Key: int64(4), Value: []byte("4")}}
	if err := tr.BatchInsert(batch); !errors.Is(err, ErrOrderViolation) {
		t.Fatalf("BatchInsert err = %v, want ErrOrderViolation", err)
	}

	v, err := tr.Get(int64(6), nil)
	if err != nil {
		t.Fatalf("Get(6): %v", err)
	}
	if v != nil {
		t.Fatalf("Get(6) = %q after aborted batch, want nil", v)
	}
	v, err = tr.Get(int64(5), nil)
	if err != nil {
		t.Fatalf("Get(5): %v", err)
	}
	if !bytes.Equal(v, []byte("five")) {
		t.Fatal("seed key lost after aborted batch")
	}
}
