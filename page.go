package bptree

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// crcTable is the Castagnoli CRC32 table, matching the checksum the
// teacher's pager uses for its own page headers.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// setPageCRC computes the checksum of buf[:len(buf)-crcBytes] and writes
// it into the trailing crcBytes of buf. This is an ambient
// corruption-detection layer on top of the format in spec §3 (see
// SPEC_FULL.md "Supplemental ambient layer"); it lives inside the page's
// zero-padded tail and never changes used_page_length semantics.
func setPageCRC(buf []byte) {
	n := len(buf)
	sum := crc32.Checksum(buf[:n-crcBytes], crcTable)
	binary.LittleEndian.PutUint32(buf[n-crcBytes:], sum)
}

// verifyPageCRC checks the trailing checksum written by setPageCRC.
func verifyPageCRC(buf []byte) error {
	n := len(buf)
	want := binary.LittleEndian.Uint32(buf[n-crcBytes:])
	got := crc32.Checksum(buf[:n-crcBytes], crcTable)
	if want != got {
		return fmt.Errorf("%w: checksum mismatch (want %08x, got %08x)", ErrCorruptFile, want, got)
	}
	return nil
}

// Metadata page (page 0) layout, spec §3:
//
//	offset 0:  root_node_page      (4 B)
//	offset 4:  page_size           (4 B)
//	offset 8:  order               (4 B)
//	offset 12: key_size            (4 B)
//	offset 16: value_size          (4 B)
//	offset 20: freelist_start_page (4 B)
//	remainder: zero padding to P bytes, with a trailing CRC (see above).
const (
	metaOffRootPage     = 0
	metaOffPageSize      = 4
	metaOffOrder         = 8
	metaOffKeySize       = 12
	metaOffValueSize     = 16
	metaOffFreelistStart = 20
	metaFieldsSize       = 24
)

// metadata is the decoded contents of the metadata page.
type metadata struct {
	rootPage     uint32
	pageSize     uint32
	order        uint32
	keySize      uint32
	valueSize    uint32
	freelistHead uint32
}

func encodeMetadata(m metadata) []byte {
	buf := make([]byte, m.pageSize)
	binary.LittleEndian.PutUint32(buf[metaOffRootPage:], m.rootPage)
	binary.LittleEndian.PutUint32(buf[metaOffPageSize:], m.pageSize)
	binary.LittleEndian.PutUint32(buf[metaOffOrder:], m.order)
	binary.LittleEndian.PutUint32(buf[metaOffKeySize:], m.keySize)
	binary.LittleEndian.PutUint32(buf[metaOffValueSize:], m.valueSize)
	binary.LittleEndian.PutUint32(buf[metaOffFreelistStart:], m.freelistHead)
	setPageCRC(buf)
	return buf
}

func decodeMetadata(buf []byte) (metadata, error) {
	if len(buf) < metaFieldsSize+crcBytes {
		return metadata{}, fmt.Errorf("%w: metadata page too short", ErrCorruptFile)
	}
	if err := verifyPageCRC(buf); err != nil {
		return metadata{}, err
	}
	return metadata{
		rootPage:     binary.LittleEndian.Uint32(buf[metaOffRootPage:]),
		pageSize:     binary.LittleEndian.Uint32(buf[metaOffPageSize:]),
		order:        binary.LittleEndian.Uint32(buf[metaOffOrder:]),
		keySize:      binary.LittleEndian.Uint32(buf[metaOffKeySize:]),
		valueSize:    binary.LittleEndian.Uint32(buf[metaOffValueSize:]),
		freelistHead: binary.LittleEndian.Uint32(buf[metaOffFreelistStart:]),
	}, nil
}
