// Package testutil provides helpers for building archive index fixtures in
// tests.
package testutil

import "encoding/binary"

// IndexRecord describes one entry to encode into a test index file.
type IndexRecord struct {
	Key    [16]byte
	Size   uint32
	Offset uint32
}

// BuildIndex encodes records in the binary index format: 24-byte records
// (16-byte key, big-endian size, big-endian offset) followed by a 12-byte
// footer whose leading 4 bytes hold the little-endian record count.
func BuildIndex(records ...IndexRecord) []byte {
	var buf []byte
	for _, rec := range records {
		buf = append(buf, rec.Key[:]...)
		buf = binary.BigEndian.AppendUint32(buf, rec.Size)
		buf = binary.BigEndian.AppendUint32(buf, rec.Offset)
	}
	footer := make([]byte, 12)
	binary.LittleEndian.PutUint32(footer, uint32(len(records)))
	return append(buf, footer...)
}
