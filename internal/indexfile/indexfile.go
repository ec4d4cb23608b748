// Package indexfile decodes the binary archive index format.
//
// An index file lists, for one archive, which content key lives at which
// offset and size. The file is a sequence of fixed 24-byte records followed
// by a 12-byte footer; the little-endian record count sits at the start of
// the footer. Record fields are big-endian.
package indexfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// KeySize is the length of a content key in bytes.
	KeySize = 16

	// RecordSize is the encoded size of one index record.
	RecordSize = KeySize + 8

	// footerSize is the trailer at the end of every index file. Only the
	// leading 4 bytes (the record count) are consumed here.
	footerSize = 12
)

// ErrFormat is returned when an index file is structurally invalid.
var ErrFormat = errors.New("casc: malformed index")

// Record is one decoded index entry.
type Record struct {
	// Key is the raw 16-byte content key.
	Key [KeySize]byte

	// Archive indexes into the configured archive list.
	Archive int

	// Size is the content length in bytes.
	Size uint32

	// Offset is the byte position of the content within the archive.
	Offset uint32
}

// Parse decodes an index file into its records, tagging each with the given
// archive position.
//
// Some index files carry a spurious all-zero 16-byte group before a record's
// real key; a single zero group is skipped and the following 16 bytes are
// read as the key. Two consecutive zero groups fail with [ErrFormat], as does
// a record count that cannot fit in the file.
func Parse(data []byte, archive int) ([]Record, error) {
	if len(data) < footerSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a footer", ErrFormat, len(data))
	}
	count := binary.LittleEndian.Uint32(data[len(data)-footerSize:])
	if int64(count)*RecordSize > int64(len(data)) {
		return nil, fmt.Errorf("%w: %d records exceed %d byte file", ErrFormat, count, len(data))
	}

	records := make([]Record, 0, count)
	pos := 0
	for i := uint32(0); i < count; i++ {
		key, next, err := readKey(data, pos, i)
		if err != nil {
			return nil, err
		}
		pos = next
		if pos+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated at record %d", ErrFormat, i)
		}
		records = append(records, Record{
			Key:     key,
			Archive: archive,
			Size:    binary.BigEndian.Uint32(data[pos:]),
			Offset:  binary.BigEndian.Uint32(data[pos+4:]),
		})
		pos += 8
	}
	return records, nil
}

// readKey reads the key of record i at pos, skipping a single all-zero
// padding group. It returns the key and the position after it.
func readKey(data []byte, pos int, i uint32) ([KeySize]byte, int, error) {
	var key [KeySize]byte
	if pos+KeySize > len(data) {
		return key, 0, fmt.Errorf("%w: truncated at record %d", ErrFormat, i)
	}
	copy(key[:], data[pos:pos+KeySize])
	pos += KeySize
	if key != ([KeySize]byte{}) {
		return key, pos, nil
	}

	// Zero group: the real key follows.
	if pos+KeySize > len(data) {
		return key, 0, fmt.Errorf("%w: truncated at record %d", ErrFormat, i)
	}
	copy(key[:], data[pos:pos+KeySize])
	pos += KeySize
	if key == ([KeySize]byte{}) {
		return key, 0, fmt.Errorf("%w: consecutive zero keys at record %d", ErrFormat, i)
	}
	return key, pos, nil
}
