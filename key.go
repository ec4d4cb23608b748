package casc

import (
	"encoding/hex"
	"fmt"
)

// KeySize is the length of a content key in bytes.
const KeySize = 16

// Key is a fixed-size content hash naming a piece of content independent of
// where it is stored. Keys compare by value, so they can be used directly as
// map keys.
type Key [KeySize]byte

// ParseKey decodes a 32-character hex string into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != KeySize*2 {
		return k, fmt.Errorf("casc: key %q must be %d hex characters", s, KeySize*2)
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, fmt.Errorf("casc: key %q: %v", s, err)
	}
	return k, nil
}

// Hex returns the lower-case hex rendering used for URL and path construction.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// String implements fmt.Stringer for logging.
func (k Key) String() string {
	return k.Hex()
}

// IsZero reports whether the key is the all-zero sentinel value, which never
// names real content.
func (k Key) IsZero() bool {
	return k == Key{}
}
