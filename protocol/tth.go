package protocol

import (
	"encoding/base32"
	"errors"
	"fmt"
)

// TTHSize is the raw length of a Tiger-tree root hash.
const TTHSize = 24

// TTHStringLen is the length of the unpadded base32 form used on the wire.
const TTHStringLen = 39

var tthEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidTTH is returned for hashes that are not 39 base32 characters.
var ErrInvalidTTH = errors.New("protocol: invalid TTH root")

// TTH is a Tiger-tree root hash, the content identifier used by both dialects.
type TTH [TTHSize]byte

// ParseTTH decodes the 39-character base32 wire form.
func ParseTTH(s string) (TTH, error) {
	var t TTH
	if len(s) != TTHStringLen {
		return t, fmt.Errorf("%w: length %d", ErrInvalidTTH, len(s))
	}
	raw, err := tthEncoding.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidTTH, err)
	}
	copy(t[:], raw)
	return t, nil
}

func (t TTH) String() string {
	return tthEncoding.EncodeToString(t[:])
}

// IsZero reports whether the hash is the all-zero value.
func (t TTH) IsZero() bool {
	return t == TTH{}
}
