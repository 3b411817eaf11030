// Package padding implements Padmé length-hiding padding.
//
// A padded buffer is a 2-byte big-endian length prefix, the content, then
// zero fill up to PadmeLength(len(content)+2). Padmé leaks O(log log L) bits
// of the length and adds at most about 12% overhead.
package padding

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

const (
	prefixLen = 2

	// MaxMessageSize is the largest content the 2-byte prefix can frame.
	MaxMessageSize = 1<<16 - 1
)

// PadmeLength returns the padded length for an object of length l.
func PadmeLength(l int) int {
	if l <= 4 {
		return l
	}
	e := bits.Len(uint(l)) - 1 // floor(log2 l)
	s := bits.Len(uint(e))     // floor(log2 e) + 1
	mask := (1 << (e - s)) - 1
	return (l + mask) &^ mask
}

// Pad frames and pads data. The result is a fresh buffer.
func Pad(data []byte) ([]byte, error) {
	if len(data) > MaxMessageSize {
		return nil, errors.Wrapf(domain.ErrMessageTooLarge, "%d bytes, max %d", len(data), MaxMessageSize)
	}
	out := make([]byte, PadmeLength(len(data)+prefixLen))
	binary.BigEndian.PutUint16(out, uint16(len(data)))
	copy(out[prefixLen:], data)
	return out, nil
}

// Unpad returns the content of a padded buffer. The result aliases padded.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < prefixLen {
		return nil, errors.Wrap(domain.ErrDecryption, "padding: short buffer")
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n > len(padded)-prefixLen {
		return nil, errors.Wrapf(domain.ErrDecryption, "padding: length %d exceeds buffer", n)
	}
	return padded[prefixLen : prefixLen+n], nil
}
