package padding_test

import (
	"bytes"
	"crypto/rand"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"parley/internal/crypto/padding"
	"parley/internal/domain"
)

func TestPadmeLength_KnownValues(t *testing.T) {
	for in, want := range map[int]int{
		0: 0, 4: 4, 5: 5, 9: 10, 17: 18, 33: 36, 65: 72, 129: 144, 257: 272, 65537: 67584,
	} {
		require.Equal(t, want, padding.PadmeLength(in), "PadmeLength(%d)", in)
	}
}

func TestPad_RoundTripAndOverheadBound(t *testing.T) {
	lengths := []int{0, 1, 2, 3, 15, 16, 100, 255, 256, 1000, 4096, 40000, padding.MaxMessageSize}
	for l := 0; l < 600; l++ {
		lengths = append(lengths, l)
	}
	for _, l := range lengths {
		x := make([]byte, l)
		_, err := rand.Read(x)
		require.NoError(t, err)

		p, err := padding.Pad(x)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(p), l+2)
		require.LessOrEqual(t, len(p), int(math.Ceil(1.12*float64(l+2))), "len %d", l)

		got, err := padding.Unpad(p)
		require.NoError(t, err)
		require.True(t, bytes.Equal(x, got), "round trip for len %d", l)
	}
}

func TestPad_RejectsOversize(t *testing.T) {
	_, err := padding.Pad(make([]byte, padding.MaxMessageSize+1))
	require.True(t, errors.Is(err, domain.ErrMessageTooLarge))
}

func TestUnpad_RejectsMalformed(t *testing.T) {
	_, err := padding.Unpad([]byte{0x01})
	require.True(t, errors.Is(err, domain.ErrDecryption))

	_, err = padding.Unpad([]byte{0x00, 0x09, 'a', 'b'})
	require.True(t, errors.Is(err, domain.ErrDecryption))
}
