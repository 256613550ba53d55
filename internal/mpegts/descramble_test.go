package mpegts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
)

var testKey = []byte{0x03, 0x02, 0x01, 0x00, 0x07, 0x06, 0x05, 0x04, 0x0B, 0x0A, 0x09, 0x08, 0x0F, 0x0E, 0x0D, 0x0C}

func newTestCipher(t testing.TB) *blockcipher.Context {
	t.Helper()
	c, err := blockcipher.Portable.NewContext(testKey)
	require.NoError(t, err)
	return c
}

func patterned(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*13)
	}
	return b
}

func TestDecryptPacket_PassesThroughClear(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	for _, byte3 := range []byte{0x10, 0x50, 0x30, 0x00} {
		pkt := makePacket(0x100, 0, false, patterned(184, 1))
		pkt[3] = byte3
		orig := append([]byte(nil), pkt...)

		scrambled, err := DecryptPacket(pkt, c)
		require.NoError(t, err)
		assert.False(t, scrambled, "byte3 0x%02X", byte3)
		assert.Equal(t, orig, pkt, "byte3 0x%02X", byte3)
	}
}

func TestDecryptPacket_OddAndEvenKey(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	for _, parity := range []ScramblingControl{OddKey, EvenKey} {
		plain := makePacket(0x44, 3, true, patterned(184, 9))
		pkt := append([]byte(nil), plain...)
		require.NoError(t, EncryptPacket(pkt, c, parity))
		require.Equal(t, byte(parity)<<6|plain[3], pkt[3])
		require.NotEqual(t, plain[4:180], pkt[4:180])

		scrambled, err := DecryptPacket(pkt, c)
		require.NoError(t, err)
		assert.True(t, scrambled)
		assert.Equal(t, plain, pkt, "parity %v", parity)
	}
}

func TestDecryptPacket_ClearsControlBits(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	pkt := makePacket(0x100, 0, false, nil)
	pkt[3] = 0xC0
	_, err := DecryptPacket(pkt, c)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), pkt[3])
}

func TestDecryptPacket_PayloadRegion(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	tests := []struct {
		name      string
		afLen     int
		wantStart int
		wantLen   int
	}{
		{"no_af", -1, 4, 176},
		{"af_7", 7, 12, 176},
		{"af_0", 0, 5, 176},
		{"af_10", 10, 15, 160},
		{"af_180_short_payload", 180, 185, 0},
		{"af_183_no_payload", 183, 188, 0},
		{"af_corrupt", 250, 255, 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var pkt []byte
			if tc.afLen < 0 {
				pkt = makePacket(0x100, 0, false, nil)
			} else {
				pkt = makePacketWithAF(0x100, 0, tc.afLen, nil)
				pkt[3] |= 0x10
			}
			copy(pkt[4:], patterned(184, 0x21))
			if tc.afLen >= 0 {
				pkt[4] = byte(tc.afLen)
			}
			pkt[3] |= 0xC0
			in := append([]byte(nil), pkt...)

			scrambled, err := DecryptPacket(pkt, c)
			require.NoError(t, err)
			require.True(t, scrambled)

			start := min(tc.wantStart, PacketSize)
			end := start + tc.wantLen
			assert.Equal(t, in[0], pkt[0])
			assert.Equal(t, in[3]&0x3F, pkt[3])
			assert.Equal(t, in[4:start], pkt[4:start], "header and adaptation field must be untouched")
			assert.Equal(t, in[end:], pkt[end:], "trailing partial block must be bit-identical")

			want := make([]byte, tc.wantLen)
			require.NoError(t, c.DecryptBlocks(want, in[start:end]))
			assert.Equal(t, want, pkt[start:end])
		})
	}
}

func TestDecryptPacket_InvalidSync(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)
	pkt := makePacket(0x100, 0, false, nil)
	pkt[0] = 0x48
	pkt[3] = 0xC0
	orig := append([]byte(nil), pkt...)

	_, err := DecryptPacket(pkt, c)
	assert.ErrorIs(t, err, ErrInvalidSync)
	assert.Equal(t, orig, pkt)
}

func TestDecryptPacket_BothBackendsAgree(t *testing.T) {
	t.Parallel()
	hw, err := blockcipher.Hardware.NewContext(testKey)
	require.NoError(t, err)
	sw := newTestCipher(t)

	pkt := makePacketWithAF(0x100, 0, 3, patterned(176, 5))
	pkt[3] |= 0xC0
	a := append([]byte(nil), pkt...)
	b := append([]byte(nil), pkt...)

	_, err = DecryptPacket(a, hw)
	require.NoError(t, err)
	_, err = DecryptPacket(b, sw)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func FuzzDecryptPacket(f *testing.F) {
	pkt := makePacket(0x100, 0, true, nil)
	pkt[3] = 0xD0
	f.Add(pkt)

	afPkt := makePacketWithAF(0x100, 0, 7, []byte{1})
	afPkt[3] |= 0x80
	f.Add(afPkt)

	c := newTestCipher(f)
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != PacketSize {
			return
		}
		orig := append([]byte(nil), data...)
		scrambled, err := DecryptPacket(data, c)
		if err != nil || !scrambled {
			if !bytes.Equal(orig, data) {
				t.Fatal("packet modified without being descrambled")
			}
		}
	})
}
