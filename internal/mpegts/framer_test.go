package mpegts

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/drmdecrypt/internal/packetbuf"
)

var smallBuffer = packetbuf.Options{
	Capacity:  PacketSize * 8,
	ReadSize:  PacketSize * 2,
	WriteSize: PacketSize,
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func garbage(n int) []byte {
	return bytes.Repeat([]byte{0xAA}, n)
}

// stream holds a scrambled input next to the output the framer must
// produce for it.
type stream struct {
	in, want bytes.Buffer
}

func (s *stream) clear(t *testing.T, pid uint16, cc uint8) {
	t.Helper()
	pkt := makePacket(pid, cc, false, patterned(184, byte(cc)))
	s.in.Write(pkt)
	s.want.Write(pkt)
}

func (s *stream) scrambled(t *testing.T, pid uint16, cc uint8) {
	t.Helper()
	plain := makePacket(pid, cc, false, patterned(184, byte(cc)+0x40))
	pkt := append([]byte(nil), plain...)
	require.NoError(t, EncryptPacket(pkt, newTestCipher(t), OddKey))
	s.in.Write(pkt)
	s.want.Write(plain)
}

func (s *stream) raw(b []byte) {
	s.in.Write(b)
	s.want.Write(b)
}

func runFramer(t *testing.T, r io.Reader, opts packetbuf.Options) ([]byte, Stats, error) {
	t.Helper()
	var out bytes.Buffer
	buf, err := packetbuf.New(r, &out, opts)
	require.NoError(t, err)
	defer buf.Release()

	f := NewFramer(buf, newTestCipher(t), quietLogger())
	stats, err := f.Run(context.Background())
	if err == nil {
		assert.Equal(t, End, f.State())
	}
	return out.Bytes(), stats, err
}

func TestFindSync(t *testing.T) {
	t.Parallel()
	b := garbage(50 + 3*PacketSize)
	b[50], b[50+PacketSize], b[50+2*PacketSize] = SyncByte, SyncByte, SyncByte
	assert.Equal(t, 50, FindSync(b))

	// Two in a row is not enough.
	b[50+2*PacketSize] = 0
	assert.Equal(t, -1, FindSync(b))

	assert.Equal(t, -1, FindSync(nil))
	assert.Equal(t, -1, FindSync(make([]byte, syncSpan-1)))

	exact := make([]byte, syncSpan)
	exact[0], exact[PacketSize], exact[2*PacketSize] = SyncByte, SyncByte, SyncByte
	assert.Equal(t, 0, FindSync(exact))
}

func TestFramer_SyncAtOffset50(t *testing.T) {
	t.Parallel()
	var s stream
	s.raw(garbage(50))
	s.clear(t, 0x100, 0)
	s.scrambled(t, 0x100, 1)
	s.clear(t, 0x100, 2)

	for name, opts := range map[string]packetbuf.Options{"default": {}, "small": smallBuffer} {
		opts := opts
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			out, stats, err := runFramer(t, bytes.NewReader(s.in.Bytes()), opts)
			require.NoError(t, err)
			assert.Equal(t, int64(50), stats.FirstSync)
			assert.Equal(t, int64(3), stats.Packets)
			assert.Equal(t, int64(1), stats.Scrambled)
			assert.Equal(t, int64(50), stats.Skipped)
			assert.Equal(t, s.want.Bytes(), out)
		})
	}
}

func TestFramer_EndToEnd(t *testing.T) {
	t.Parallel()
	var s stream
	s.scrambled(t, 0x100, 0)
	s.clear(t, 0x100, 1)
	s.clear(t, 0x101, 0)

	out, stats, err := runFramer(t, bytes.NewReader(s.in.Bytes()), packetbuf.Options{})
	require.NoError(t, err)
	require.Len(t, out, 3*PacketSize)

	assert.Equal(t, s.want.Bytes(), out)
	assert.Equal(t, s.in.Bytes()[PacketSize:], out[PacketSize:], "clear packets must be byte-identical")
	assert.Equal(t, int64(0), stats.FirstSync)
	assert.Equal(t, int64(3), stats.Packets)
	assert.Equal(t, int64(1), stats.Scrambled)
	assert.Equal(t, int64(3*PacketSize), stats.BytesIn)
	assert.Equal(t, int64(3*PacketSize), stats.BytesOut)
}

func TestFramer_ResyncRecovery(t *testing.T) {
	t.Parallel()
	var s stream
	for cc := uint8(0); cc < 5; cc++ {
		s.scrambled(t, 0x100, cc)
	}
	s.raw([]byte{0x00, 0x13})
	for cc := uint8(5); cc < 12; cc++ {
		if cc%2 == 0 {
			s.clear(t, 0x100, cc)
		} else {
			s.scrambled(t, 0x100, cc)
		}
	}

	readers := map[string]func() io.Reader{
		"plain":    func() io.Reader { return bytes.NewReader(s.in.Bytes()) },
		"one_byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(s.in.Bytes())) },
	}
	for name, mk := range readers {
		for optName, opts := range map[string]packetbuf.Options{"default": {}, "small": smallBuffer} {
			opts := opts
			t.Run(name+"/"+optName, func(t *testing.T) {
				t.Parallel()
				out, stats, err := runFramer(t, mk(), opts)
				require.NoError(t, err)
				assert.Equal(t, s.want.Bytes(), out)
				assert.Equal(t, int64(1), stats.Resyncs)
				assert.Equal(t, int64(2), stats.Skipped)
				assert.Equal(t, int64(12), stats.Packets)
				assert.Equal(t, int64(9), stats.Scrambled)
				assert.Equal(t, int64(s.in.Len()), stats.BytesOut)
			})
		}
	}
}

func TestFramer_FalseSyncCandidate(t *testing.T) {
	t.Parallel()
	var s stream
	lead := garbage(700)
	lead[10], lead[10+PacketSize] = SyncByte, SyncByte
	s.raw(lead)
	s.scrambled(t, 0x200, 0)
	s.scrambled(t, 0x200, 1)
	s.scrambled(t, 0x200, 2)

	out, stats, err := runFramer(t, bytes.NewReader(s.in.Bytes()), smallBuffer)
	require.NoError(t, err)
	assert.Equal(t, int64(700), stats.FirstSync)
	assert.Equal(t, s.want.Bytes(), out)
}

func TestFramer_TrailingPartialPacket(t *testing.T) {
	t.Parallel()
	var s stream
	s.scrambled(t, 0x100, 0)
	s.scrambled(t, 0x100, 1)
	s.scrambled(t, 0x100, 2)
	s.raw(patterned(100, 3))

	out, stats, err := runFramer(t, bytes.NewReader(s.in.Bytes()), smallBuffer)
	require.NoError(t, err)
	assert.Equal(t, s.want.Bytes(), out)
	assert.Equal(t, int64(100), stats.Skipped)
	assert.Equal(t, int64(3), stats.Packets)
}

func TestFramer_LostSyncNearEnd(t *testing.T) {
	t.Parallel()
	var s stream
	s.scrambled(t, 0x100, 0)
	s.scrambled(t, 0x100, 1)
	s.scrambled(t, 0x100, 2)

	// Fewer than three packets follow the glitch, so sync cannot be
	// confirmed again and the rest is copied through as is.
	tail := &stream{}
	tail.scrambled(t, 0x100, 3)
	tail.scrambled(t, 0x100, 4)
	rest := append([]byte{0x00}, tail.in.Bytes()...)
	s.raw(rest)

	out, stats, err := runFramer(t, bytes.NewReader(s.in.Bytes()), smallBuffer)
	require.NoError(t, err)
	assert.Equal(t, s.want.Bytes(), out)
	assert.Equal(t, int64(1), stats.Resyncs)
	assert.Equal(t, int64(3), stats.Packets)
	assert.Equal(t, int64(len(rest)), stats.Skipped)
}

func TestFramer_NoSync(t *testing.T) {
	t.Parallel()
	_, stats, err := runFramer(t, bytes.NewReader(garbage(5000)), smallBuffer)
	assert.ErrorIs(t, err, ErrSyncNotFound)
	assert.Equal(t, int64(-1), stats.FirstSync)
}

func TestFramer_EmptyInput(t *testing.T) {
	t.Parallel()
	_, _, err := runFramer(t, bytes.NewReader(nil), smallBuffer)
	assert.ErrorIs(t, err, ErrSyncNotFound)
}

func TestFramer_SyncBudgetExhausted(t *testing.T) {
	t.Parallel()
	var s stream
	s.raw(garbage(50_000))
	s.clear(t, 0x100, 0)
	s.clear(t, 0x100, 1)
	s.clear(t, 0x100, 2)

	_, _, err := runFramer(t, bytes.NewReader(s.in.Bytes()), smallBuffer)
	require.ErrorIs(t, err, ErrSyncNotFound)
	assert.Contains(t, err.Error(), "10 refills")
}

func TestFramer_ManyPacketsAcrossRefills(t *testing.T) {
	t.Parallel()
	var s stream
	s.raw(garbage(17))
	for i := 0; i < 200; i++ {
		if i%3 == 0 {
			s.clear(t, uint16(0x100+i%4), uint8(i))
		} else {
			s.scrambled(t, uint16(0x100+i%4), uint8(i))
		}
	}

	out, stats, err := runFramer(t, iotest.HalfReader(bytes.NewReader(s.in.Bytes())), smallBuffer)
	require.NoError(t, err)
	assert.Equal(t, s.want.Bytes(), out)
	assert.Equal(t, int64(200), stats.Packets)
	assert.Equal(t, int64(0), stats.Resyncs)
}

func TestFramer_ContextCancelled(t *testing.T) {
	t.Parallel()
	var s stream
	s.clear(t, 0x100, 0)
	s.clear(t, 0x100, 1)
	s.clear(t, 0x100, 2)

	buf, err := packetbuf.New(bytes.NewReader(s.in.Bytes()), io.Discard, smallBuffer)
	require.NoError(t, err)
	defer buf.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFramer(buf, newTestCipher(t), quietLogger())
	_, err = f.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, SeekingSync, f.State())
}

func TestFramer_DebugTrace(t *testing.T) {
	t.Parallel()
	var s stream
	s.clear(t, 0x100, 0)
	s.scrambled(t, 0x100, 1)
	s.clear(t, 0x100, 2)

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var out bytes.Buffer
	buf, err := packetbuf.New(bytes.NewReader(s.in.Bytes()), &out, packetbuf.Options{})
	require.NoError(t, err)
	_, err = NewFramer(buf, newTestCipher(t), log).Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "scrambling=odd")
	assert.Contains(t, logs.String(), "pid=256")
	assert.Contains(t, logs.String(), "synced")
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "seeking", SeekingSync.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "end", End.String())
	assert.Equal(t, "state(9)", State(9).String())
}
