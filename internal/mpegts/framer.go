package mpegts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
	"github.com/zsiec/drmdecrypt/internal/packetbuf"
)

// maxSyncAttempts bounds the refills spent looking for sync before the
// recording is rejected.
const maxSyncAttempts = 10

// State is the framer state.
type State int

// Framer states.
const (
	SeekingSync State = iota
	Streaming
	End
)

func (s State) String() string {
	switch s {
	case SeekingSync:
		return "seeking"
	case Streaming:
		return "streaming"
	case End:
		return "end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats summarises one framer run.
type Stats struct {
	Packets   int64 // packets decoded while in sync
	Scrambled int64 // packets that were descrambled
	Resyncs   int64 // times sync was lost mid-stream
	Skipped   int64 // bytes copied through while out of sync
	FirstSync int64 // input offset of the first packet boundary, -1 if none
	BytesIn   int64
	BytesOut  int64
}

// Framer aligns on packet boundaries within a Buffer and descrambles each
// packet in place, resyncing whenever alignment is lost. A Framer runs
// once; it is not safe for concurrent use.
type Framer struct {
	log    *slog.Logger
	buf    *packetbuf.Buffer
	cipher *blockcipher.Context
	state  State
	synced bool
	stats  Stats
}

// NewFramer creates a Framer over buf using c to descramble packets. If log
// is nil, slog.Default() is used.
func NewFramer(buf *packetbuf.Buffer, c *blockcipher.Context, log *slog.Logger) *Framer {
	if log == nil {
		log = slog.Default()
	}
	return &Framer{
		log:    log.With("component", "framer"),
		buf:    buf,
		cipher: c,
		state:  SeekingSync,
		stats:  Stats{FirstSync: -1},
	}
}

// State returns the current state.
func (f *Framer) State() State { return f.state }

// Stats returns the counters accumulated so far.
func (f *Framer) Stats() Stats {
	s := f.stats
	s.BytesIn = f.buf.BytesRead()
	s.BytesOut = f.buf.BytesWritten()
	return s
}

// Run drives the framer until the input is exhausted and all output has
// been flushed, or until an error occurs. The context is checked before
// every refill.
func (f *Framer) Run(ctx context.Context) (Stats, error) {
	for f.state != End {
		var err error
		switch f.state {
		case SeekingSync:
			err = f.seek(ctx)
		case Streaming:
			err = f.stream(ctx)
		}
		if err != nil {
			return f.Stats(), err
		}
	}
	return f.Stats(), nil
}

// offset returns the input offset of the consume cursor.
func (f *Framer) offset() int64 {
	return f.buf.BytesRead() - int64(f.buf.Available())
}

func (f *Framer) seek(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.buf.Fill(); err != nil {
			return err
		}

		avail := f.buf.Available()
		if !f.buf.EOF() && avail < syncLookahead*PacketSize {
			return fmt.Errorf("mpegts: sync lookahead needs %d bytes, %d buffered", syncLookahead*PacketSize, avail)
		}

		window, err := f.buf.Window(avail)
		if err != nil {
			return err
		}
		if i := FindSync(window); i >= 0 {
			at := f.offset() + int64(i)
			if err := f.skip(i); err != nil {
				return err
			}
			if !f.synced {
				f.stats.FirstSync = at
			}
			f.synced = true
			f.state = Streaming
			f.log.Info("synced", "offset", at, "attempt", attempt)
			return nil
		}

		// Offsets in the last syncSpan-1 bytes cannot be tested yet; keep
		// them for the next refill.
		n := max(0, avail-(syncSpan-1))
		if f.buf.EOF() {
			n = avail
		}
		if err := f.skip(n); err != nil {
			return err
		}

		if f.buf.EOF() {
			if !f.synced {
				return fmt.Errorf("%w: no packet boundary in %d bytes", ErrSyncNotFound, f.buf.BytesRead())
			}
			f.log.Warn("sync not reacquired before end of input", "offset", f.offset())
			f.state = End
			return f.buf.Flush(true)
		}
		if attempt >= maxSyncAttempts {
			return fmt.Errorf("%w: gave up after %d refills at offset %d", ErrSyncNotFound, attempt, f.offset())
		}
		if err := f.buf.Flush(false); err != nil {
			return err
		}
	}
}

// skip copies n unsynced bytes through to the output unmodified.
func (f *Framer) skip(n int) error {
	if err := f.buf.Advance(n); err != nil {
		return err
	}
	f.stats.Skipped += int64(n)
	return nil
}

func (f *Framer) stream(ctx context.Context) error {
	for {
		for f.buf.Available() >= PacketSize {
			if b, _ := f.buf.At(0); b != SyncByte {
				f.stats.Resyncs++
				f.log.Warn("lost sync", "offset", f.offset(), "byte", fmt.Sprintf("0x%02X", b))
				f.state = SeekingSync
				return f.buf.Flush(false)
			}

			pkt, err := f.buf.Window(PacketSize)
			if err != nil {
				return err
			}
			f.trace(ctx, pkt)

			scrambled, err := DecryptPacket(pkt, f.cipher)
			if err != nil {
				return fmt.Errorf("mpegts: packet at offset %d: %w", f.offset(), err)
			}
			f.stats.Packets++
			if scrambled {
				f.stats.Scrambled++
			}
			if err := f.buf.Advance(PacketSize); err != nil {
				return err
			}
		}

		if f.buf.EOF() {
			if tail := f.buf.Available(); tail > 0 {
				f.log.Debug("copying trailing partial packet", "bytes", tail)
				if err := f.skip(tail); err != nil {
					return err
				}
			}
			f.state = End
			return f.buf.Flush(true)
		}

		if err := f.buf.Flush(false); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.buf.Fill(); err != nil {
			return err
		}
	}
}

func (f *Framer) trace(ctx context.Context, pkt []byte) {
	if !f.log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	h, err := ParseHeader(pkt)
	if err != nil {
		return
	}
	attrs := []any{
		"offset", f.offset(),
		"pid", h.PID,
		"tei", h.TransportErrorIndicator,
		"pusi", h.PayloadUnitStartIndicator,
		"priority", h.TransportPriority,
		"scrambling", h.Scrambling,
		"adaptation", h.HasAdaptationField,
		"payload", h.HasPayload,
		"cc", h.ContinuityCounter,
	}
	if h.HasAdaptationField {
		attrs = append(attrs, "af_length", int(h.AdaptationFieldLength)+1)
	}
	f.log.Debug("packet", attrs...)
}
