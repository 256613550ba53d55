// Package mpegts locates 188-byte transport stream packets inside a
// recording and strips the recorder's AES scrambling from them. It reads
// only the packet header and adaptation field length; PES and PSI payloads
// are never interpreted.
package mpegts

import "fmt"

// ScramblingControl is the 2-bit transport_scrambling_control field.
type ScramblingControl uint8

// Scrambling control values. Both key parities are descrambled with the
// same recording key.
const (
	NotScrambled ScramblingControl = 0b00
	Reserved     ScramblingControl = 0b01
	EvenKey      ScramblingControl = 0b10
	OddKey       ScramblingControl = 0b11
)

// Scrambled reports whether the payload is encrypted.
func (s ScramblingControl) Scrambled() bool {
	return s == EvenKey || s == OddKey
}

func (s ScramblingControl) String() string {
	switch s {
	case NotScrambled:
		return "clear"
	case Reserved:
		return "reserved"
	case EvenKey:
		return "even"
	case OddKey:
		return "odd"
	default:
		return fmt.Sprintf("scrambling(%d)", uint8(s))
	}
}

// Header contains the parsed header fields of a transport stream packet.
type Header struct {
	PID                       uint16
	ContinuityCounter         uint8
	Scrambling                ScramblingControl
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	TransportPriority         bool

	// AdaptationFieldLength is the value of the length byte; zero when
	// HasAdaptationField is false.
	AdaptationFieldLength uint8
}

// PayloadOffset returns the offset of the first payload byte: the 4-byte
// header plus the adaptation field and its length byte. The result can
// exceed PacketSize when the length byte is corrupt.
func (h Header) PayloadOffset() int {
	offset := headerSize
	if h.HasAdaptationField {
		offset += 1 + int(h.AdaptationFieldLength)
	}
	return offset
}
