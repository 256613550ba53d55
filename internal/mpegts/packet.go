package mpegts

import "fmt"

const (
	// PacketSize is the length of one transport stream packet.
	PacketSize = 188
	// SyncByte starts every packet.
	SyncByte = 0x47

	headerSize = 4

	scramblingMask = 0xC0
	adaptationFlag = 0x20
	payloadFlag    = 0x10
)

// ParseHeader decodes the header of the packet in buf.
func ParseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) != PacketSize {
		return h, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != SyncByte {
		return h, fmt.Errorf("%w: 0x%02X", ErrInvalidSync, buf[0])
	}

	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.TransportPriority = buf[1]&0x20 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.Scrambling = ScramblingControl(buf[3]&scramblingMask) >> 6
	h.HasAdaptationField = buf[3]&adaptationFlag != 0
	h.HasPayload = buf[3]&payloadFlag != 0
	h.ContinuityCounter = buf[3] & 0x0F

	if h.HasAdaptationField {
		h.AdaptationFieldLength = buf[headerSize]
	}
	return h, nil
}
