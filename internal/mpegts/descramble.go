package mpegts

import (
	"fmt"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
)

// DecryptPacket descrambles one packet in place. Packets that are not
// scrambled are left untouched and false is returned. For scrambled packets
// the scrambling control bits are cleared and every whole 16-byte block
// after the adaptation field is decrypted; a trailing partial block is left
// as is because the recorder does not pad it.
func DecryptPacket(pkt []byte, c *blockcipher.Context) (bool, error) {
	h, err := ParseHeader(pkt)
	if err != nil {
		return false, err
	}
	if !h.Scrambling.Scrambled() {
		return false, nil
	}

	var tmp [PacketSize]byte
	copy(tmp[:], pkt)
	tmp[3] &^= scramblingMask

	if offset := h.PayloadOffset(); offset < PacketSize {
		n := (PacketSize - offset) / blockcipher.BlockSize * blockcipher.BlockSize
		if err := c.DecryptBlocks(tmp[offset:offset+n], pkt[offset:offset+n]); err != nil {
			return false, fmt.Errorf("mpegts: decrypt PID 0x%04X: %w", h.PID, err)
		}
	}

	copy(pkt, tmp[:])
	return true, nil
}

// EncryptPacket is the inverse of DecryptPacket: it encrypts the whole
// payload blocks and marks the packet with the given key parity.
func EncryptPacket(pkt []byte, c *blockcipher.Context, parity ScramblingControl) error {
	h, err := ParseHeader(pkt)
	if err != nil {
		return err
	}
	if offset := h.PayloadOffset(); offset < PacketSize {
		n := (PacketSize - offset) / blockcipher.BlockSize * blockcipher.BlockSize
		if err := c.EncryptBlocks(pkt[offset:offset+n], pkt[offset:offset+n]); err != nil {
			return fmt.Errorf("mpegts: encrypt PID 0x%04X: %w", h.PID, err)
		}
	}
	pkt[3] = pkt[3]&^scramblingMask | byte(parity)<<6
	return nil
}
