// Package tsutil builds synthetic scrambled recordings for tests and the
// gen-recording tool: PES packetization, packet scrambling and the .mdb and
// .inf sidecar images.
package tsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
	"github.com/zsiec/drmdecrypt/internal/drmkey"
	"github.com/zsiec/drmdecrypt/internal/mpegts"
	"github.com/zsiec/drmdecrypt/internal/recording"
)

// TSPacketSize is the fixed size of an MPEG-TS packet.
const TSPacketSize = mpegts.PacketSize

// infSize is the length of the .inf header the recorder writes.
const infSize = 0x200

// BuildPES wraps esData in a PES packet for streamID carrying a 90 kHz PTS.
func BuildPES(streamID byte, pts int64, esData []byte) []byte {
	hdr := []byte{
		0x00, 0x00, 0x01, streamID,
		0x00, 0x00, // length, set below
		0x80,       // marker bits
		0x80,       // PTS only
		0x05,       // header data length
		byte(0x21 | (pts>>29)&0x0E),
		byte(pts >> 22),
		byte(0x01 | (pts>>14)&0xFE),
		byte(pts >> 7),
		byte(0x01 | (pts<<1)&0xFE),
	}
	pes := append(hdr, esData...)
	if n := len(pes) - 6; n <= 0xFFFF {
		pes[4] = byte(n >> 8)
		pes[5] = byte(n)
	}
	return pes
}

// Packetize splits pesData into 188-byte TS packets on the given PID,
// incrementing the continuity counter cc between packets. The last packet
// is padded with an adaptation field so payload offsets vary.
func Packetize(pesData []byte, pid uint16, cc *byte) []byte {
	var result []byte
	offset := 0
	first := true

	for offset < len(pesData) {
		var pkt [TSPacketSize]byte
		pkt[0] = mpegts.SyncByte
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F

		remaining := len(pesData) - offset
		capacity := TSPacketSize - 4

		if remaining < capacity {
			stuffLen := capacity - remaining
			pkt[3] |= 0x20
			pkt[4] = byte(stuffLen - 1)
			if stuffLen > 1 {
				pkt[5] = 0
				for i := 6; i < 4+stuffLen; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[4+stuffLen:], pesData[offset:])
			offset = len(pesData)
		} else {
			copy(pkt[4:], pesData[offset:offset+capacity])
			offset += capacity
		}

		result = append(result, pkt[:]...)
	}

	return result
}

// Stream packetizes n PES packets of esSize bytes on pid. The payload is a
// deterministic pattern so decrypted output can be compared byte for byte.
func Stream(pid uint16, n, esSize int) []byte {
	var out []byte
	cc := byte(0)
	for i := 0; i < n; i++ {
		es := make([]byte, esSize)
		for j := range es {
			es[j] = byte(i*31 + j*7)
		}
		out = append(out, Packetize(BuildPES(0xE0, int64(i)*3003, es), pid, &cc)...)
	}
	return out
}

// Scramble encrypts every packet of the aligned stream ts in place whose
// index is a multiple of every, alternating the even and odd parity bits.
// It returns the number of packets scrambled.
func Scramble(ts []byte, c *blockcipher.Context, every int) (int, error) {
	if every <= 0 {
		every = 1
	}
	n := 0
	for i, off := 0, 0; off+TSPacketSize <= len(ts); i, off = i+1, off+TSPacketSize {
		if i%every != 0 {
			continue
		}
		parity := mpegts.EvenKey
		if n%2 == 1 {
			parity = mpegts.OddKey
		}
		if err := mpegts.EncryptPacket(ts[off:off+TSPacketSize], c, parity); err != nil {
			return n, fmt.Errorf("packet %d: %w", i, err)
		}
		n++
	}
	return n, nil
}

// Insert returns a copy of ts with junk inserted at byte offset at, which
// knocks every following packet off its boundary.
func Insert(ts []byte, at int, junk []byte) []byte {
	out := make([]byte, 0, len(ts)+len(junk))
	out = append(out, ts[:at]...)
	out = append(out, junk...)
	return append(out, ts[at:]...)
}

// KeyFile returns an .mdb image holding key, padded the way the recorder
// pads it.
func KeyFile(key [drmkey.Size]byte) []byte {
	return append(drmkey.Encode(key), make([]byte, 8)...)
}

// InfFile returns a 512-byte .inf image with channel and title stored as
// big-endian UTF-16 in the two halves of the header.
func InfFile(channel, title string) []byte {
	inf := make([]byte, infSize)
	putUTF16(inf[:infSize/2], channel)
	putUTF16(inf[infSize/2:], title)
	return inf
}

func putUTF16(dst []byte, s string) {
	for i := 0; i < len(s) && 2*i+1 < len(dst); i++ {
		dst[2*i+1] = s[i]
	}
}

// Recording describes a synthetic recording on disk.
type Recording struct {
	Dir     string
	Name    string // base name without extension
	Key     [drmkey.Size]byte
	Channel string
	Title   string
	NoInf   bool
	Data    []byte // scrambled .srf contents
}

// Write creates the .srf, .mdb and (unless NoInf) .inf files and returns
// their paths.
func (r Recording) Write() (recording.Files, error) {
	files := recording.Sidecars(filepath.Join(r.Dir, r.Name+".srf"))
	if err := os.WriteFile(files.Recording, r.Data, 0o644); err != nil {
		return files, err
	}
	if err := os.WriteFile(files.Key, KeyFile(r.Key), 0o644); err != nil {
		return files, err
	}
	if !r.NoInf {
		if err := os.WriteFile(files.Metadata, InfFile(r.Channel, r.Title), 0o644); err != nil {
			return files, err
		}
	}
	return files, nil
}

// FileExists returns true if the path exists (and is stat-able).
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
