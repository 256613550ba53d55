package blockcipher

import (
	"encoding/binary"
	"math/bits"
)

// Lookup tables for the table-driven implementation, generated at init
// from the GF(2^8) definition of the S-box (FIPS-197 section 5.1.1).
var (
	sbox, invSbox      [256]byte
	te0, te1, te2, te3 [256]uint32
	td0, td1, td2, td3 [256]uint32
	rcon               [15]uint32
)

func init() {
	var inv [256]byte
	for a := 1; a < 256; a++ {
		for b := 1; b < 256; b++ {
			if gmul(byte(a), byte(b)) == 1 {
				inv[a] = byte(b)
				break
			}
		}
	}

	for x := 0; x < 256; x++ {
		b := inv[x]
		s := b ^ bits.RotateLeft8(b, 1) ^ bits.RotateLeft8(b, 2) ^
			bits.RotateLeft8(b, 3) ^ bits.RotateLeft8(b, 4) ^ 0x63
		sbox[x] = s
		invSbox[s] = byte(x)
	}

	for x := 0; x < 256; x++ {
		s := sbox[x]
		w := uint32(gmul(s, 2))<<24 | uint32(s)<<16 | uint32(s)<<8 | uint32(gmul(s, 3))
		te0[x] = w
		te1[x] = bits.RotateLeft32(w, -8)
		te2[x] = bits.RotateLeft32(w, -16)
		te3[x] = bits.RotateLeft32(w, -24)

		si := invSbox[x]
		w = uint32(gmul(si, 0x0e))<<24 | uint32(gmul(si, 0x09))<<16 |
			uint32(gmul(si, 0x0d))<<8 | uint32(gmul(si, 0x0b))
		td0[x] = w
		td1[x] = bits.RotateLeft32(w, -8)
		td2[x] = bits.RotateLeft32(w, -16)
		td3[x] = bits.RotateLeft32(w, -24)
	}

	p := byte(1)
	for i := range rcon {
		rcon[i] = uint32(p) << 24
		p = gmul(p, 2)
	}
}

// gmul multiplies in GF(2^8) modulo x^8 + x^4 + x^3 + x + 1.
func gmul(a, b byte) byte {
	var p byte
	for b != 0 {
		if b&1 != 0 {
			p ^= a
		}
		hi := a & 0x80
		a <<= 1
		if hi != 0 {
			a ^= 0x1b
		}
		b >>= 1
	}
	return p
}

func subWord(w uint32) uint32 {
	return uint32(sbox[w>>24])<<24 |
		uint32(sbox[w>>16&0xff])<<16 |
		uint32(sbox[w>>8&0xff])<<8 |
		uint32(sbox[w&0xff])
}

// expandKey builds the encryption and equivalent-inverse decryption
// schedules for a key of 4, 6 or 8 words.
func expandKey(key []byte, rounds int) (enc, dec []uint32) {
	nk := len(key) / 4
	n := (rounds + 1) * 4

	enc = make([]uint32, n)
	for i := 0; i < nk; i++ {
		enc[i] = binary.BigEndian.Uint32(key[4*i:])
	}
	for i := nk; i < n; i++ {
		t := enc[i-1]
		switch {
		case i%nk == 0:
			t = subWord(bits.RotateLeft32(t, 8)) ^ rcon[i/nk-1]
		case nk > 6 && i%nk == 4:
			t = subWord(t)
		}
		enc[i] = enc[i-nk] ^ t
	}

	// Reverse the round order and apply InvMixColumns to the inner round
	// keys. td*[sbox[x]] is InvMixColumns of a single byte column.
	dec = make([]uint32, n)
	for i := 0; i < n; i += 4 {
		ei := n - i - 4
		for j := 0; j < 4; j++ {
			x := enc[ei+j]
			if i > 0 && i+4 < n {
				x = td0[sbox[x>>24]] ^ td1[sbox[x>>16&0xff]] ^
					td2[sbox[x>>8&0xff]] ^ td3[sbox[x&0xff]]
			}
			dec[i+j] = x
		}
	}
	return enc, dec
}

func encryptBlock(xk []uint32, dst, src []byte) {
	_ = src[15]
	_ = dst[15]

	s0 := binary.BigEndian.Uint32(src[0:4]) ^ xk[0]
	s1 := binary.BigEndian.Uint32(src[4:8]) ^ xk[1]
	s2 := binary.BigEndian.Uint32(src[8:12]) ^ xk[2]
	s3 := binary.BigEndian.Uint32(src[12:16]) ^ xk[3]

	k := 4
	nr := len(xk)/4 - 2
	for r := 0; r < nr; r++ {
		t0 := xk[k+0] ^ te0[s0>>24] ^ te1[s1>>16&0xff] ^ te2[s2>>8&0xff] ^ te3[s3&0xff]
		t1 := xk[k+1] ^ te0[s1>>24] ^ te1[s2>>16&0xff] ^ te2[s3>>8&0xff] ^ te3[s0&0xff]
		t2 := xk[k+2] ^ te0[s2>>24] ^ te1[s3>>16&0xff] ^ te2[s0>>8&0xff] ^ te3[s1&0xff]
		t3 := xk[k+3] ^ te0[s3>>24] ^ te1[s0>>16&0xff] ^ te2[s1>>8&0xff] ^ te3[s2&0xff]
		k += 4
		s0, s1, s2, s3 = t0, t1, t2, t3
	}

	// Last round: SubBytes and ShiftRows only.
	t0 := uint32(sbox[s0>>24])<<24 | uint32(sbox[s1>>16&0xff])<<16 | uint32(sbox[s2>>8&0xff])<<8 | uint32(sbox[s3&0xff])
	t1 := uint32(sbox[s1>>24])<<24 | uint32(sbox[s2>>16&0xff])<<16 | uint32(sbox[s3>>8&0xff])<<8 | uint32(sbox[s0&0xff])
	t2 := uint32(sbox[s2>>24])<<24 | uint32(sbox[s3>>16&0xff])<<16 | uint32(sbox[s0>>8&0xff])<<8 | uint32(sbox[s1&0xff])
	t3 := uint32(sbox[s3>>24])<<24 | uint32(sbox[s0>>16&0xff])<<16 | uint32(sbox[s1>>8&0xff])<<8 | uint32(sbox[s2&0xff])

	binary.BigEndian.PutUint32(dst[0:4], t0^xk[k+0])
	binary.BigEndian.PutUint32(dst[4:8], t1^xk[k+1])
	binary.BigEndian.PutUint32(dst[8:12], t2^xk[k+2])
	binary.BigEndian.PutUint32(dst[12:16], t3^xk[k+3])
}

func decryptBlock(xk []uint32, dst, src []byte) {
	_ = src[15]
	_ = dst[15]

	s0 := binary.BigEndian.Uint32(src[0:4]) ^ xk[0]
	s1 := binary.BigEndian.Uint32(src[4:8]) ^ xk[1]
	s2 := binary.BigEndian.Uint32(src[8:12]) ^ xk[2]
	s3 := binary.BigEndian.Uint32(src[12:16]) ^ xk[3]

	k := 4
	nr := len(xk)/4 - 2
	for r := 0; r < nr; r++ {
		t0 := xk[k+0] ^ td0[s0>>24] ^ td1[s3>>16&0xff] ^ td2[s2>>8&0xff] ^ td3[s1&0xff]
		t1 := xk[k+1] ^ td0[s1>>24] ^ td1[s0>>16&0xff] ^ td2[s3>>8&0xff] ^ td3[s2&0xff]
		t2 := xk[k+2] ^ td0[s2>>24] ^ td1[s1>>16&0xff] ^ td2[s0>>8&0xff] ^ td3[s3&0xff]
		t3 := xk[k+3] ^ td0[s3>>24] ^ td1[s2>>16&0xff] ^ td2[s1>>8&0xff] ^ td3[s0&0xff]
		k += 4
		s0, s1, s2, s3 = t0, t1, t2, t3
	}

	t0 := uint32(invSbox[s0>>24])<<24 | uint32(invSbox[s3>>16&0xff])<<16 | uint32(invSbox[s2>>8&0xff])<<8 | uint32(invSbox[s1&0xff])
	t1 := uint32(invSbox[s1>>24])<<24 | uint32(invSbox[s0>>16&0xff])<<16 | uint32(invSbox[s3>>8&0xff])<<8 | uint32(invSbox[s2&0xff])
	t2 := uint32(invSbox[s2>>24])<<24 | uint32(invSbox[s1>>16&0xff])<<16 | uint32(invSbox[s0>>8&0xff])<<8 | uint32(invSbox[s3&0xff])
	t3 := uint32(invSbox[s3>>24])<<24 | uint32(invSbox[s2>>16&0xff])<<16 | uint32(invSbox[s1>>8&0xff])<<8 | uint32(invSbox[s0&0xff])

	binary.BigEndian.PutUint32(dst[0:4], t0^xk[k+0])
	binary.BigEndian.PutUint32(dst[4:8], t1^xk[k+1])
	binary.BigEndian.PutUint32(dst[8:12], t2^xk[k+2])
	binary.BigEndian.PutUint32(dst[12:16], t3^xk[k+3])
}
