// Package blockcipher provides the AES block primitive used to descramble
// recordings. Two interchangeable backends compute identical results: a
// portable table-driven implementation and the hardware-accelerated
// crypto/aes implementation. The backend is chosen once per process with
// [Select] and passed explicitly to every [Context].
package blockcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// BlockSize is the AES block size in bytes.
const BlockSize = 16

// Sentinel errors returned by the engine.
var (
	ErrInvalidKeySize = errors.New("blockcipher: key must be 16, 24 or 32 bytes")
	ErrInvalidLength  = errors.New("blockcipher: length is not a multiple of the block size")
	ErrClosed         = errors.New("blockcipher: context is closed")
)

// Backend identifies an AES implementation.
type Backend int

// Available backends.
const (
	Portable Backend = iota
	Hardware
)

func (b Backend) String() string {
	switch b {
	case Portable:
		return "portable"
	case Hardware:
		return "aes-ni"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Select returns Hardware when the CPU exposes AES instructions and
// disableHardware is false, otherwise Portable.
func Select(disableHardware bool) Backend {
	if !disableHardware && HasHardwareAES() {
		return Hardware
	}
	return Portable
}

// Context is an expanded AES key schedule bound to one backend. A Context
// is not safe for concurrent use.
type Context struct {
	backend Backend
	rounds  int
	key     []byte

	// portable schedules
	enc []uint32
	dec []uint32

	// hardware cipher
	block cipher.Block
}

// NewContext expands key for this backend.
func (b Backend) NewContext(key []byte) (*Context, error) {
	rounds, err := roundsFor(len(key))
	if err != nil {
		return nil, err
	}

	c := &Context{
		backend: b,
		rounds:  rounds,
		key:     append([]byte(nil), key...),
	}

	switch b {
	case Hardware:
		block, err := aes.NewCipher(c.key)
		if err != nil {
			return nil, fmt.Errorf("blockcipher: %w", err)
		}
		c.block = block
	case Portable:
		c.enc, c.dec = expandKey(c.key, rounds)
	default:
		return nil, fmt.Errorf("blockcipher: unknown %v", b)
	}
	return c, nil
}

func roundsFor(keyLen int) (int, error) {
	switch keyLen {
	case 16:
		return 10, nil
	case 24:
		return 12, nil
	case 32:
		return 14, nil
	}
	return 0, fmt.Errorf("%w: got %d", ErrInvalidKeySize, keyLen)
}

// Backend reports which implementation the context uses.
func (c *Context) Backend() Backend { return c.backend }

// Rounds reports the number of AES rounds of the schedule.
func (c *Context) Rounds() int { return c.rounds }

// EncryptBlock encrypts exactly one block from src into dst.
func (c *Context) EncryptBlock(dst, src []byte) {
	if c.block != nil {
		c.block.Encrypt(dst, src)
		return
	}
	if c.enc == nil {
		panic(ErrClosed)
	}
	encryptBlock(c.enc, dst, src)
}

// DecryptBlock decrypts exactly one block from src into dst.
func (c *Context) DecryptBlock(dst, src []byte) {
	if c.block != nil {
		c.block.Decrypt(dst, src)
		return
	}
	if c.dec == nil {
		panic(ErrClosed)
	}
	decryptBlock(c.dec, dst, src)
}

// DecryptBlocks decrypts src into dst one block at a time. The recorders
// label this mode "AES-128-CBC", but no IV or chaining is applied: every
// block decrypts independently, which is what real recordings require.
func (c *Context) DecryptBlocks(dst, src []byte) error {
	if len(src)%BlockSize != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, len(src))
	}
	if len(dst) < len(src) {
		return fmt.Errorf("blockcipher: output buffer %d smaller than input %d", len(dst), len(src))
	}
	for i := 0; i < len(src); i += BlockSize {
		c.DecryptBlock(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return nil
}

// EncryptBlocks is the inverse of DecryptBlocks.
func (c *Context) EncryptBlocks(dst, src []byte) error {
	if len(src)%BlockSize != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, len(src))
	}
	if len(dst) < len(src) {
		return fmt.Errorf("blockcipher: output buffer %d smaller than input %d", len(dst), len(src))
	}
	for i := 0; i < len(src); i += BlockSize {
		c.EncryptBlock(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return nil
}

// Close zeroes the key material held by the context. crypto/aes keeps its
// schedule in memory the process cannot reach, so for the hardware backend
// only the retained root key is wiped and the cipher is dropped.
func (c *Context) Close() {
	clear(c.key)
	clear(c.enc)
	clear(c.dec)
	c.key, c.enc, c.dec, c.block = nil, nil, nil, nil
}
