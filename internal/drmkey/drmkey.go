// Package drmkey reads the per-recording AES key from the sidecar .mdb key
// file written by the recorder.
package drmkey

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
)

const (
	// Size is the key length in bytes.
	Size = 16

	// keyOffset is where the key starts inside the key file.
	keyOffset = 8
)

// Sentinel errors for key acquisition.
var (
	ErrKeyFileNotFound = errors.New("drmkey: key file not found")
	ErrShortRead       = errors.New("drmkey: short read while reading key")
)

// FileError records the key file that failed and why.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// position maps source index j to its place in the key. The recorder
// stores each 4-byte group reversed; group order is preserved.
func position(j int) int {
	return (j & 0xC) | (3 - (j & 3))
}

// Extract reads the permuted key stored at offset 8 of r.
func Extract(r io.ReaderAt) ([Size]byte, error) {
	var raw, key [Size]byte
	n, err := r.ReadAt(raw[:], keyOffset)
	if n < Size {
		if err == nil || errors.Is(err, io.EOF) {
			return key, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, Size)
		}
		return key, err
	}
	for j := 0; j < Size; j++ {
		key[position(j)] = raw[j]
	}
	clear(raw[:])
	return key, nil
}

// Encode returns a key file image holding key, the inverse of Extract.
func Encode(key [Size]byte) []byte {
	out := make([]byte, keyOffset+Size)
	for j := 0; j < Size; j++ {
		out[keyOffset+j] = key[position(j)]
	}
	return out
}

// Hex formats the key the way it is traced for diagnostics.
func Hex(key [Size]byte) string {
	var sb strings.Builder
	for i, b := range key {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// Read loads the key from the key file at path and expands it for backend.
// The raw key bytes are wiped once the schedule has been built. If log is
// nil, slog.Default() is used.
func Read(path string, backend blockcipher.Backend, log *slog.Logger) (*blockcipher.Context, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "drmkey")

	f, err := os.Open(path)
	if err != nil {
		log.Error("key file not found", "file", filepath.Base(path), "error", err)
		return nil, &FileError{Path: path, Err: ErrKeyFileNotFound}
	}
	defer f.Close()

	key, err := Extract(f)
	defer clear(key[:])
	if err != nil {
		log.Error("short read while reading DRM key", "file", filepath.Base(path), "error", err)
		return nil, &FileError{Path: path, Err: err}
	}

	log.Info("drm key successfully read", "file", filepath.Base(path))
	log.Info("drm key", "key", Hex(key))

	ctx, err := backend.NewContext(key[:])
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return ctx, nil
}
