// Package recording locates the sidecar files that accompany a .srf
// recording and derives the decrypted output file name from the .inf
// metadata file.
package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sidecar file extensions.
const (
	KeyExt      = ".mdb"
	MetadataExt = ".inf"
	OutputExt   = ".ts"
)

// infSize is the length of the .inf header the title is read from.
const infSize = 0x200

// titleBoundary is the last UTF-16 low byte of the channel name field.
const titleBoundary = 0xFF

var (
	ErrMetadataNotFound  = errors.New("recording: metadata file not found")
	ErrMetadataShortRead = errors.New("recording: short read while reading metadata")
)

// Files names a recording and its sidecars.
type Files struct {
	Recording string // the scrambled .srf capture
	Key       string // .mdb key file
	Metadata  string // .inf metadata file
}

// Sidecars derives the key and metadata paths for a recording by
// replacing its extension. A path without an extension gets one appended.
func Sidecars(srfPath string) Files {
	base := stripExt(srfPath)
	return Files{
		Recording: srfPath,
		Key:       base + KeyExt,
		Metadata:  base + MetadataExt,
	}
}

// FallbackName is the output path used when no title can be read:
// the recording's base name with a .ts extension, inside outDir.
func FallbackName(outDir, srfPath string) string {
	return filepath.Join(outDir, stripExt(filepath.Base(srfPath))+OutputExt)
}

// OutputName reads the .inf file at infPath and builds
// "<inf base name>-<channel>_-_<title>.ts".
func OutputName(infPath string) (string, error) {
	f, err := os.Open(infPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMetadataNotFound, infPath, err)
	}
	defer f.Close()

	title, err := ReadTitle(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", infPath, err)
	}
	return stripExt(filepath.Base(infPath)) + "-" + title + OutputExt, nil
}

// ReadTitle reads the metadata header from r and returns the channel name
// and programme title joined by "_-_", reduced to characters that are safe
// in a file name.
func ReadTitle(r io.Reader) (string, error) {
	var inf [infSize]byte
	if n, err := io.ReadFull(r, inf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", fmt.Errorf("%w: got %d of %d bytes", ErrMetadataShortRead, n, infSize)
		}
		return "", err
	}
	return mapTitle(inf[:]), nil
}

// mapTitle keeps the low byte of each UTF-16BE code unit. Alphanumerics
// are copied, anything else non-zero becomes '_'.
func mapTitle(inf []byte) string {
	var sb strings.Builder
	for i := 1; i < len(inf); i += 2 {
		if c := inf[i]; c != 0 {
			if isAlnum(c) {
				sb.WriteByte(c)
			} else {
				sb.WriteByte('_')
			}
		}
		if i == titleBoundary {
			sb.WriteString("_-_")
		}
	}
	return sb.String()
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

func stripExt(p string) string {
	return strings.TrimSuffix(p, filepath.Ext(p))
}
