// Command gen-recording writes synthetic scrambled recordings (.srf with
// .mdb and .inf sidecars) under a known key, together with the plaintext
// each should decrypt to and a JSON manifest describing them.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
	"github.com/zsiec/drmdecrypt/internal/drmkey"
	"github.com/zsiec/drmdecrypt/test/tools/tsutil"
)

type RecordingConfig struct {
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	Title     string `json:"title"`
	PES       int    `json:"pes"`
	ESSize    int    `json:"esSize"`
	Every     int    `json:"scrambleEvery"`
	LeadJunk  int    `json:"leadJunk"`
	GlitchAt  int    `json:"glitchAtPacket,omitempty"`
	NoInf     bool   `json:"noInf,omitempty"`
	Scrambled int    `json:"scrambledPackets"`
}

type Manifest struct {
	Generated  string            `json:"generated"`
	Key        string            `json:"key"`
	Recordings []RecordingConfig `json:"recordings"`
}

var recordings = []RecordingConfig{
	{Name: "clean", Channel: "Das Erste HD", Title: "Tagesschau", PES: 200, ESSize: 1500, Every: 1},
	{Name: "mixed", Channel: "arte", Title: "Doku: Alpen", PES: 200, ESSize: 900, Every: 3},
	{Name: "offset", Channel: "ZDF", Title: "heute", PES: 100, ESSize: 1200, Every: 1, LeadJunk: 77},
	{Name: "glitch", Channel: "3sat", Title: "Kulturzeit", PES: 150, ESSize: 1000, Every: 2, GlitchAt: 120},
	{Name: "untitled", PES: 50, ESSize: 600, Every: 1, NoInf: true},
}

const defaultKey = "000102030405060708090a0b0c0d0e0f"

func main() {
	outDir := flag.String("out", filepath.Join("test", "recordings"), "output directory")
	keyHex := flag.String("key", defaultKey, "AES-128 key as 32 hex digits")
	flag.Parse()

	key, err := parseKey(*keyHex)
	if err != nil {
		fatal("%v", err)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fatal("create output dir: %v", err)
	}

	c, err := blockcipher.Portable.NewContext(key[:])
	if err != nil {
		fatal("cipher: %v", err)
	}
	defer c.Close()

	fmt.Println("=== drmdecrypt Recording Generator ===")
	fmt.Printf("Writing %d recordings to %s\n\n", len(recordings), *outDir)

	for i, rc := range recordings {
		n, err := generate(*outDir, key, c, &rc)
		if err != nil {
			fatal("%s: %v", rc.Name, err)
		}
		recordings[i] = rc
		fmt.Printf("  %-10s %6d packets, %6d scrambled\n", rc.Name, n, rc.Scrambled)
	}

	manifest := Manifest{
		Generated:  time.Now().UTC().Format(time.RFC3339),
		Key:        drmkey.Hex(key),
		Recordings: recordings,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		fatal("marshal manifest: %v", err)
	}
	manifestPath := filepath.Join(*outDir, "manifest.json")
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		fatal("write manifest: %v", err)
	}
	fmt.Printf("\nManifest: %s\n", manifestPath)
}

// generate writes one recording and its expected plaintext (<name>.plain.ts)
// and returns the number of packets in the stream.
func generate(dir string, key [drmkey.Size]byte, c *blockcipher.Context, rc *RecordingConfig) (int, error) {
	plain := tsutil.Stream(0x100, rc.PES, rc.ESSize)
	data := append([]byte(nil), plain...)

	n, err := tsutil.Scramble(data, c, rc.Every)
	if err != nil {
		return 0, err
	}
	rc.Scrambled = n

	if rc.GlitchAt > 0 {
		at := rc.GlitchAt * tsutil.TSPacketSize
		if at > len(data) {
			return 0, fmt.Errorf("glitch packet %d past end of stream", rc.GlitchAt)
		}
		junk := []byte{0x00, 0x11, 0x22}
		data = tsutil.Insert(data, at, junk)
		plain = tsutil.Insert(plain, at, junk)
	}
	if rc.LeadJunk > 0 {
		junk := make([]byte, rc.LeadJunk)
		for i := range junk {
			junk[i] = byte(0x80 + i%0x40)
		}
		data = tsutil.Insert(data, 0, junk)
		plain = tsutil.Insert(plain, 0, junk)
	}

	_, err = tsutil.Recording{
		Dir:     dir,
		Name:    rc.Name,
		Key:     key,
		Channel: rc.Channel,
		Title:   rc.Title,
		NoInf:   rc.NoInf,
		Data:    data,
	}.Write()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(dir, rc.Name+".plain.ts"), plain, 0644); err != nil {
		return 0, err
	}
	return len(plain) / tsutil.TSPacketSize, nil
}

func parseKey(s string) ([drmkey.Size]byte, error) {
	var key [drmkey.Size]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("key: %w", err)
	}
	if len(b) != drmkey.Size {
		return key, fmt.Errorf("key: need %d bytes, got %d", drmkey.Size, len(b))
	}
	copy(key[:], b)
	return key, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
