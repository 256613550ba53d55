package blockcipher

import "golang.org/x/sys/cpu"

// HasHardwareAES reports whether the CPU implements the AES round
// instructions that crypto/aes dispatches to.
func HasHardwareAES() bool {
	return cpu.X86.HasAES || cpu.ARM64.HasAES || cpu.S390X.HasAES
}
