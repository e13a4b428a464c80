package gepcrypto

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport reports whether the CPU supports AES hardware
// acceleration, using CPU feature detection from golang.org/x/sys/cpu.
// Go's crypto/aes already dispatches to hardware AES transparently when
// available, so this is diagnostic only; outside HardwareInfo nothing in
// this module calls it.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}

// HardwareInfo returns diagnostic fields describing the crypto runtime
// environment. No endpoint or log in this module reports it.
func HardwareInfo() map[string]interface{} {
	return map[string]interface{}{
		"aes_hardware_support": HasAESHardwareSupport(),
		"architecture":         runtime.GOARCH,
		"goos":                 runtime.GOOS,
		"go_version":           runtime.Version(),
	}
}
