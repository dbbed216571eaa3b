package classifier

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/backend/cpu"
	"github.com/rs/zerolog/log"
)

// Device names a compute target.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
)

// SelectDevice returns the backend for the requested device. "auto" prefers
// an accelerator and falls back to the CPU; this build only ships the pure
// Go CPU backend, so every accepted preference resolves to it.
func SelectDevice(pref string) (*cpu.Backend, Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(pref))) {
	case DeviceAuto, "":
		log.Info().Msg("no accelerator backend available, using cpu")
		return cpu.New(), DeviceCPU, nil
	case DeviceCPU:
		return cpu.New(), DeviceCPU, nil
	default:
		return nil, "", fmt.Errorf("unsupported device %q (expected auto or cpu)", pref)
	}
}
