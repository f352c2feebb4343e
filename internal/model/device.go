package model

import "fmt"

// Device is the compute device the session runs on.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// SelectDevice picks the device from the configured preference ("auto",
// "cpu" or "cuda") and whether an accelerator is usable. It is called once at
// startup; the result is part of the immutable model handle.
func SelectDevice(preference string, acceleratorAvailable func() bool) (Device, error) {
	switch preference {
	case "cpu":
		return DeviceCPU, nil
	case "cuda":
		if !acceleratorAvailable() {
			return "", fmt.Errorf("device cuda requested but the CUDA execution provider is not available")
		}
		return DeviceCUDA, nil
	case "", "auto":
		if acceleratorAvailable() {
			return DeviceCUDA, nil
		}
		return DeviceCPU, nil
	default:
		return "", fmt.Errorf("unknown device %q", preference)
	}
}
