package inference

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Device selects where inference runs.
type Device string

const (
	// DeviceCPU runs on the general-purpose processor.
	DeviceCPU Device = "cpu"
	// DeviceCUDA runs on an NVIDIA GPU through CUDA.
	DeviceCUDA Device = "cuda"
	// DeviceAuto picks CUDA when a GPU is visible, CPU otherwise.
	DeviceAuto Device = "auto"
)

// ParseDevice parses "cpu", "cuda" or "auto" (case-insensitive; empty
// means auto).
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceAuto, nil
	case DeviceCPU, DeviceCUDA, DeviceAuto:
		return d, nil
	default:
		return "", errors.Errorf("unknown device %q (want cpu, cuda or auto)", s)
	}
}

// gpuVisible reports whether a CUDA device is visible to the process.
var gpuVisible = func() bool {
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok && (v == "" || v == "-1") {
		return false
	}
	_, err := os.Stat("/dev/nvidiactl")
	return err == nil
}

// Resolve turns DeviceAuto into a concrete device. It is called once when
// a classifier is created; the device is fixed afterwards.
func (d Device) Resolve() Device {
	if d != DeviceAuto && d != "" {
		return d
	}
	if gpuVisible() {
		return DeviceCUDA
	}
	return DeviceCPU
}
