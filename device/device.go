// Package device defines the interface an I/O-port device implements,
// and kvmdos's one concrete device: a throttle that answers every
// unmapped port with a sleep instead of a real peripheral model.
package device

import (
	"errors"
	"fmt"
)

// errDataLenInvalid is returned by CheckSize when a handler is called
// with a data slice whose length does not match the device's declared
// port size.
var errDataLenInvalid = errors.New("invalid data size on port")

// IODevice describes the interface an I/O-port device must implement,
// regardless of how many ports it answers for (§4.5 rule 2: kvmdos
// has exactly one device, spanning every port).
type IODevice interface {
	Read(uint64, []byte) error
	Write(uint64, []byte) error
	IOPort() uint64
	Size() uint64
}

// CheckSize validates that data's length matches want, the device's
// declared access width; device implementations that care about
// per-access size (unlike ThrottleDevice, which does not) call this
// before touching data.
func CheckSize(data []byte, want uint64) error {
	if uint64(len(data)) != want {
		return fmt.Errorf("%w: got %d, want %d", errDataLenInvalid, len(data), want)
	}

	return nil
}
