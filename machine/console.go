package machine

import (
	"os"

	"github.com/go-dos/kvmdos/kvm"
)

// consoleWrite implements the single-byte console-output contract
// shared by INT 29h and INT 10h/AH=0x0E (§4.5.1): write b to standard
// output.
func (m *Machine) consoleWrite(b byte) error {
	_, err := os.Stdout.Write([]byte{b})

	return err
}

// handleStream maps a DOS file handle to the standard stream backing
// it (§6): fd 0 backs handles 0 and 4; fd 1 backs handle 1; fd 2
// backs handles 2 and 3 (STDAUX). The same mapping serves both
// AH=0x3F (read) and AH=0x40 (write): a write to handle 0 or a read
// from handle 1, while unusual, is left to the underlying *os.File to
// accept or reject exactly as a real redirected fd would.
func handleStream(handle uint16) *os.File {
	switch handle {
	case 0, 4:
		return os.Stdin
	case 2, 3:
		return os.Stderr
	default:
		return os.Stdout
	}
}

// validHandle implements the §4.5.1 handle-validation rule shared by
// AH=0x3F and AH=0x40: handles ≥ 5 are invalid (AX=6, CF=1).
func validHandle(regs *kvm.Regs) bool {
	if regs.BX() >= 5 {
		regs.SetAX(dosErrInvalidHandle)
		regs.SetCF(true)

		return false
	}

	return true
}
