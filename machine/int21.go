package machine

import (
	"fmt"
	"os"

	"github.com/go-dos/kvmdos/kvm"
)

// dos version/error constants used by the §4.5.1 handlers.
const (
	dosVersionAX        = 0x0005
	dosVersionBX        = 0xFF00
	dosErrInvalidHandle = 6
	dosErrReadFault     = 0x1E
	dosErrWriteFault    = 0x1D
)

// dispatchInt21 routes an AH-indexed INT 21h service call (§4.5.1).
func (m *Machine) dispatchInt21(regs *kvm.Regs, sregs *kvm.Sregs) (done bool, code int, err error) {
	switch regs.AH() {
	case 0x01, 0x02, 0x03, 0x07, 0x08, 0x0A, 0x0B:
		// Unimplemented 0x01-0x0B subfunctions: the table permits
		// "no-op or fatal"; kvmdos treats them as a no-op success so a
		// guest probing an unused function doesn't die outright, while
		// still never emulating the function's actual effect.
		regs.SetCF(false)

		return false, 0, nil

	case 0x04:
		regs.SetCF(false)

		return false, 0, writeByte(os.Stderr, regs.DL())

	case 0x05:
		regs.SetCF(false)

		return false, 0, writeByte(os.Stdout, regs.DL())

	case 0x06:
		regs.SetCF(false)

		if regs.DL() != 0xFF {
			return false, 0, writeByte(os.Stdout, regs.DL())
		}

		return false, 0, nil

	case 0x09:
		return false, 0, m.printDollarString(regs, sregs)

	case 0x30:
		regs.SetAX(dosVersionAX)
		regs.SetBX(dosVersionBX)
		regs.SetCX(0x0000)
		regs.SetCF(false)

		return false, 0, nil

	case 0x3F:
		return false, 0, m.handleRead(regs, sregs)

	case 0x40:
		return false, 0, m.handleWrite(regs, sregs)

	case 0x4C:
		return true, int(regs.AL()), nil

	default:
		return false, 0, fmt.Errorf("%w: INT 21h AH=%#02x", ErrUnrecognizedService, regs.AH())
	}
}

func writeByte(f *os.File, b byte) error {
	_, err := f.Write([]byte{b})

	return err
}

// printDollarString implements AH=0x09 (§4.5.1, §8): scan bytes
// starting at DS:DX until a '$', writing each preceding byte to
// stdout. Offset wrap from 0xFFFF to 0x0000 within the same call is
// fatal rather than silently continuing into the next segment.
func (m *Machine) printDollarString(regs *kvm.Regs, sregs *kvm.Sregs) error {
	offset := regs.DX()

	for {
		b, err := m.mem.ReadPOD(sregs.DS.Selector, offset, 1)
		if err != nil {
			return fmt.Errorf("AH=0x09 scan: %w", err)
		}

		if b[0] == '$' {
			regs.SetCF(false)

			return nil
		}

		if _, err := os.Stdout.Write(b); err != nil {
			return fmt.Errorf("AH=0x09 write: %w", err)
		}

		if offset == 0xFFFF {
			return fmt.Errorf("%w: AH=0x09 scan wrapped past 0xffff without finding '$'", ErrGuestScanOverflow)
		}

		offset++
	}
}

// handleRead implements AH=0x3F (§4.5.1, §8).
func (m *Machine) handleRead(regs *kvm.Regs, sregs *kvm.Sregs) error {
	if !validHandle(regs) {
		return nil
	}

	buf, err := m.mem.Translate(sregs.DS.Selector, regs.DX(), int(regs.CX()))
	if err != nil {
		return fmt.Errorf("AH=0x3F buffer: %w", err)
	}

	n, err := handleStream(regs.BX()).Read(buf)
	if err != nil && n == 0 {
		regs.SetAX(dosErrReadFault)
		regs.SetCF(true)

		return nil
	}

	regs.SetAX(uint16(n))
	regs.SetCF(false)

	return nil
}

// handleWrite implements AH=0x40 (§4.5.1, §8).
func (m *Machine) handleWrite(regs *kvm.Regs, sregs *kvm.Sregs) error {
	if !validHandle(regs) {
		return nil
	}

	if regs.CX() == 0 {
		regs.SetAX(0)
		regs.SetCF(false)

		return nil
	}

	buf, err := m.mem.Translate(sregs.DS.Selector, regs.DX(), int(regs.CX()))
	if err != nil {
		return fmt.Errorf("AH=0x40 buffer: %w", err)
	}

	n, err := handleStream(regs.BX()).Write(buf)
	if err != nil {
		regs.SetAX(dosErrWriteFault)
		regs.SetCF(true)

		return nil
	}

	regs.SetAX(uint16(n))
	regs.SetCF(false)

	return nil
}
