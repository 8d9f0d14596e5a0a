package machine

import (
	"fmt"

	"github.com/go-dos/kvmdos/kvm"
)

// isSyntheticHalt implements §4.4's two-byte invariant: a halt exit
// is a synthetic INT iff CS is the trampoline selector and IP-1 is a
// valid interrupt number. IP==0 cannot occur for a real synthetic
// halt (the trampoline's lowest byte is at offset 0, reached with
// IP==1), so it is treated as a real halt like any other CS mismatch.
func isSyntheticHalt(cs, ip uint16) bool {
	return cs == trampolineSelector && ip >= 1 && ip <= numVectors
}

// dispatchHalt implements the HLT branch of §4.5 step 2: distinguish
// a synthetic INT from a genuine guest halt, and for a synthetic INT,
// run the full service-call protocol of §4.5 steps 3-4.
func (m *Machine) dispatchHalt() (done bool, code int, err error) {
	regs, err := kvm.GetRegs(m.vcpuFd)
	if err != nil {
		return false, 0, fmt.Errorf("GetRegs: %w", err)
	}

	sregs, err := kvm.GetSregs(m.vcpuFd)
	if err != nil {
		return false, 0, fmt.Errorf("GetSregs: %w", err)
	}

	if !isSyntheticHalt(sregs.CS.Selector, regs.IP()) {
		return false, 0, fmt.Errorf("%w: CS=%#04x IP=%#04x", ErrRealHalt, sregs.CS.Selector, regs.IP())
	}

	intNum := uint8(regs.IP() - 1)

	frame, err := m.mem.ReadPOD(sregs.SS.Selector, regs.SP(), 6)
	if err != nil {
		return false, 0, fmt.Errorf("read IRET frame: %w", err)
	}

	ip0 := uint16(frame[0]) | uint16(frame[1])<<8
	cs0 := uint16(frame[2]) | uint16(frame[3])<<8

	done, code, err = m.dispatchService(intNum, regs, sregs)
	if err != nil {
		return false, 0, err
	}

	if done {
		return true, code, nil
	}

	// Synthesize the IRET (§4.5 step 4): restore CS:IP from the
	// pushed frame, advance SP by 6. FLAGS is deliberately NOT
	// restored, so a handler's CF mutation stays visible to the guest.
	sregs.CS.Selector = cs0
	sregs.CS.Base = uint64(cs0) << 4
	regs.SetIP(ip0)
	regs.SetSP(regs.SP() + 6)

	if err := kvm.SetRegs(m.vcpuFd, regs); err != nil {
		return false, 0, fmt.Errorf("SetRegs: %w", err)
	}

	if err := kvm.SetSregs(m.vcpuFd, sregs); err != nil {
		return false, 0, fmt.Errorf("SetSregs: %w", err)
	}

	return false, 0, nil
}

// dispatchService routes a synthetic INT to its DOS service handler
// (§4.5.1). regs/sregs are mutated in place by the handler; the
// caller writes them back after return-frame synthesis.
func (m *Machine) dispatchService(intNum uint8, regs *kvm.Regs, sregs *kvm.Sregs) (done bool, code int, err error) {
	switch intNum {
	case 0x20:
		return true, 0, nil

	case 0x29:
		return false, 0, m.consoleWrite(regs.AL())

	case 0x10:
		if regs.AH() == 0x0E {
			return false, 0, m.consoleWrite(regs.AL())
		}

		return false, 0, fmt.Errorf("%w: INT 10h AH=%#02x", ErrUnrecognizedService, regs.AH())

	case 0x21:
		return m.dispatchInt21(regs, sregs)

	default:
		return false, 0, fmt.Errorf("%w: INT %#02xh", ErrUnrecognizedService, intNum)
	}
}
