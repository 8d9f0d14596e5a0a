package kvm

import "unsafe"

// Regs are the general-purpose registers of the vCPU (§3 General-Register
// Set). kvmdos only ever runs in 16-bit real mode, so AX/BX/CX/DX/SI/DI/
// SP/BP/IP/FLAGS are the low 16 bits of RAX/RBX/.../RFLAGS; the upper
// bits are always zero in a freshly-initialized guest and the guest
// itself never executes anything that would set them.
type Regs struct {
	RAX    uint64
	RBX    uint64
	RCX    uint64
	RDX    uint64
	RSI    uint64
	RDI    uint64
	RSP    uint64
	RBP    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RIP    uint64
	RFLAGS uint64
}

// AX, BX, CX, DX, SI, DI, SP, BP, and IP read (and, where a setter is
// defined, write) the 16-bit register views the DOS service handlers
// operate on; of FLAGS, only the carry bit has accessors (CF/SetCF).
func (r *Regs) AX() uint16     { return uint16(r.RAX) }
func (r *Regs) SetAX(v uint16) { r.RAX = uint64(v) }
func (r *Regs) AL() uint8      { return uint8(r.RAX) }
func (r *Regs) SetAL(v uint8)  { r.RAX = (r.RAX &^ 0xFF) | uint64(v) }
func (r *Regs) AH() uint8      { return uint8(r.RAX >> 8) }

func (r *Regs) BX() uint16     { return uint16(r.RBX) }
func (r *Regs) SetBX(v uint16) { r.RBX = uint64(v) }

func (r *Regs) CX() uint16     { return uint16(r.RCX) }
func (r *Regs) SetCX(v uint16) { r.RCX = uint64(v) }

func (r *Regs) DX() uint16     { return uint16(r.RDX) }
func (r *Regs) SetDX(v uint16) { r.RDX = uint64(v) }
func (r *Regs) DL() uint8      { return uint8(r.RDX) }

func (r *Regs) SI() uint16     { return uint16(r.RSI) }
func (r *Regs) DI() uint16     { return uint16(r.RDI) }
func (r *Regs) SP() uint16     { return uint16(r.RSP) }
func (r *Regs) SetSP(v uint16) { r.RSP = uint64(v) }
func (r *Regs) BP() uint16     { return uint16(r.RBP) }
func (r *Regs) IP() uint16     { return uint16(r.RIP) }
func (r *Regs) SetIP(v uint16) { r.RIP = uint64(v) }

const flagCarry = 1 << 0

// CF reports the carry flag, the guest-visible error indicator for
// INT 21h services (§3).
func (r *Regs) CF() bool { return r.RFLAGS&flagCarry != 0 }

// SetCF sets or clears the carry flag without disturbing other bits.
func (r *Regs) SetCF(v bool) {
	if v {
		r.RFLAGS |= flagCarry
	} else {
		r.RFLAGS &^= flagCarry
	}
}

// GetRegs fetches the general-purpose registers for a vcpu.
func GetRegs(vcpuFd uintptr) (*Regs, error) {
	regs := &Regs{}
	_, err := Ioctl(vcpuFd, kvmGetRegs, uintptr(unsafe.Pointer(regs)))

	return regs, err
}

// SetRegs writes back the general-purpose registers for a vcpu.
func SetRegs(vcpuFd uintptr, regs *Regs) error {
	_, err := Ioctl(vcpuFd, kvmSetRegs, uintptr(unsafe.Pointer(regs)))

	return err
}

// Segment is an x86 segment descriptor (§3 Segment-Register Set).
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Typ      uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// Descriptor is a GDT/IDT pointer.
type Descriptor struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Sregs are the segment and control registers.
type Sregs struct {
	CS              Segment
	DS              Segment
	ES              Segment
	FS              Segment
	GS              Segment
	SS              Segment
	TR              Segment
	LDT             Segment
	GDT             Descriptor
	IDT             Descriptor
	CR0             uint64
	CR2             uint64
	CR3             uint64
	CR4             uint64
	CR8             uint64
	EFER            uint64
	ApicBase        uint64
	InterruptBitmap [(numInterrupts + 63) / 64]uint64
}

// GetSregs fetches the segment/control registers for a vcpu.
func GetSregs(vcpuFd uintptr) (*Sregs, error) {
	sregs := &Sregs{}
	_, err := Ioctl(vcpuFd, kvmGetSregs, uintptr(unsafe.Pointer(sregs)))

	return sregs, err
}

// SetSregs writes back the segment/control registers for a vcpu.
func SetSregs(vcpuFd uintptr, sregs *Sregs) error {
	_, err := Ioctl(vcpuFd, kvmSetSregs, uintptr(unsafe.Pointer(sregs)))

	return err
}

// SetRealModeSegment sets selector and base together, maintaining the
// base == selector<<4 invariant of §3 by construction: there is no
// path in kvmdos that sets one without the other.
func SetRealModeSegment(seg *Segment, selector uint16) {
	seg.Selector = selector
	seg.Base = uint64(selector) << 4
	seg.Limit = 0xFFFF
	seg.Typ = 3
	seg.Present = 1
	seg.DPL = 0
	seg.DB = 0
	seg.S = 1
	seg.L = 0
	seg.G = 0
	seg.AVL = 0
}
