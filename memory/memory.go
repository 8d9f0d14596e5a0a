// Package memory implements the Guest Memory Arena (spec.md §3, §4.1):
// a single 2 MiB guest-physical region, installed into KVM as two
// slots (a read-only low page holding the IVT and trampoline, and a
// read-write region holding the PSP, program image, and stack), with
// a checked segment:offset translator that every DOS service handler
// goes through.
package memory

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/go-dos/kvmdos/kvm"
)

// ArenaSize is the total guest-physical region kvmdos maps: exactly
// 2 MiB, per spec.md §3.
const ArenaSize = 2 << 20

// ModuleStart is GUEST_MEM_MODULE_START (§4.2 step 2): the boundary
// between the read-only low page and the read-write rest. It must be
// a multiple of the host page size; 0x1000 is both that and the start
// of "general DOS memory" in §3's layout table.
const ModuleStart = 0x1000

// ErrGuestBoundsExceeded is returned by Translate/ReadPOD/WritePOD
// when the requested region would spill past the end of the arena.
var ErrGuestBoundsExceeded = errors.New("GuestBoundsExceeded")

// Arena owns the 2 MiB guest-physical region and the two KVM memory
// slots that back it.
type Arena struct {
	buf  []byte
	root *AddressSpace
}

// New mmaps a fresh, zeroed 2 MiB region and installs it into vmFd as
// two slots: slot 0 covering [0, ModuleStart) and slot 1, read-write,
// covering [ModuleStart, ArenaSize). Both are installed writable here;
// Lock later re-installs slot 0 read-only, so that the IVT and
// trampoline page written by psp.Bootstrap stay immutable (§4.2 step 2).
func New(vmFd uintptr) (*Arena, error) {
	a, err := NewDetached()
	if err != nil {
		return nil, err
	}

	// Slot 1 first, then slot 0, both writable; New's caller
	// re-installs slot 0 as read-only once psp.Bootstrap is done (see
	// Lock).
	rw := &kvm.UserspaceMemoryRegion{
		Slot: 1, GuestPhysAddr: ModuleStart, MemorySize: ArenaSize - ModuleStart,
		UserspaceAddr: hostAddr(a.buf, ModuleStart),
	}
	if err := kvm.SetUserMemoryRegion(vmFd, rw); err != nil {
		return nil, fmt.Errorf("install rw slot: %w", err)
	}

	low := &kvm.UserspaceMemoryRegion{
		Slot: 0, GuestPhysAddr: 0, MemorySize: ModuleStart,
		UserspaceAddr: hostAddr(a.buf, 0),
	}
	if err := kvm.SetUserMemoryRegion(vmFd, low); err != nil {
		return nil, fmt.Errorf("install low slot: %w", err)
	}

	return a, nil
}

// NewDetached builds the arena's host-side buffer and region naming
// without installing any KVM memory slot. machine.New uses New; tests
// that only exercise Translate/ReadPOD/WritePOD bounds checking (no
// /dev/kvm available) use NewDetached directly.
func NewDetached() (*Arena, error) {
	buf, err := unix.Mmap(-1, 0, ArenaSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap guest arena: %w", err)
	}

	a := &Arena{
		buf:  buf,
		root: NewAddressSpace("guest-phys", 0, ArenaSize),
	}

	_ = a.root.AddAddress(NewAddressSpace("ivt+trampoline", 0, ModuleStart))
	_ = a.root.AddAddress(NewAddressSpace("dos-memory", ModuleStart, ArenaSize-ModuleStart))

	return a, nil
}

// Lock re-installs slot 0 as read-only, physically enforcing §4.2 step
// 2's invariant. Callers must finish writing the IVT, trampoline, PSP,
// and program image (all of which are covered by slot 0 or the
// writable part of slot 1) before calling Lock.
func (a *Arena) Lock(vmFd uintptr) error {
	low := &kvm.UserspaceMemoryRegion{
		Slot: 0, GuestPhysAddr: 0, MemorySize: ModuleStart,
		UserspaceAddr: hostAddr(a.buf, 0),
	}
	low.SetMemReadonly()

	if err := kvm.SetUserMemoryRegion(vmFd, low); err != nil {
		return fmt.Errorf("lock low slot read-only: %w", err)
	}

	return nil
}

// Translate returns a host-side view of length bytes starting at
// seg*16+off, the single translation point every handler and
// bootstrap step goes through (§4.1). It fails with
// ErrGuestBoundsExceeded rather than ever returning a slice that
// reaches past the arena.
func (a *Arena) Translate(seg, off uint16, length int) ([]byte, error) {
	addr := uint64(seg)<<4 + uint64(off)

	if length < 0 || addr+uint64(length) > ArenaSize || addr+uint64(length) < addr {
		return nil, fmt.Errorf("%w: %04x:%04x len %d", ErrGuestBoundsExceeded, seg, off, length)
	}

	return a.buf[addr : addr+uint64(length)], nil
}

// WritePOD copies b into the arena at seg:off.
func (a *Arena) WritePOD(seg, off uint16, b []byte) error {
	dst, err := a.Translate(seg, off, len(b))
	if err != nil {
		return err
	}

	copy(dst, b)

	return nil
}

// ReadPOD returns a copy of n bytes at seg:off.
func (a *Arena) ReadPOD(seg, off uint16, n int) ([]byte, error) {
	src, err := a.Translate(seg, off, n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, src)

	return out, nil
}

// AsPhysicalSlot returns the raw host buffer backing the arena, for
// the VM Harness to hand to KVM at VM-creation time (§4.1's
// as_physical_slot).
func (a *Arena) AsPhysicalSlot() []byte {
	return a.buf
}

// RegionName reports which named sub-region (see AddressSpace) covers
// physical address addr, for the MMIO-exit error in machine.RunOnce.
func (a *Arena) RegionName(addr uint64) string {
	if r := a.root.Find(addr); r != nil {
		return r.Name
	}

	return "unmapped"
}

func hostAddr(buf []byte, offset uint64) uint64 {
	return uint64(uintptrOf(buf)) + offset
}
