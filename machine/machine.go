// Package machine implements the VM Harness (spec.md §4.2) and Exit
// Dispatcher (§4.5): it creates the VM and single VCPU, installs the
// guest memory arena, and runs the host-guest exit loop that
// recognizes synthetic interrupts and routes them to DOS service
// handlers.
package machine

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/go-dos/kvmdos/device"
	"github.com/go-dos/kvmdos/kvm"
	"github.com/go-dos/kvmdos/memory"
	"github.com/go-dos/kvmdos/psp"
)

// ReservedExitCode is the process exit status for any fatal host-side
// failure: bootstrap errors, unmapped-memory exits, unrecognized
// services, real (non-synthetic) halts (§6, §7).
const ReservedExitCode = 252

// trampolineSelector is the CS selector every magic IVT entry shares
// (§3, §4.4); a halt exit with this CS is a synthetic INT, not a real
// guest halt.
const trampolineSelector = 0x0040

// numVectors bounds the recognizable interrupt numbers; IP-1 must
// fall in [0, numVectors) for a halt to be treated as synthetic.
const numVectors = 0x100

var (
	// ErrRealHalt is returned when the guest executes a genuine HLT
	// outside the trampoline page.
	ErrRealHalt = errors.New("guest halted outside interrupt trampoline")

	// ErrUnmappedAccess is returned for an MMIO exit: a guest access
	// outside the mapped arena.
	ErrUnmappedAccess = errors.New("unmapped guest memory access")

	// ErrShutdown is returned for a KVM_EXIT_SHUTDOWN.
	ErrShutdown = errors.New("guest triple fault / shutdown")

	// ErrUnrecognizedService is returned for an INT/AH combination
	// outside the §4.5.1 table (§7: fatal, per the chosen Open
	// Question policy — see SPEC_FULL.md §4).
	ErrUnrecognizedService = errors.New("unrecognized DOS service")

	// ErrGuestScanOverflow is returned when AH=0x09's '$'-scan would
	// wrap from offset 0xFFFF to 0x0000 without finding a terminator
	// (§4.5.1, §8).
	ErrGuestScanOverflow = errors.New("guest string scan overflowed segment")
)

// Machine owns the VM, its single VCPU, and the guest memory arena
// for the lifetime of one .com program (§4.2, §5: strictly
// single-threaded, cooperative between host and guest).
type Machine struct {
	kvmFd, vmFd, vcpuFd uintptr
	run                 *kvm.RunData
	mem                 *memory.Arena
	io                  device.IODevice
	debug               bool
}

// New opens kvmPath, creates a VM and one VCPU, and installs a fresh
// guest memory arena (§4.2 steps 1-3). Any failure here is a
// bootstrap error (§7): callers should treat it as fatal with
// ReservedExitCode.
func New(kvmPath string) (*Machine, error) {
	m := &Machine{io: &device.ThrottleDevice{Port: 0, Psize: 0x10000}, debug: os.Getenv("DEBUG") != ""}

	devKVM, err := os.OpenFile(kvmPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kvmPath, err)
	}

	m.kvmFd = devKVM.Fd()

	if m.vmFd, err = kvm.CreateVM(m.kvmFd); err != nil {
		return nil, fmt.Errorf("CreateVM: %w", err)
	}

	if m.vcpuFd, err = kvm.CreateVCPU(m.vmFd); err != nil {
		return nil, fmt.Errorf("CreateVCPU: %w", err)
	}

	if err := m.initCPUID(); err != nil {
		return nil, fmt.Errorf("initCPUID: %w", err)
	}

	mmapSize, err := kvm.GetVCPUMMmapSize(m.kvmFd)
	if err != nil {
		return nil, fmt.Errorf("GetVCPUMMmapSize: %w", err)
	}

	if m.run, err = kvm.MapRunData(m.vcpuFd, int(mmapSize)); err != nil {
		return nil, fmt.Errorf("MapRunData: %w", err)
	}

	if m.mem, err = memory.New(m.vmFd); err != nil {
		return nil, fmt.Errorf("memory.New: %w", err)
	}

	log.Debug().Str("kvmPath", kvmPath).Msg("machine created")

	return m, nil
}

// initCPUID installs the bare KVM paravirt signature leaf the host
// KVM requires every VCPU to carry before KVM_RUN will succeed. A
// single flat real-mode .com program never executes CPUID itself, so
// no further leaf-shaping (perfmon disabling, feature masking) has any
// observable effect and is not attempted (see DESIGN.md).
func (m *Machine) initCPUID() error {
	cpuid := kvm.CPUID{Nent: 100}

	if err := kvm.GetSupportedCPUID(m.kvmFd, &cpuid); err != nil {
		return err
	}

	for i := 0; i < int(cpuid.Nent); i++ {
		if cpuid.Entries[i].Function == kvm.CPUIDSignature {
			cpuid.Entries[i].Eax = kvm.CPUIDFeatures
			cpuid.Entries[i].Ebx = 0x4b4d564b // KVMK
			cpuid.Entries[i].Ecx = 0x564b4d56 // VMKV
			cpuid.Entries[i].Edx = 0x4d       // M
		}
	}

	return kvm.SetCPUID2(m.vcpuFd, &cpuid)
}

// Boot runs the Initial-State Builder (§4.3) over the arena, installs
// the resulting register/segment state, and locks the low memory page
// read-only (§4.2 step 2). Call RunInfiniteLoop after Boot succeeds.
func (m *Machine) Boot(image []byte, args []string) error {
	regs, sregs, err := psp.Bootstrap(m.mem, image, args)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if err := kvm.SetRegs(m.vcpuFd, regs); err != nil {
		return fmt.Errorf("SetRegs: %w", err)
	}

	if err := kvm.SetSregs(m.vcpuFd, sregs); err != nil {
		return fmt.Errorf("SetSregs: %w", err)
	}

	if err := m.mem.Lock(m.vmFd); err != nil {
		return fmt.Errorf("lock low memory: %w", err)
	}

	return nil
}

// RunInfiniteLoop drives the Exit Dispatcher (§4.5) until the guest
// terminates (INT 20h, INT 21h/AH=0x4C) or a fatal condition occurs.
// It returns the process exit status the caller should use.
func (m *Machine) RunInfiniteLoop() (int, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		done, code, err := m.RunOnce()
		if err != nil {
			return ReservedExitCode, err
		}

		if done {
			return code, nil
		}
	}
}

// RunOnce resumes the VCPU once and handles exactly one exit (§4.5
// steps 1-5). done reports whether the guest has terminated; code is
// only meaningful when done is true.
func (m *Machine) RunOnce() (done bool, code int, err error) {
	if err := kvm.Run(m.vcpuFd); err != nil {
		return false, 0, fmt.Errorf("KVM_RUN: %w", err)
	}

	exit := kvm.ExitType(m.run.ExitReason)

	if m.debug {
		m.traceExit(exit)
	}

	switch exit {
	case kvm.EXITHLT:
		return m.dispatchHalt()

	case kvm.EXITIO:
		direction, size, port, count, offset := m.run.IO()
		data := m.run.IOData(offset, size, count)

		for i := uint64(0); i < count; i++ {
			var err error
			if direction == kvm.EXITIOOUT {
				err = m.io.Write(port, data)
			} else {
				err = m.io.Read(port, data)
			}

			if err != nil {
				return false, 0, fmt.Errorf("io port %#x: %w", port, err)
			}
		}

		return false, 0, nil

	case kvm.EXITMMIO:
		addr := m.run.MMIOPhysAddr()

		return false, 0, fmt.Errorf("%w: phys %#x (%s)", ErrUnmappedAccess, addr, m.mem.RegionName(addr))

	case kvm.EXITSHUTDOWN:
		return false, 0, ErrShutdown

	default:
		return false, 0, fmt.Errorf("%w: %s", kvm.ErrUnexpectedExitReason, exit.String())
	}
}
