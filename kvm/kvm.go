package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request numbers, lifted from <linux/kvm.h>. These are the same
// magic constants the teacher hardcodes in kvm/kvm.go; kvmdos keeps
// only the subset a real-mode, single-VCPU, no-PCI guest needs.
const (
	kvmGetAPIVersion       = 0xAE00
	kvmCreateVM            = 0xAE01
	kvmGetVCPUMMapSize     = 0xAE04
	kvmCreateVCPU          = 0xAE41
	kvmSetUserMemoryRegion = 0x4020AE46
	kvmRun                 = 0xAE80
	kvmGetRegs             = 0x8090AE81
	kvmSetRegs             = 0x4090AE82
	kvmGetSregs            = 0x8138AE83
	kvmSetSregs            = 0x4138AE84
	kvmCheckExtension      = 0xAE03
	kvmGetSupportedCPUID   = 0xC008AE05
	kvmSetCPUID2           = 0x4008AE90

	numInterrupts  = 0x100
	CPUIDSignature = 0x40000000
	CPUIDFeatures  = 0x40000001
)

// Ioctl issues a single ioctl(2) against fd, retrying on EINTR the way
// the teacher's kvm.ioctl does.
func Ioctl(fd uintptr, op uintptr, arg uintptr) (uintptr, error) {
	for {
		res, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, arg)
		if errno == unix.EINTR {
			continue
		}

		if errno != 0 {
			return res, errno
		}

		return res, nil
	}
}

// OpenDev opens /dev/kvm (or the path given, for testing against a
// stub) read-write.
func OpenDev(path string) (uintptr, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return 0, ErrNoDevKVM
	}

	return uintptr(fd), nil
}

// GetAPIVersion returns the KVM API version; callers should check it
// equals 12.
func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, kvmGetAPIVersion, 0)
}

// CreateVM creates a new VM and returns its fd.
func CreateVM(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, kvmCreateVM, 0)
}

// CreateVCPU creates VCPU 0 (kvmdos never creates a second one; see
// spec.md Non-goals).
func CreateVCPU(vmFd uintptr) (uintptr, error) {
	return Ioctl(vmFd, kvmCreateVCPU, 0)
}

// GetVCPUMMmapSize returns the size, in bytes, of the shared RunData
// page the caller must mmap from the VCPU fd.
func GetVCPUMMmapSize(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, kvmGetVCPUMMapSize, 0)
}

// Run resumes the VCPU until the next exit.
func Run(vcpuFd uintptr) error {
	_, err := Ioctl(vcpuFd, kvmRun, 0)

	return err
}

// CheckExtension reports the degree of support the host has for cap;
// 0 means unsupported.
func CheckExtension(kvmFd uintptr, cap Capability) (int, error) {
	r, err := Ioctl(kvmFd, kvmCheckExtension, uintptr(cap))

	return int(r), err
}

// RunData is the mmap'd page shared between KVM and userspace across
// resumes; only the fields kvmdos actually reads are modeled.
type RunData struct {
	RequestInterruptWindow     uint8
	_                          [7]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// IO unpacks the KVM_EXIT_IO union fields out of Data, exactly as the
// teacher's RunData.IO does.
func (r *RunData) IO() (direction, size, port, count, offset uint64) {
	direction = r.Data[0] & 0xFF
	size = (r.Data[0] >> 8) & 0xFF
	port = (r.Data[0] >> 16) & 0xFFFF
	count = (r.Data[0] >> 32) & 0xFFFFFFFF
	offset = r.Data[1]

	return direction, size, port, count, offset
}

// IOData returns the byte slice backing an EXITIO payload: offset
// bytes into the RunData page itself, length size*count.
func (r *RunData) IOData(offset, size, count uint64) []byte {
	base := uintptr(unsafe.Pointer(r)) + uintptr(offset)
	n := int(size * count)

	return unsafe.Slice((*byte)(unsafe.Pointer(base)), n)
}

// MMIOPhysAddr unpacks the guest-physical address out of a
// KVM_EXIT_MMIO payload: the first field of the kvm_run.mmio union,
// which RunData.Data aliases as its first uint64.
func (r *RunData) MMIOPhysAddr() uint64 {
	return r.Data[0]
}

// MapRunData mmaps the shared RunData page for vcpuFd.
func MapRunData(vcpuFd uintptr, size int) (*RunData, error) {
	b, err := unix.Mmap(int(vcpuFd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return (*RunData)(unsafe.Pointer(&b[0])), nil
}

// UserspaceMemoryRegion describes one guest-physical memory slot, as
// passed to KVM_SET_USER_MEMORY_REGION.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// SetMemReadonly marks a region as read-only: used for the IVT and
// trampoline page slot (§4.2 step 2).
func (r *UserspaceMemoryRegion) SetMemReadonly() {
	r.Flags |= 1 << 1
}

// SetUserMemoryRegion installs or updates a memory slot on vmFd.
func SetUserMemoryRegion(vmFd uintptr, region *UserspaceMemoryRegion) error {
	_, err := Ioctl(vmFd, kvmSetUserMemoryRegion, uintptr(unsafe.Pointer(region)))

	return err
}

// CPUID is the set of CPUID entries returned by GetSupportedCPUID and
// consumed by SetCPUID2.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries [100]CPUIDEntry2
}

// CPUIDEntry2 is one CPUID leaf/subleaf entry.
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// GetSupportedCPUID fills in all CPUID entries the host KVM supports.
func GetSupportedCPUID(kvmFd uintptr, cpuid *CPUID) error {
	_, err := Ioctl(kvmFd, kvmGetSupportedCPUID, uintptr(unsafe.Pointer(cpuid)))

	return err
}

// SetCPUID2 installs a vCPU's CPUID table.
func SetCPUID2(vcpuFd uintptr, cpuid *CPUID) error {
	_, err := Ioctl(vcpuFd, kvmSetCPUID2, uintptr(unsafe.Pointer(cpuid)))

	return err
}
