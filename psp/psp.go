// Package psp implements the Initial-State Builder and Interrupt
// Trampoline (spec.md §4.3, §4.4): it writes the magic interrupt
// vector table, the HLT trampoline page, the Program Segment Prefix,
// and the loaded .com image into a memory.Arena, and produces the
// initial register and segment state the VM Harness hands to the
// first KVM_RUN.
package psp

import (
	"errors"
	"fmt"

	"github.com/go-dos/kvmdos/kvm"
	"github.com/go-dos/kvmdos/memory"
)

// BaseParagraph is BASE_PARA (§3): the fixed paragraph number at
// which the PSP, and immediately after it the program image, are
// loaded. BaseParagraph*16 == memory.ModuleStart, so the PSP sits
// exactly at the start of "general DOS memory".
const BaseParagraph = 0x0100

// PSPSize is the size in bytes of the Program Segment Prefix.
const PSPSize = 0x100

// ImageLoadOffset is the offset within the program's segment where
// the .com file's bytes begin, and where execution starts (§3, §6).
const ImageLoadOffset = 0x0100

// TopOfMemoryParagraph is written at PSP offset 0x02: the paragraph
// DOS reports as the top of available memory (§3).
const TopOfMemoryParagraph = 0xA000

// topOfMemory is the guest-physical address corresponding to
// TopOfMemoryParagraph, and therefore the end of the region available
// for the program image (§3's "general DOS memory" upper bound).
const topOfMemory = TopOfMemoryParagraph * 16

// MaxImageSize is the largest .com file kvmdos will load: the space
// between the end of the PSP and topOfMemory.
const MaxImageSize = topOfMemory - BaseParagraph*16 - ImageLoadOffset

// MaxCmdlineEncodedLen is the largest total encoding PSP offset 0x80
// may hold: the length byte, the tail bytes, and the 0x0D terminator
// together (§4.3 step 6, §8's "total encoded length" boundary test).
// It leaves the PSP's last byte (offset 0xFF) unused, matching real
// DOS's 128-byte command-tail field.
const MaxCmdlineEncodedLen = 127

// poisonByte fills general DOS memory before the image and PSP are
// written (§4.3 step 1): 0, unlike this byte, is a valid instruction,
// so a guest that runs off the end of its own code into untouched
// memory would silently execute zeros forever instead of producing a
// diagnosable exit. 0xF4 (HLT) guarantees any such runaway lands back
// in the Exit Dispatcher as a real (non-synthetic) halt.
const poisonByte = 0xF4

// trampolineOffset is the physical offset of the 256-byte HLT page
// every magic IVT entry points at (§3, §4.4).
const trampolineOffset = 0x0400

// ivtSelector is the far-pointer selector every IVT entry shares;
// the dispatcher recognizes a synthetic INT by CS == ivtSelector.
const ivtSelector = 0x0040

// initialFlags is the FLAGS word a freshly reset real-mode CPU
// carries: only the reserved bit 1 is set (§4.3 step 7).
const initialFlags = 0x0002

// initialSP is the stack pointer installed at bootstrap; SS:SP points
// at a single pushed zero word (§4.3 step 7).
const initialSP = 0xFFFE

var (
	// ErrGuestImageTooLarge is returned by LoadImage when the .com
	// file would not fit between ImageLoadOffset and topOfMemory.
	ErrGuestImageTooLarge = errors.New("guest image too large")

	// ErrCmdlineTooLong is returned by buildPSP when the total
	// encoding of the command-line tail (length byte + tail + 0x0D
	// terminator) exceeds MaxCmdlineEncodedLen bytes.
	ErrCmdlineTooLong = errors.New("command line too long")
)

// Bootstrap runs the full Initial-State Builder sequence of §4.3,
// steps 2 through 7 (step 1, zeroing the arena, is implicit in a
// freshly mmap'd anonymous region, per memory.NewDetached/New). It
// returns the register and segment state the VM Harness should
// install before the first KVM_RUN.
func Bootstrap(a *memory.Arena, image []byte, args []string) (*kvm.Regs, *kvm.Sregs, error) {
	if err := writeIVT(a); err != nil {
		return nil, nil, fmt.Errorf("write IVT: %w", err)
	}

	if err := writeTrampoline(a); err != nil {
		return nil, nil, fmt.Errorf("write trampoline: %w", err)
	}

	if err := poisonGeneralMemory(a); err != nil {
		return nil, nil, fmt.Errorf("poison general memory: %w", err)
	}

	if err := LoadImage(a, image); err != nil {
		return nil, nil, err
	}

	if err := buildPSP(a, args); err != nil {
		return nil, nil, err
	}

	regs := initialRegs()
	sregs := initialSregs()

	if err := a.WritePOD(BaseParagraph, initialSP, []byte{0x00, 0x00}); err != nil {
		return nil, nil, fmt.Errorf("write stack sentinel word: %w", err)
	}

	return regs, sregs, nil
}

// writeIVT writes the 256 magic far-pointer entries at physical
// offset 0 (§4.3 step 2): entry i is the dword 0x00400000 | i, i.e.
// selector 0x0040, offset i.
func writeIVT(a *memory.Arena) error {
	var buf [4 * 256]byte

	for i := 0; i < 256; i++ {
		entry := uint32(ivtSelector)<<16 | uint32(i)
		buf[4*i+0] = byte(entry)
		buf[4*i+1] = byte(entry >> 8)
		buf[4*i+2] = byte(entry >> 16)
		buf[4*i+3] = byte(entry >> 24)
	}

	return a.WritePOD(0, 0, buf[:])
}

// writeTrampoline fills the 256-byte page at physical 0x0400 with
// 0xF4 (HLT), so every IVT entry's target instruction halts (§4.3
// step 3, §4.4).
func writeTrampoline(a *memory.Arena) error {
	var buf [256]byte

	for i := range buf {
		buf[i] = 0xF4
	}

	return a.WritePOD(0, trampolineOffset, buf[:])
}

// poisonGeneralMemory fills [BaseParagraph*16, topOfMemory) — all of
// general DOS memory — with poisonByte, before the PSP and image
// overwrite the bytes they actually occupy (§4.3 step 1). Everything
// the guest never legitimately reaches stays poisoned.
func poisonGeneralMemory(a *memory.Arena) error {
	buf := make([]byte, topOfMemory-BaseParagraph*16)
	for i := range buf {
		buf[i] = poisonByte
	}

	return a.WritePOD(BaseParagraph, 0, buf)
}

// LoadImage copies the .com file's bytes verbatim to
// BaseParagraph:ImageLoadOffset (§4.3 step 4, §6). A file too large
// to fit before topOfMemory is rejected rather than silently
// truncated.
func LoadImage(a *memory.Arena, image []byte) error {
	if len(image) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrGuestImageTooLarge, len(image), MaxImageSize)
	}

	return a.WritePOD(BaseParagraph, ImageLoadOffset, image)
}

// buildPSP writes the 256-byte Program Segment Prefix at
// BaseParagraph:0 (§3, §4.3 steps 5-6).
func buildPSP(a *memory.Arena, args []string) error {
	var psp [PSPSize]byte

	// Offset 0x00: CD 20, the INT 20h opcode, so returning to offset
	// 0 terminates the program.
	psp[0x00] = 0xCD
	psp[0x01] = 0x20

	// Offset 0x02: paragraph of the top of memory.
	psp[0x02] = byte(TopOfMemoryParagraph)
	psp[0x03] = byte(TopOfMemoryParagraph >> 8)

	tail := encodeCmdline(args)

	encodedLen := 1 + len(tail) + 1
	if encodedLen > MaxCmdlineEncodedLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrCmdlineTooLong, encodedLen, MaxCmdlineEncodedLen)
	}

	// Offset 0x80: length byte, then the tail, then a 0x0D terminator.
	psp[0x80] = byte(len(tail))
	copy(psp[0x81:], tail)
	psp[0x81+len(tail)] = 0x0D

	return a.WritePOD(BaseParagraph, 0, psp[:])
}

// encodeCmdline joins args with single spaces and a single leading
// space, the DOS command-line tail convention (§4.3 step 6).
func encodeCmdline(args []string) []byte {
	if len(args) == 0 {
		return nil
	}

	out := make([]byte, 0, MaxCmdlineEncodedLen)

	for _, arg := range args {
		out = append(out, ' ')
		out = append(out, arg...)
	}

	return out
}

// initialRegs builds the general-register state of §4.3 step 7: SP
// at the top of the program's stack, IP at the .com entry point,
// FLAGS with only the reserved bit set.
func initialRegs() *kvm.Regs {
	regs := &kvm.Regs{}
	regs.SetSP(initialSP)
	regs.SetIP(ImageLoadOffset)
	regs.RFLAGS = initialFlags

	return regs
}

// initialSregs builds the segment state of §4.3 step 7: CS, DS, ES,
// FS, GS, and SS all equal BaseParagraph, maintaining base ==
// selector<<4 by construction via kvm.SetRealModeSegment.
func initialSregs() *kvm.Sregs {
	sregs := &kvm.Sregs{}

	kvm.SetRealModeSegment(&sregs.CS, BaseParagraph)
	kvm.SetRealModeSegment(&sregs.DS, BaseParagraph)
	kvm.SetRealModeSegment(&sregs.ES, BaseParagraph)
	kvm.SetRealModeSegment(&sregs.FS, BaseParagraph)
	kvm.SetRealModeSegment(&sregs.GS, BaseParagraph)
	kvm.SetRealModeSegment(&sregs.SS, BaseParagraph)

	return sregs
}
