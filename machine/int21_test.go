package machine

import (
	"io"
	"os"
	"testing"

	"github.com/go-dos/kvmdos/kvm"
	"github.com/go-dos/kvmdos/memory"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()

	a, err := memory.NewDetached()
	if err != nil {
		t.Fatalf("memory.NewDetached: %v", err)
	}

	return &Machine{mem: a}
}

// withCapturedStdout redirects os.Stdout to a pipe for the duration
// of fn, and returns everything written to it.
func withCapturedStdout(t *testing.T, fn func()) []byte {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	orig := os.Stdout
	os.Stdout = w

	fn()

	os.Stdout = orig
	w.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	return out
}

func realModeSregs(seg uint16) *kvm.Sregs {
	sregs := &kvm.Sregs{}
	kvm.SetRealModeSegment(&sregs.DS, seg)
	kvm.SetRealModeSegment(&sregs.SS, seg)

	return sregs
}

func TestDispatchInt21DOSVersion(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t)
	regs := &kvm.Regs{}
	regs.SetAX(0x3000)

	done, _, err := m.dispatchInt21(regs, realModeSregs(0x1000))
	if err != nil {
		t.Fatalf("dispatchInt21: %v", err)
	}

	if done {
		t.Fatalf("AH=0x30 should not terminate")
	}

	if regs.AX() != dosVersionAX || regs.BX() != dosVersionBX || regs.CX() != 0 {
		t.Errorf("AX/BX/CX: have %#x/%#x/%#x, want %#x/%#x/0", regs.AX(), regs.BX(), regs.CX(), dosVersionAX, dosVersionBX)
	}

	if regs.CF() {
		t.Errorf("CF: expected clear")
	}
}

func TestDispatchInt21TerminateWithCode(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t)
	regs := &kvm.Regs{}
	regs.SetAX(0x4C2A)

	done, code, err := m.dispatchInt21(regs, realModeSregs(0x1000))
	if err != nil {
		t.Fatalf("dispatchInt21: %v", err)
	}

	if !done || code != 42 {
		t.Fatalf("have done=%v code=%d, want done=true code=42", done, code)
	}
}

func TestDispatchInt21InvalidHandle(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t)
	regs := &kvm.Regs{}
	regs.SetAX(0x4000)
	regs.SetBX(9)
	regs.SetCX(1)

	_, _, err := m.dispatchInt21(regs, realModeSregs(0x1000))
	if err != nil {
		t.Fatalf("dispatchInt21: %v", err)
	}

	if regs.AX() != dosErrInvalidHandle || !regs.CF() {
		t.Errorf("AX/CF: have %#x/%v, want %#x/true", regs.AX(), regs.CF(), dosErrInvalidHandle)
	}
}

func TestDispatchInt21WriteHandleZeroCount(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t)
	regs := &kvm.Regs{}
	regs.SetAX(0x4000)
	regs.SetBX(1)
	regs.SetCX(0)

	_, _, err := m.dispatchInt21(regs, realModeSregs(0x1000))
	if err != nil {
		t.Fatalf("dispatchInt21: %v", err)
	}

	if regs.AX() != 0 || regs.CF() {
		t.Errorf("AX/CF: have %#x/%v, want 0/false", regs.AX(), regs.CF())
	}
}

func TestDispatchInt21WriteHandle(t *testing.T) {
	// Not t.Parallel(): this test reassigns the global os.Stdout.
	m := newTestMachine(t)
	sregs := realModeSregs(0x1000)

	if err := m.mem.WritePOD(0x1000, 0x200, []byte("Hi")); err != nil {
		t.Fatalf("WritePOD: %v", err)
	}

	regs := &kvm.Regs{}
	regs.SetAX(0x4000)
	regs.SetBX(1)
	regs.SetCX(2)
	regs.SetDX(0x200)

	out := withCapturedStdout(t, func() {
		if _, _, err := m.dispatchInt21(regs, sregs); err != nil {
			t.Fatalf("dispatchInt21: %v", err)
		}
	})

	if string(out) != "Hi" {
		t.Errorf("stdout: have %q, want %q", out, "Hi")
	}

	if regs.AX() != 2 || regs.CF() {
		t.Errorf("AX/CF: have %d/%v, want 2/false", regs.AX(), regs.CF())
	}
}

func TestPrintDollarString(t *testing.T) {
	// Not t.Parallel(): this test reassigns the global os.Stdout.
	m := newTestMachine(t)
	sregs := realModeSregs(0x1000)

	if err := m.mem.WritePOD(0x1000, 0x300, []byte("Hello$")); err != nil {
		t.Fatalf("WritePOD: %v", err)
	}

	regs := &kvm.Regs{}
	regs.SetAX(0x0900)
	regs.SetDX(0x300)

	out := withCapturedStdout(t, func() {
		if _, _, err := m.dispatchInt21(regs, sregs); err != nil {
			t.Fatalf("dispatchInt21: %v", err)
		}
	})

	if string(out) != "Hello" {
		t.Errorf("stdout: have %q, want %q", out, "Hello")
	}

	if regs.CF() {
		t.Errorf("CF: expected clear")
	}
}

func TestConsoleWriteBIOSTeletype(t *testing.T) {
	// Not t.Parallel(): this test reassigns the global os.Stdout.
	m := newTestMachine(t)
	regs := &kvm.Regs{}
	regs.SetAX(0x0E41)

	out := withCapturedStdout(t, func() {
		if _, _, err := m.dispatchService(0x10, regs, realModeSregs(0x1000)); err != nil {
			t.Fatalf("dispatchService: %v", err)
		}
	})

	if string(out) != "A" {
		t.Errorf("stdout: have %q, want %q", out, "A")
	}
}

func TestDispatchServiceTerminate(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t)

	done, code, err := m.dispatchService(0x20, &kvm.Regs{}, realModeSregs(0x1000))
	if err != nil {
		t.Fatalf("dispatchService: %v", err)
	}

	if !done || code != 0 {
		t.Fatalf("have done=%v code=%d, want done=true code=0", done, code)
	}
}

func TestDispatchServiceUnrecognized(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t)

	_, _, err := m.dispatchService(0x42, &kvm.Regs{}, realModeSregs(0x1000))
	if err == nil {
		t.Fatalf("expected an error for an unrecognized interrupt number")
	}
}
