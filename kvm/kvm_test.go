package kvm_test

import (
	"os"
	"testing"

	"github.com/go-dos/kvmdos/kvm"
)

func TestExitTypeStringer(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		value kvm.ExitType
		want  string
	}{
		{name: "Hlt", value: kvm.EXITHLT, want: "EXITHLT"},
		{name: "IO", value: kvm.EXITIO, want: "EXITIO"},
		{name: "MMIO", value: kvm.EXITMMIO, want: "EXITMMIO"},
		{name: "Shutdown", value: kvm.EXITSHUTDOWN, want: "EXITSHUTDOWN"},
		{name: "Unknown", value: kvm.ExitType(255), want: "EXITUNKNOWN(unrecognized)"},
	} {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := test.value.String(); got != test.want {
				t.Errorf("have: %s, want: %s", got, test.want)
			}
		})
	}
}

func TestCapabilityStringer(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		value kvm.Capability
		want  string
	}{
		{name: "NRMemSlots", value: kvm.CapNRMemSlots, want: "CapNRMemSlots"},
		{name: "IRQChip", value: kvm.CapIRQChip, want: "CapIRQChip"},
		{name: "Unknown", value: kvm.Capability(255), want: "Capability(unrecognized)"},
	} {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := test.value.String(); got != test.want {
				t.Errorf("have: %s, want: %s", got, test.want)
			}
		})
	}
}

func TestRegsBitViews(t *testing.T) {
	t.Parallel()

	r := &kvm.Regs{}
	r.SetAX(0x4C2A)

	if r.AH() != 0x4C {
		t.Errorf("AH: have %#x, want 0x4c", r.AH())
	}

	if r.AL() != 0x2A {
		t.Errorf("AL: have %#x, want 0x2a", r.AL())
	}

	r.SetCF(true)
	if !r.CF() {
		t.Errorf("CF: expected set")
	}

	r.SetCF(false)
	if r.CF() {
		t.Errorf("CF: expected clear")
	}
}

func TestGetAPIVersionRealDevice(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("skipping: not root")
	}

	t.Parallel()

	fd, err := kvm.OpenDev("/dev/kvm")
	if err != nil {
		t.Skipf("skipping: no /dev/kvm: %v", err)
	}

	if _, err := kvm.GetAPIVersion(fd); err != nil {
		t.Fatalf("GetAPIVersion: %v", err)
	}
}
