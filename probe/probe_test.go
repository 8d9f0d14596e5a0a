package probe_test

import (
	"os"
	"testing"

	"github.com/go-dos/kvmdos/probe"
)

func TestRunMissingDevice(t *testing.T) {
	t.Parallel()

	if err := probe.Run("/nonexistent/kvm-device"); err == nil {
		t.Fatalf("expected an error opening a nonexistent device path")
	}
}

func TestRunRealDevice(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("skipping: not root")
	}

	t.Parallel()

	if _, err := os.Stat("/dev/kvm"); err != nil {
		t.Skipf("skipping: no /dev/kvm: %v", err)
	}

	if err := probe.Run("/dev/kvm"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
