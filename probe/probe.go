// Package probe implements the capability-probing subcommand
// (SPEC_FULL.md §3): checks that /dev/kvm is usable and reports the
// KVM extensions kvmdos depends on, without creating a VM or touching
// any .com file.
package probe

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/go-dos/kvmdos/kvm"
)

// requiredCapabilities are the KVM extensions the VM Harness relies
// on; a host missing any of these cannot run kvmdos at all.
var requiredCapabilities = []kvm.Capability{
	kvm.CapUserMemory,
	kvm.CapNRMemSlots,
	kvm.CapExtCPUID,
}

// Run opens kvmPath, checks the API version, and sweeps
// requiredCapabilities, printing a one-line report per check to
// stdout. It returns an error only for a hard failure (cannot open
// /dev/kvm, bad API version); an unsupported capability is reported
// (supported=0) but does not make Run fail.
func Run(kvmPath string) error {
	devKVM, err := os.OpenFile(kvmPath, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", kvmPath, err)
	}
	defer devKVM.Close()

	kvmFd := devKVM.Fd()

	version, err := kvm.GetAPIVersion(kvmFd)
	if err != nil {
		return fmt.Errorf("KVM_GET_API_VERSION: %w", err)
	}

	fmt.Printf("%s: API version %d\n", kvmPath, version)
	log.Info().Str("path", kvmPath).Uint("version", uint(version)).Msg("kvm api version")

	if version != 12 {
		return fmt.Errorf("KVM_GET_API_VERSION: have %d, want 12", version)
	}

	for _, c := range requiredCapabilities {
		n, err := kvm.CheckExtension(kvmFd, c)
		if err != nil {
			return fmt.Errorf("KVM_CHECK_EXTENSION %s: %w", c, err)
		}

		fmt.Printf("%-16s supported=%d\n", c, n)
	}

	return nil
}
