package machine

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/rs/zerolog/log"

	"github.com/go-dos/kvmdos/kvm"
)

// traceExit logs one line per VM exit when DEBUG is set (§6): exit
// reason, CS:IP, and AX/BX/CX/DX, plus a best-effort
// decode of the instruction at CS:IP. The trace format is advisory
// per §6 and is not part of the stable surface.
func (m *Machine) traceExit(exit kvm.ExitType) {
	regs, err := kvm.GetRegs(m.vcpuFd)
	if err != nil {
		log.Debug().Err(err).Msg("trace: GetRegs failed")

		return
	}

	sregs, err := kvm.GetSregs(m.vcpuFd)
	if err != nil {
		log.Debug().Err(err).Msg("trace: GetSregs failed")

		return
	}

	ev := log.Debug().
		Str("exit", exit.String()).
		Uint16("cs", sregs.CS.Selector).
		Uint16("ip", regs.IP()).
		Uint16("ax", regs.AX()).
		Uint16("bx", regs.BX()).
		Uint16("cx", regs.CX()).
		Uint16("dx", regs.DX())

	if code, err := m.mem.ReadPOD(sregs.CS.Selector, regs.IP(), 16); err == nil {
		if inst, err := x86asm.Decode(code, 16); err == nil {
			ev = ev.Str("inst", inst.String())
		}
	}

	ev.Msg("vm exit")
}
