// Package cli parses the host CLI surface (spec.md §6,
// SPEC_FULL.md §1): a `run` subcommand that boots a .com image, and a
// `probe` subcommand that checks /dev/kvm accessibility, grounded on
// the teacher's kong-based subcommand split.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-dos/kvmdos/machine"
	"github.com/go-dos/kvmdos/probe"
)

// CLI is the top-level kong command tree: `kvmdos run ...` or
// `kvmdos probe`.
type CLI struct {
	Run   RunCmd   `cmd:"" help:"Boot a .com image under kvmdos."`
	Probe ProbeCmd `cmd:"" help:"Check /dev/kvm accessibility and report supported capabilities."`
}

// RunCmd is spec.md §6's `program <guest-image> [<dos-arg>...]`
// surface.
type RunCmd struct {
	Dev   string   `short:"D" default:"/dev/kvm" help:"path of the kvm device"`
	Image string   `arg:"" help:"path to a flat .com executable"`
	Args  []string `arg:"" optional:"" help:"DOS command-line arguments"`
}

// ProbeCmd takes no arguments; SPEC_FULL.md §3's `probe` subcommand.
type ProbeCmd struct {
	Dev string `short:"D" default:"/dev/kvm" help:"path of the kvm device"`
}

func (r *RunCmd) Run() error {
	image, err := os.ReadFile(r.Image)
	if err != nil {
		return fmt.Errorf("read %s: %w", r.Image, err)
	}

	m, err := machine.New(r.Dev)
	if err != nil {
		return fmt.Errorf("machine.New: %w", err)
	}

	if err := m.Boot(image, r.Args); err != nil {
		return fmt.Errorf("Boot: %w", err)
	}

	code, err := m.RunInfiniteLoop()
	if err != nil {
		log.Error().Err(err).Msg("guest terminated abnormally")
		os.Exit(machine.ReservedExitCode)
	}

	os.Exit(code)

	return nil
}

func (p *ProbeCmd) Run() error {
	return probe.Run(p.Dev)
}

// Parse parses os.Args and runs the selected subcommand, exactly as
// the teacher's flag.Parse entry point does.
func Parse() error {
	configureLogging()

	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("kvmdos"),
		kong.Description("kvmdos is a minimal 16-bit DOS emulator built on KVM"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return ctx.Run()
}

// configureLogging sets up zerolog's console writer on stderr for both
// bootstrap/fatal-path structured logging and the DEBUG VM-exit trace
// (SPEC_FULL.md §1, §6): machine.traceExit logs through this same
// log.Logger, gated to zerolog.DebugLevel by the DEBUG environment
// variable below.
func configureLogging() {
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	if os.Getenv("DEBUG") == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
