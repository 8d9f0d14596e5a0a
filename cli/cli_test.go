package cli

import (
	"testing"

	"github.com/alecthomas/kong"
)

func parseArgs(t *testing.T, args ...string) *CLI {
	t.Helper()

	c := &CLI{}

	parser, err := kong.New(c, kong.Name("kvmdos"))
	if err != nil {
		t.Fatalf("kong.New: %v", err)
	}

	if _, err := parser.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}

	return c
}

func TestRunCmdDefaultsDevPath(t *testing.T) {
	t.Parallel()

	c := parseArgs(t, "run", "game.com")

	if c.Run.Dev != "/dev/kvm" {
		t.Errorf("Dev: have %q, want /dev/kvm", c.Run.Dev)
	}

	if c.Run.Image != "game.com" {
		t.Errorf("Image: have %q, want game.com", c.Run.Image)
	}

	if len(c.Run.Args) != 0 {
		t.Errorf("Args: have %v, want empty", c.Run.Args)
	}
}

func TestRunCmdCollectsDOSArgs(t *testing.T) {
	t.Parallel()

	c := parseArgs(t, "run", "-D", "/tmp/kvm", "game.com", "foo", "bar")

	if c.Run.Dev != "/tmp/kvm" {
		t.Errorf("Dev: have %q, want /tmp/kvm", c.Run.Dev)
	}

	if c.Run.Image != "game.com" {
		t.Errorf("Image: have %q, want game.com", c.Run.Image)
	}

	if len(c.Run.Args) != 2 || c.Run.Args[0] != "foo" || c.Run.Args[1] != "bar" {
		t.Errorf("Args: have %v, want [foo bar]", c.Run.Args)
	}
}

func TestProbeCmdDefaultsDevPath(t *testing.T) {
	t.Parallel()

	c := parseArgs(t, "probe")

	if c.Probe.Dev != "/dev/kvm" {
		t.Errorf("Dev: have %q, want /dev/kvm", c.Probe.Dev)
	}
}

func TestRunCmdRequiresImage(t *testing.T) {
	t.Parallel()

	c := &CLI{}

	parser, err := kong.New(c, kong.Name("kvmdos"))
	if err != nil {
		t.Fatalf("kong.New: %v", err)
	}

	if _, err := parser.Parse([]string{"run"}); err == nil {
		t.Fatalf("expected an error when the image argument is missing")
	}
}
