package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

// State tracks the process lifecycle from construction to teardown.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer flushes in-flight work before shutdown completes. The engine
// implements it by stopping the active session and closing the telemetry
// chain, so buffered metrics reach disk before the process exits.
type Drainer interface {
	Drain() error
}

const EngineVersion = "dev"

// PrintBanner writes the startup banner. Color and template expansion are
// handled by the banner package; a non-terminal stdout disables color.
func PrintBanner() {
	tpl := "{{ .Title \"DUPLEX\" \"\" 0 }}\n" +
		"Version: " + EngineVersion +
		"  Go: {{ .GoVersion }} {{ .GOOS }}/{{ .GOARCH }}\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
