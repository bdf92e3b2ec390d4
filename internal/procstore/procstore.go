// Package procstore applies staged commands by running an external builder
// CLI once per command.
//
// The CLI's exit status only says that a call failed. Whether the failure
// rejected one command or means the graph itself is poisoned is read from
// the structured error the CLI writes to stderr.
package procstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/triangulate/internal/replay"
)

// DefaultMarker is the error name the builder CLI prints when the graph on
// disk fails its schema.
const DefaultMarker = "RiviereSchemaValidationError"

// DefaultTimeout bounds one CLI call.
const DefaultTimeout = time.Minute

// Options configures a Store.
type Options struct {
	// Command is the program and leading arguments, e.g.
	// ["npx", "riviere", "builder"].
	Command []string
	// GraphPath is passed as --graph when set.
	GraphPath string
	// Dir is the working directory of each call.
	Dir string
	// Marker identifies a schema-validation failure of persisted state.
	Marker string
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Runner executes one process. It returns a non-nil error only when the
// process could not be run or exited unsuccessfully.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Store is a replay.Store and replay.Validator backed by the builder CLI.
type Store struct {
	opts   Options
	runner Runner
	logger *slog.Logger
}

var (
	_ replay.Store     = (*Store)(nil)
	_ replay.Validator = (*Store)(nil)
)

// New creates a Store. A nil runner uses ExecRunner.
func New(opts Options, runner Runner, logger *slog.Logger) (*Store, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("procstore: command is required")
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{opts: opts, runner: runner, logger: logger}, nil
}

// Apply implements replay.Store.
func (s *Store) Apply(ctx context.Context, cmd replay.Command) error {
	return s.call(ctx, replay.Args(cmd))
}

// Validate implements replay.Validator by running the CLI's validate
// subcommand.
func (s *Store) Validate(ctx context.Context) error {
	return s.call(ctx, []string{"validate"})
}

func (s *Store) call(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	full := append(append([]string{}, s.opts.Command[1:]...), args...)
	if s.opts.GraphPath != "" {
		full = append(full, "--graph", s.opts.GraphPath)
	}

	stdout, stderr, err := s.runner.Run(ctx, s.opts.Dir, s.opts.Command[0], full...)
	if err == nil {
		return nil
	}
	s.logger.Debug("builder call failed", "args", full, "error", err)

	se := Classify(stdout, stderr, s.opts.Marker)
	if se.Message == "" {
		se.Message = describe(err)
	}
	se.Err = err
	return se
}

// describe names a process failure without relying on it for
// classification.
func describe(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("CLI failed (exit %d)", exitErr.ExitCode())
	}
	return "CLI failed: " + err.Error()
}

// structuredError is the error envelope the builder CLI writes as one JSON
// line on stderr or stdout.
type structuredError struct {
	Error struct {
		Kind         string `json:"kind"`
		Code         string `json:"code"`
		Message      string `json:"message"`
		InstancePath string `json:"instancePath"`
	} `json:"error"`
}

var instancePathRe = regexp.MustCompile(`instancePath["':\s]+"?([^"\\\n,]+)`)

// Classify turns CLI output into a StoreError. A structured envelope wins;
// otherwise the presence of marker means the persisted graph failed
// validation, and anything else rejects the one command.
func Classify(stdout, stderr []byte, marker string) *replay.StoreError {
	se := &replay.StoreError{Kind: replay.Rejected, Stdout: string(stdout), Stderr: string(stderr)}

	if env, ok := findEnvelope(stderr); ok {
		applyEnvelope(se, env, marker)
		return se
	}
	if env, ok := findEnvelope(stdout); ok {
		applyEnvelope(se, env, marker)
		return se
	}

	if marker != "" && strings.Contains(string(stderr), marker) {
		se.Kind = replay.Poisoned
		se.InstancePath = instancePath(string(stderr))
		se.Message = fmt.Sprintf("%s at %s", marker, se.InstancePath)
	}
	return se
}

func applyEnvelope(se *replay.StoreError, env structuredError, marker string) {
	se.Message = env.Error.Message
	se.InstancePath = env.Error.InstancePath
	if se.InstancePath == "" {
		if m := instancePathRe.FindStringSubmatch(env.Error.Message); m != nil {
			se.InstancePath = strings.TrimSpace(m[1])
		}
	}
	switch strings.ToUpper(env.Error.Kind) {
	case string(replay.Poisoned):
		se.Kind = replay.Poisoned
	case string(replay.Rejected):
		se.Kind = replay.Rejected
	default:
		if marker != "" && (env.Error.Code == marker || strings.Contains(env.Error.Message, marker)) {
			se.Kind = replay.Poisoned
		}
	}
	if se.Kind == replay.Poisoned && se.InstancePath == "" {
		se.InstancePath = "(see stderr)"
	}
}

func findEnvelope(out []byte) (structuredError, bool) {
	for _, line := range bytes.Split(out, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var env structuredError
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		if env.Error.Message != "" || env.Error.Kind != "" || env.Error.Code != "" {
			return env, true
		}
	}
	return structuredError{}, false
}

func instancePath(s string) string {
	if m := instancePathRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "(see stderr)"
}
