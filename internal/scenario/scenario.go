// Package scenario drives a looper.Registry from a declarative YAML script and
// records every task execution as a types.Event.
//
// A scenario is a list of steps executed in order on the caller's goroutine.
// Tasks posted by a scenario record their label when they run and may post
// further tasks of their own, so nested and re-entrant behaviour can be
// exercised without writing Go.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snehjoshi/vloop/internal/types"
)

// Op names a step.
type Op string

const (
	OpPost           Op = "post"
	OpPostFront      Op = "post_front"
	OpIdle           Op = "idle"
	OpIdleConstantly Op = "idle_constantly"
	OpPause          Op = "pause"
	OpUnpause        Op = "unpause"
	OpRunToEnd       Op = "run_to_end"
	OpRunToNext      Op = "run_to_next"
	OpRunOne         Op = "run_one"
	OpQuit           Op = "quit"
	OpReset          Op = "reset"
	OpResetAll       Op = "reset_all"
	OpLoop           Op = "loop"
	OpWait           Op = "wait"
)

var knownOps = map[Op]bool{
	OpPost: true, OpPostFront: true, OpIdle: true, OpIdleConstantly: true,
	OpPause: true, OpUnpause: true, OpRunToEnd: true, OpRunToNext: true,
	OpRunOne: true, OpQuit: true, OpReset: true, OpResetAll: true,
	OpLoop: true, OpWait: true,
}

// Names accepted by Step.ExpectError.
const (
	ErrNameMainLooperQuit = "main_looper_quit"
	ErrNameNotMainThread  = "not_main_thread"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("scenario: invalid")

// Scenario is a named, ordered list of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one instruction. Which fields apply depends on Op:
//
//	post, post_front  Label (required), Delay (post only), Posts
//	idle              Duration
//	idle_constantly   Enabled
//	reset_all         Thread names the caller rather than the target
//
// Every op accepts Expect, and ops that can fail accept ExpectError.
type Step struct {
	Op     Op     `yaml:"op"`
	Thread string `yaml:"thread"`
	Label  string `yaml:"label"`

	Delay    time.Duration `yaml:"delay"`
	Duration time.Duration `yaml:"duration"`
	Enabled  bool          `yaml:"enabled"`

	// Posts are posted to the same thread when this step's task runs.
	Posts []Step `yaml:"posts"`

	// Expect lists the labels that must have run since the previous step that
	// carried an expectation. Omitted means unchecked; an empty list means
	// nothing may have run.
	Expect *[]string `yaml:"expect"`

	// ExpectRejected asserts that a post is refused by a quit looper.
	ExpectRejected bool `yaml:"expect_rejected"`

	// ExpectError names the usage violation the step must produce.
	ExpectError string `yaml:"expect_error"`

	// Want asserts the boolean reported by idle and run_* ops.
	Want *bool `yaml:"want"`
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses the scenario file at path. A scenario without a name
// is named after its file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

// Validate checks every step. It returns the first problem found.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalid)
	}
	for i := range sc.Steps {
		if err := validateStep(&sc.Steps[i], fmt.Sprintf("step %d", i+1), false); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Step, where string, nested bool) error {
	if !knownOps[s.Op] {
		return fmt.Errorf("%w: %s: unknown op %q", ErrInvalid, where, s.Op)
	}
	isPost := s.Op == OpPost || s.Op == OpPostFront
	if nested && !isPost {
		return fmt.Errorf("%w: %s: nested steps must be posts, got %q", ErrInvalid, where, s.Op)
	}
	if nested && (s.Expect != nil || s.ExpectError != "" || s.ExpectRejected || s.Thread != "") {
		return fmt.Errorf("%w: %s: nested posts take no thread or expectations", ErrInvalid, where)
	}
	if isPost && s.Label == "" {
		return fmt.Errorf("%w: %s: %s requires a label", ErrInvalid, where, s.Op)
	}
	if len(s.Label) > types.MaxFieldLen || len(s.Thread) > types.MaxFieldLen {
		return fmt.Errorf("%w: %s: label and thread must be at most %d bytes", ErrInvalid, where, types.MaxFieldLen)
	}
	if !isPost && (len(s.Posts) > 0 || s.ExpectRejected) {
		return fmt.Errorf("%w: %s: posts and expect_rejected only apply to post ops", ErrInvalid, where)
	}
	if s.Delay < 0 || s.Duration < 0 {
		return fmt.Errorf("%w: %s: negative delay or duration", ErrInvalid, where)
	}
	if s.Op == OpPostFront && s.Delay != 0 {
		return fmt.Errorf("%w: %s: post_front takes no delay", ErrInvalid, where)
	}
	switch s.ExpectError {
	case "", ErrNameMainLooperQuit, ErrNameNotMainThread:
	default:
		return fmt.Errorf("%w: %s: unknown expect_error %q", ErrInvalid, where, s.ExpectError)
	}
	if s.ExpectError != "" && s.Op != OpQuit && s.Op != OpResetAll {
		return fmt.Errorf("%w: %s: expect_error only applies to quit and reset_all", ErrInvalid, where)
	}
	if s.Want != nil {
		switch s.Op {
		case OpIdle, OpRunToEnd, OpRunToNext, OpRunOne:
		default:
			return fmt.Errorf("%w: %s: want only applies to idle and run ops", ErrInvalid, where)
		}
	}
	for j := range s.Posts {
		if err := validateStep(&s.Posts[j], fmt.Sprintf("%s.posts[%d]", where, j), true); err != nil {
			return err
		}
	}
	return nil
}
