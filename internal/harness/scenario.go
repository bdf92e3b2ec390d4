package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/triangulate/internal/config"
	"github.com/roach88/triangulate/internal/triangulate"
)

// Scenario defines one end-to-end pipeline run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Inputs maps log file names to their contents. Names must be bare file
	// names; they are written into one scratch directory.
	Inputs map[string]string `yaml:"inputs"`

	// Consolidate runs triangulation over the inputs.
	Consolidate *ConsolidateStep `yaml:"consolidate,omitempty"`

	// Replay applies staged logs from the inputs.
	Replay *ReplayStep `yaml:"replay,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// ConsolidateStep configures the consolidation stage.
type ConsolidateStep struct {
	// Prefix selects observation logs. Defaults to the configured prefix.
	Prefix             string `yaml:"prefix,omitempty"`
	KeyField           string `yaml:"key_field,omitempty"`
	MaxEditDistance    int    `yaml:"max_edit_distance,omitempty"`
	OriginFromFilename bool   `yaml:"origin_from_filename,omitempty"`

	// Apply derives commands from trusted records and replays them.
	Apply bool `yaml:"apply,omitempty"`

	// Store is the apply target: "memory" (default) or "sqlite".
	Store string `yaml:"store,omitempty"`
}

// ReplayStep configures the replay stage.
type ReplayStep struct {
	// Kind is components, links or enrichments.
	Kind string `yaml:"kind"`

	// Prefix selects staged logs. Defaults to the configured prefix for Kind.
	Prefix string `yaml:"prefix,omitempty"`

	// Store is the replay target: "memory" (default) or "sqlite".
	Store string `yaml:"store,omitempty"`

	// Reject maps command keys to rejection messages. Memory store only.
	Reject map[string]string `yaml:"reject,omitempty"`

	// Poison maps command keys to the instance path they corrupt. Memory
	// store only.
	Poison map[string]string `yaml:"poison,omitempty"`

	DryRun bool `yaml:"dry_run,omitempty"`
}

// Assertion checks one property of a scenario result.
type Assertion struct {
	Type string `yaml:"type"`

	// Name is the record name (confidence, conflict, no_conflicts, absent).
	Name string `yaml:"name,omitempty"`

	// Confidence is the expected tier (confidence).
	Confidence string `yaml:"confidence,omitempty"`

	// Field is the disputed field (conflict).
	Field string `yaml:"field,omitempty"`

	// Names are the two display names of a near duplicate (near_duplicate).
	Names []string `yaml:"names,omitempty"`

	// Status is the expected run status (replay_status).
	Status string `yaml:"status,omitempty"`

	// Counts used by replay_counts.
	Attempted int `yaml:"attempted,omitempty"`
	Succeeded int `yaml:"succeeded,omitempty"`
	Skipped   int `yaml:"skipped,omitempty"`
	Failures  int `yaml:"failures,omitempty"`

	// Line locates a command (aborted_at, outcome).
	Line int `yaml:"line,omitempty"`

	InstancePath string `yaml:"instance_path,omitempty"`

	// State is the expected terminal state (outcome).
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertConfidence    = "confidence"
	AssertConflict      = "conflict"
	AssertNoConflicts   = "no_conflicts"
	AssertAbsent        = "absent"
	AssertNearDuplicate = "near_duplicate"
	AssertReplayStatus  = "replay_status"
	AssertReplayCounts  = "replay_counts"
	AssertAbortedAt     = "aborted_at"
	AssertOutcome       = "outcome"
)

// Store names.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("inputs are required and must be non-empty")
	}
	for name := range s.Inputs {
		if name == "" || filepath.Base(name) != name {
			return fmt.Errorf("input %q must be a bare file name", name)
		}
	}

	if s.Consolidate == nil && s.Replay == nil {
		return fmt.Errorf("at least one of consolidate or replay is required")
	}
	if s.Consolidate != nil {
		if s.Consolidate.Apply && s.Replay != nil {
			return fmt.Errorf("consolidate.apply and replay cannot be combined")
		}
		if err := validateStore(s.Consolidate.Store); err != nil {
			return fmt.Errorf("consolidate: %w", err)
		}
	}
	if s.Replay != nil {
		if err := validateReplay(s.Replay); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStore(name string) error {
	switch name {
	case "", StoreMemory, StoreSQLite:
		return nil
	}
	return fmt.Errorf("unknown store %q (expected %s or %s)", name, StoreMemory, StoreSQLite)
}

func validateReplay(r *ReplayStep) error {
	if _, err := config.Default("").ReplayPrefix(r.Kind); err != nil {
		return err
	}
	if err := validateStore(r.Store); err != nil {
		return err
	}
	if r.Store == StoreSQLite && (len(r.Reject) > 0 || len(r.Poison) > 0) {
		return fmt.Errorf("reject and poison need the memory store")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertConfidence:
		if a.Name == "" {
			return fmt.Errorf("%s requires name", a.Type)
		}
		if _, err := triangulate.ParseConfidence(a.Confidence); err != nil {
			return err
		}
	case AssertConflict:
		if a.Name == "" || a.Field == "" {
			return fmt.Errorf("%s requires name and field", a.Type)
		}
	case AssertNoConflicts, AssertAbsent:
		if a.Name == "" {
			return fmt.Errorf("%s requires name", a.Type)
		}
	case AssertNearDuplicate:
		if len(a.Names) != 2 {
			return fmt.Errorf("%s requires exactly two names", a.Type)
		}
	case AssertReplayStatus:
		if a.Status == "" {
			return fmt.Errorf("%s requires status", a.Type)
		}
	case AssertReplayCounts:
	case AssertAbortedAt:
		if a.Line <= 0 {
			return fmt.Errorf("%s requires a positive line", a.Type)
		}
	case AssertOutcome:
		if a.Line <= 0 || a.State == "" {
			return fmt.Errorf("%s requires line and state", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q (expected one of %v)", a.Type, assertionTypes)
	}
	return nil
}

var assertionTypes = []string{
	AssertConfidence, AssertConflict, AssertNoConflicts, AssertAbsent,
	AssertNearDuplicate, AssertReplayStatus, AssertReplayCounts,
	AssertAbortedAt, AssertOutcome,
}

