// Package state manages the durable record of a workflow run.
//
// Each run is identified by an opaque run ID and persists a small JSON record
// under <agents-dir>/<run-id>/state.json. The record threads identity and
// progress across independently invoked phase processes: a phase loads it,
// mutates its in-memory copy, and must call Store.Save to make the mutation
// durable. Records are never deleted; they double as the audit trail.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const stateFilename = "state.json"

var (
	// ErrEmptyRunID indicates a run was created without an identifier.
	ErrEmptyRunID = errors.New("run id is required")

	// ErrNotFound indicates no record exists for the run ID. Absence is a
	// normal resumption case, not a fault; callers check with errors.Is.
	ErrNotFound = errors.New("run state not found")
)

// Run is the persistent record of one workflow run. RunID is immutable once
// created; the remaining fields are filled in by the phases that produce
// them and may be legitimately absent until then.
type Run struct {
	RunID       string    `json:"run_id"`
	IssueNumber string    `json:"issue_number,omitempty"`
	BranchName  string    `json:"branch_name,omitempty"`
	PlanFile    string    `json:"plan_file,omitempty"`
	IssueClass  string    `json:"issue_class,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Recognized Update keys.
const (
	FieldIssueNumber = "issue_number"
	FieldBranchName  = "branch_name"
	FieldPlanFile    = "plan_file"
	FieldIssueClass  = "issue_class"
)

// Update merges recognized fields into the run and refreshes UpdatedAt when
// a value actually changes. Unrecognized keys are silently dropped, so
// callers can pass through loosely shaped data from agents without breaking
// on new keys.
func (r *Run) Update(fields map[string]string) {
	changed := false
	for key, value := range fields {
		switch key {
		case FieldIssueNumber:
			changed = changed || r.IssueNumber != value
			r.IssueNumber = value
		case FieldBranchName:
			changed = changed || r.BranchName != value
			r.BranchName = value
		case FieldPlanFile:
			changed = changed || r.PlanFile != value
			r.PlanFile = value
		case FieldIssueClass:
			changed = changed || r.IssueClass != value
			r.IssueClass = value
		}
	}
	if changed {
		r.UpdatedAt = time.Now().UTC()
	}
}

// Store persists Run records under a root directory, one subdirectory per
// run. Store owns the persisted form exclusively; phases mutate in-memory
// Runs and call Save.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates a store rooted at dir (the agents directory).
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: dir, logger: logger}
}

// RunDir returns the directory holding a run's state, prompts, and
// transcripts.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// Create initializes a new record with only the identifier set.
func (s *Store) Create(runID string) (*Run, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	return &Run{RunID: runID, CreatedAt: time.Now().UTC()}, nil
}

// Load reads the record for runID. A missing record returns ErrNotFound;
// unknown JSON fields in an existing record are ignored so that records
// written by newer versions still load.
func (s *Store) Load(runID string) (*Run, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}

	path := filepath.Join(s.RunDir(runID), stateFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	if run.RunID == "" {
		run.RunID = runID
	}

	s.logger.Debug("loaded run state", zap.String("run_id", runID), zap.String("path", path))
	return &run, nil
}

// Save durably writes the full record. The write is atomic from a reader's
// perspective (temp file + rename) and idempotent: saving an unchanged run
// twice produces byte-identical files. The savedBy attribution is advisory,
// logged for audit, not part of the record.
func (s *Store) Save(run *Run, savedBy string) error {
	if run == nil || run.RunID == "" {
		return ErrEmptyRunID
	}

	dir := s.RunDir(run.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}

	path := filepath.Join(dir, stateFilename)
	tmp, err := os.CreateTemp(dir, stateFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}

	s.logger.Info("saved run state",
		zap.String("run_id", run.RunID),
		zap.String("path", path),
		zap.String("saved_by", savedBy),
	)
	return nil
}
