// Package checkpoint persists the run history so an interrupted or
// finished run can be resumed.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/triad/pkg/conversation"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Version is the current checkpoint format.
const Version = 1

// Checkpoint is a saved run.
type Checkpoint struct {
	Version     int                    `json:"version"`
	SavedAt     time.Time              `json:"saved_at"`
	RunID       string                 `json:"run_id,omitempty"`
	Instruction string                 `json:"instruction"`
	Session     int                    `json:"session"`
	Step        int                    `json:"step"`
	Messages    []conversation.Message `json:"messages"`
}

// Store reads and writes a single checkpoint file.
type Store struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a store backed by path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "checkpoint").Logger(),
		now:    time.Now,
	}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Save overwrites the checkpoint. The file is written to a temporary
// sibling and renamed so a crash never leaves a partial checkpoint.
func (s *Store) Save(cp *Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	out := *cp
	out.Version = Version
	if out.SavedAt.IsZero() {
		out.SavedAt = s.now().UTC()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	suffix, err := gonanoid.New(8)
	if err != nil {
		return fmt.Errorf("failed to create temp name: %w", err)
	}
	tmp := s.path + ".tmp-" + suffix
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("messages", len(out.Messages)).
		Int("session", out.Session).
		Msg("Checkpoint saved")
	return nil
}

// Load returns the saved checkpoint, or nil when there is none or it cannot
// be used. Unusable checkpoints are logged, not returned as errors.
func (s *Store) Load() *Checkpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Checkpoint unreadable")
		}
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Checkpoint undecodable")
		return nil
	}
	if cp.Version > Version {
		s.logger.Warn().Int("version", cp.Version).Msg("Checkpoint from a newer version")
		return nil
	}
	if err := conversation.ValidateToolPairing(cp.Messages); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Checkpoint history is inconsistent")
		return nil
	}
	return &cp
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Remove deletes the checkpoint. A missing checkpoint is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
