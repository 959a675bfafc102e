package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"adminreports/internal/infrastructure"
	"adminreports/pkg/contracts/domain"
)

// ErrArtifactNotFound is returned when a stored artifact does not exist
var ErrArtifactNotFound = errors.New("artifact not found")

// Sink receives rendered artifacts. Emit may set the artifact Location.
type Sink interface {
	Emit(ctx context.Context, runID string, artifact *domain.Artifact) error
}

// ArtifactReader opens previously emitted artifacts
type ArtifactReader interface {
	Open(runID, fileName string) (io.ReadCloser, error)
}

// DirectorySink writes artifacts to <root>/<run_id>/<file_name>
type DirectorySink struct {
	root   string
	logger *slog.Logger
}

// NewDirectorySink creates a sink rooted at dir
func NewDirectorySink(dir string) *DirectorySink {
	return &DirectorySink{
		root:   dir,
		logger: infrastructure.GetLogger().With(slog.String("component", "directory_sink")),
	}
}

// Root returns the output directory
func (s *DirectorySink) Root() string {
	return s.root
}

// Emit writes the artifact atomically through a temporary file
func (s *DirectorySink) Emit(ctx context.Context, runID string, artifact *domain.Artifact) error {
	path, err := s.path(runID, artifact.FileName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", artifact.FileName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", artifact.FileName, err)
	}

	artifact.Location = path
	s.logger.InfoContext(ctx, "artifact_written",
		slog.String("run_id", runID),
		slog.String("file", artifact.FileName),
		slog.Int64("size", artifact.Size),
	)
	return nil
}

// Open opens a written artifact
func (s *DirectorySink) Open(runID, fileName string) (io.ReadCloser, error) {
	path, err := s.path(runID, fileName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	return f, err
}

func (s *DirectorySink) path(runID, fileName string) (string, error) {
	if !safeName(runID) || !safeName(fileName) {
		return "", fmt.Errorf("invalid artifact path %q/%q: %w", runID, fileName, ErrArtifactNotFound)
	}
	return filepath.Join(s.root, runID, fileName), nil
}

// safeName rejects anything that could leave the run directory
func safeName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// MemorySink keeps artifacts in memory, keyed by run
type MemorySink struct {
	mu        sync.RWMutex
	artifacts map[string][]domain.Artifact
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{artifacts: make(map[string][]domain.Artifact)}
}

// Emit stores a copy of the artifact
func (s *MemorySink) Emit(_ context.Context, runID string, artifact *domain.Artifact) error {
	stored := *artifact
	stored.Data = bytes.Clone(artifact.Data)
	if artifact.Location == "" {
		artifact.Location = "memory://" + runID + "/" + artifact.FileName
	}
	stored.Location = artifact.Location

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[runID] = append(s.artifacts[runID], stored)
	return nil
}

// Artifacts returns the artifacts emitted for a run in emission order
func (s *MemorySink) Artifacts(runID string) []domain.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Artifact(nil), s.artifacts[runID]...)
}

// Open returns the payload of a stored artifact
func (s *MemorySink) Open(runID, fileName string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.artifacts[runID] {
		if a.FileName == fileName {
			return io.NopCloser(bytes.NewReader(a.Data)), nil
		}
	}
	return nil, ErrArtifactNotFound
}

// MultiSink emits to every sink in order and stops at the first failure
type MultiSink []Sink

// Emit implements Sink
func (m MultiSink) Emit(ctx context.Context, runID string, artifact *domain.Artifact) error {
	for _, s := range m {
		if err := s.Emit(ctx, runID, artifact); err != nil {
			return err
		}
	}
	return nil
}

// BestEffortSink logs and drops the errors of a secondary sink such as the
// run log, so a stored workbook is never reported as failed because of it
type BestEffortSink struct {
	Sink   Sink
	Logger *slog.Logger
}

// Emit implements Sink
func (s BestEffortSink) Emit(ctx context.Context, runID string, artifact *domain.Artifact) error {
	if err := s.Sink.Emit(ctx, runID, artifact); err != nil {
		logger := s.Logger
		if logger == nil {
			logger = infrastructure.GetLogger()
		}
		logger.WarnContext(ctx, "secondary_sink_failed",
			slog.String("run_id", runID),
			slog.String("file", artifact.FileName),
			slog.String("error", err.Error()))
	}
	return nil
}
