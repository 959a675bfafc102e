package testutil

import (
	"context"
	"sync"

	"adminreports/pkg/contracts/domain"
)

// RecordingSink records emitted artifacts and fails the parts listed in Fail
type RecordingSink struct {
	mu      sync.Mutex
	Fail    map[int]error
	emitted []domain.Artifact
}

// Emit implements the exporter sink contract
func (s *RecordingSink) Emit(_ context.Context, runID string, artifact *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.Fail[artifact.Part]; ok {
		return err
	}
	artifact.Location = "test://" + runID + "/" + artifact.FileName
	s.emitted = append(s.emitted, *artifact)
	return nil
}

// Emitted returns the artifacts accepted so far
func (s *RecordingSink) Emitted() []domain.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Artifact(nil), s.emitted...)
}
