package operations

import (
	"time"

	"adminreports/pkg/contracts/domain"
)

// Step IDs of the report pipeline
const (
	StepIDFetch  = "fetch"
	StepIDJoin   = "join"
	StepIDFilter = "filter"
	StepIDChunk  = "chunk"
	StepIDRender = "render"
)

// Step names
const (
	StepNameFetch  = "Fetching"
	StepNameJoin   = "Joining"
	StepNameFilter = "Filtering"
	StepNameChunk  = "Chunking"
	StepNameRender = "Rendering"
)

// Context keys for passing data between steps
const (
	ContextKeyPayments      = "payments"       // []domain.RawRecord
	ContextKeyUsers         = "users"          // []domain.RawRecord
	ContextKeyDetails       = "user_details"   // map[string]domain.RawRecord
	ContextKeyPaymentRows   = "payment_rows"   // []domain.PaymentRow
	ContextKeyUserRows      = "user_rows"      // []domain.UserRow
	ContextKeyPaymentChunks = "payment_chunks" // []domain.Chunk[domain.PaymentRow]
	ContextKeyUserChunks    = "user_chunks"    // []domain.Chunk[domain.UserRow]
	ContextKeyRecords       = "records"        // int, size of the filtered set
	ContextKeyArtifacts     = "artifacts"      // []domain.Artifact, metadata only
)

// Default timeouts
const (
	DefaultStepTimeout   = 10 * time.Minute
	DefaultFetchTimeout  = 15 * time.Minute
	DefaultRenderTimeout = 15 * time.Minute
)

// RunPhase is the position of a run in the report state machine
type RunPhase string

const (
	PhaseIdle      RunPhase = "idle"
	PhaseFetching  RunPhase = "fetching"
	PhaseJoining   RunPhase = "joining"
	PhaseFiltering RunPhase = "filtering"
	PhaseChunking  RunPhase = "chunking"
	PhaseRendering RunPhase = "rendering"
	PhaseDone      RunPhase = "done"
	PhaseAborted   RunPhase = "aborted"
	PhaseFailed    RunPhase = "failed"
)

// IsTerminal reports whether no further transition can happen
func (p RunPhase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseAborted || p == PhaseFailed
}

// StageBudget is the slice of the overall percentage owned by one step
type StageBudget struct {
	Start int
	End   int
}

// Width returns the size of the budget
func (b StageBudget) Width() int {
	return b.End - b.Start
}

var stageBudgets = map[string]StageBudget{
	StepIDFetch:  {Start: 0, End: 40},
	StepIDJoin:   {Start: 40, End: 50},
	StepIDFilter: {Start: 50, End: 60},
	StepIDChunk:  {Start: 60, End: 65},
	StepIDRender: {Start: 65, End: 100},
}

// BudgetFor returns the overall progress range of a step
func BudgetFor(stepID string) (StageBudget, bool) {
	b, ok := stageBudgets[stepID]
	return b, ok
}

// OverallPercent maps a stage-local percentage onto the run's 0-100 scale
func OverallPercent(stepID string, percent int) int {
	b, ok := stageBudgets[stepID]
	if !ok {
		return clampPercent(percent)
	}
	return b.Start + b.Width()*clampPercent(percent)/100
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// RunRequest starts one report run. The token is never persisted.
type RunRequest struct {
	ID     string              `json:"id,omitempty"`
	Config domain.ReportConfig `json:"config"`
	Token  string              `json:"-"`
}

// RunRecord is the stored outcome of a run
type RunRecord struct {
	ID         string               `json:"id" db:"id"`
	Kind       domain.ReportKind    `json:"kind" db:"kind"`
	Config     domain.ReportConfig  `json:"config" db:"-"`
	Status     OperationStatusValue `json:"status" db:"status"`
	Phase      RunPhase             `json:"phase" db:"phase"`
	StartedAt  time.Time            `json:"started_at" db:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty" db:"finished_at"`
	Records    int                  `json:"records" db:"records"`
	Artifacts  []domain.Artifact    `json:"artifacts" db:"-"`
	Error      string               `json:"error,omitempty" db:"error"`
	ErrorType  ErrorType            `json:"error_type,omitempty" db:"error_type"`
}

// Clone returns a deep copy of the record
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	c.Artifacts = append([]domain.Artifact(nil), r.Artifacts...)
	return &c
}

// ArtifactNames lists the file names of the emitted artifacts
func (r *RunRecord) ArtifactNames() []string {
	names := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		names[i] = a.FileName
	}
	return names
}
