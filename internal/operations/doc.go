// Package operations runs report generation as a sequence of steps.
//
// A run moves through the phases
//
//	idle -> fetching -> joining -> filtering -> chunking -> rendering -> done
//
// and ends in done, aborted (the filters left nothing to render) or failed.
// Steps share data through the OperationState context map and report
// stage-local progress, which the StatusBroadcaster folds into one overall
// percentage using the stage budgets in types.go.
//
// Core components:
//
// Manager: owns the single run slot. Start launches a run in the background,
// Run executes it on the caller's goroutine. A second run while one is in
// flight is rejected with ErrRunInProgress.
//
// Step: one unit of the pipeline. The report steps are built by
// NewReportSteps from a Source, a Renderer and a Sink.
//
// StatusBroadcaster: keeps the latest snapshot of every run and pushes each
// change to the WebSocket hub.
//
// RunStore: persists run records. MemoryRunStore is used when nothing else
// is configured.
//
// Example usage:
//
//	registry := operations.NewRegistry()
//	_ = operations.RegisterReportSteps(registry, operations.StepDeps{
//		Source:   src,
//		Renderer: exporter.NewWorkbookRenderer(loc, nil),
//		Sink:     sink,
//		Location: loc,
//	})
//
//	manager := operations.NewManager(hub, registry, operations.NewConfig())
//	rec, err := manager.Run(ctx, operations.RunRequest{
//		Config: domain.ReportConfig{Kind: domain.ReportKindPayments, ChunkSize: 1000},
//		Token:  token,
//	})
package operations
