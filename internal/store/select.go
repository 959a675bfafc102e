package store

import (
	"context"
	"fmt"
	"log/slog"

	"adminreports/internal/config"
	"adminreports/internal/operations"
)

// OpenRunStore opens the run history named by cfg.Driver. The returned close
// function is never nil.
func OpenRunStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (operations.RunStore, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return operations.NewMemoryRunStore(), func() error { return nil }, nil
	case "sqlite", "":
		s, err := Open(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
