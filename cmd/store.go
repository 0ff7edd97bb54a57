package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sells-group/pricewatch/internal/store"
)

// initStore opens the configured backend and ensures the schema exists.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// signalContext cancels on SIGINT/SIGTERM so long-running scans stop cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
