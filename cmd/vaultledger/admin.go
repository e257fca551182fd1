package main

import (
	"context"
	"database/sql"

	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/recovery"

	"github.com/rs/zerolog"
)

// adminBackend serves the VaultAdmin operations.
type adminBackend struct {
	db          *sql.DB
	snapshots   *persistence.SnapshotManager
	snapshotter *recovery.Snapshotter
	logger      zerolog.Logger
}

func (a *adminBackend) RebuildProjections(ctx context.Context) error {
	return projection.RebuildProjections(ctx, a.db, a.logger)
}

func (a *adminBackend) LatestSequence(ctx context.Context) (int64, error) {
	return a.snapshots.GetLatestSequence(ctx)
}

func (a *adminBackend) TakeSnapshot(ctx context.Context) (int64, error) {
	return a.snapshotter.Take(ctx)
}
