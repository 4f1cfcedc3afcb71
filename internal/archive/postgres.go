package archive

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fedlearn/coordinator-engine/internal/ledger"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside runtime images that do not ship the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// PostgresArchive is a write-only sink for closed-round snapshots. The
// coordinator runs fine without it; every failure here is logged and
// swallowed so archival can never stall a round.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool.
func Connect(connStr string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}
	log.Println("[Archive] Connected to PostgreSQL round-history archive")
	return &PostgresArchive{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (a *PostgresArchive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// InitSchema executes the embedded DDL.
func (a *PostgresArchive) InitSchema() error {
	if _, err := a.pool.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Println("[Archive] Round-history schema initialized")
	return nil
}

// ArchiveRound upserts one closed-round snapshot.
func (a *PostgresArchive) ArchiveRound(ctx context.Context, snap *ledger.RoundSnapshot) error {
	rejected, err := json.Marshal(snap.UpdatesRejectedByReason)
	if err != nil {
		rejected = []byte("{}")
	}
	stragglers, err := json.Marshal(snap.Stragglers)
	if err != nil {
		stragglers = []byte("[]")
	}

	sql := `
		INSERT INTO round_history
			(round_id, model_version, close_reason, clients_assigned,
			 updates_received, updates_accepted, rejected_by_reason,
			 stragglers, round_started_at, round_closed_at, aggregation_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (round_id) DO UPDATE SET
			close_reason = EXCLUDED.close_reason,
			updates_received = EXCLUDED.updates_received,
			updates_accepted = EXCLUDED.updates_accepted,
			rejected_by_reason = EXCLUDED.rejected_by_reason,
			stragglers = EXCLUDED.stragglers,
			round_closed_at = EXCLUDED.round_closed_at,
			aggregation_seconds = EXCLUDED.aggregation_seconds,
			archived_at = NOW();
	`
	_, err = a.pool.Exec(ctx, sql,
		snap.RoundID,
		snap.ModelVersion,
		snap.CloseReason,
		snap.ClientsAssigned,
		snap.UpdatesReceived,
		snap.UpdatesAccepted,
		rejected,
		stragglers,
		snap.RoundStartedAt,
		snap.RoundClosedAt,
		snap.AggregationDurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to archive round %d: %v", snap.RoundID, err)
	}
	return nil
}
