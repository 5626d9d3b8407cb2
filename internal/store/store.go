// Package store persists finished alignment runs to PostgreSQL via pgx,
// adapted from the teacher's internal/db/postgres.go (pgxpool connection
// lifecycle, transactional batch insert, ON CONFLICT upsert idiom).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/alignerd/pkg/models"
)

// Store persists alignment runs and their deviation dependencies.
type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx, mirroring
// the teacher's Connect (ping-on-connect, wrapped errors).
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL for alignment store")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql, mirroring the teacher's
// InitSchema file-driven migration idiom.
func (s *Store) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/store/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Alignment run schema initialized")
	return nil
}

// SaveRun persists one finished AlignmentOutcome and its deviation
// dependencies inside a single transaction, mirroring the teacher's
// SaveAnalysisResult (main row + batch child insert, all-or-nothing commit).
// It stamps RunID and AuditHash on outcome in place before writing, so the
// caller's outcome carries both values afterwards.
func (s *Store) SaveRun(ctx context.Context, traceID string, outcome *models.AlignmentOutcome) error {
	if outcome.RunID == "" {
		outcome.RunID = uuid.New().String()
	}
	if outcome.AuditHash == "" {
		outcome.AuditHash = auditHash(outcome)
	}

	alignmentsJSON, err := json.Marshal(outcome.Alignments)
	if err != nil {
		return fmt.Errorf("failed to marshal alignments: %v", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO alignment_runs
		(run_id, trace_id, costs, deviations, queued_events, visited_events, cutoffs,
		 time_taken_ms, extension_time_ms, alignments, audit_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE
		SET costs = EXCLUDED.costs, deviations = EXCLUDED.deviations, audit_hash = EXCLUDED.audit_hash;
	`
	_, err = tx.Exec(ctx, insertRunSQL,
		outcome.RunID, traceID, outcome.Costs, outcome.Deviations,
		outcome.Telemetry.QueuedEvents, outcome.Telemetry.VisitedEvents, outcome.Telemetry.Cutoffs,
		outcome.Telemetry.TimeTaken.Milliseconds(), outcome.Telemetry.TimeTakenInExtensions.Milliseconds(),
		alignmentsJSON, outcome.AuditHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alignment_runs: %v", err)
	}

	if len(outcome.DeviationDeps) > 0 {
		insertDepSQL := `
			INSERT INTO deviation_dependencies
			(run_id, source, target, is_followed, connects_sync_moves)
			VALUES ($1, $2, $3, $4, $5);
		`
		for _, dep := range outcome.DeviationDeps {
			_, err = tx.Exec(ctx, insertDepSQL, outcome.RunID, dep.Source, dep.Target, dep.IsFollowed, dep.ConnectsSyncMoves)
			if err != nil {
				return fmt.Errorf("failed to insert deviation dependency: %v", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// GetRun fetches a persisted run by its id.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.AlignmentOutcome, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, costs, deviations, queued_events, visited_events, cutoffs,
		       time_taken_ms, extension_time_ms, alignments, audit_hash
		FROM alignment_runs WHERE run_id = $1
	`, runID)

	var out models.AlignmentOutcome
	var alignmentsJSON []byte
	var timeTakenMS, extensionMS int64
	if err := row.Scan(&out.RunID, &out.Costs, &out.Deviations,
		&out.Telemetry.QueuedEvents, &out.Telemetry.VisitedEvents, &out.Telemetry.Cutoffs,
		&timeTakenMS, &extensionMS, &alignmentsJSON, &out.AuditHash); err != nil {
		return nil, err
	}
	out.Telemetry.TimeTaken = time.Duration(timeTakenMS) * time.Millisecond
	out.Telemetry.TimeTakenInExtensions = time.Duration(extensionMS) * time.Millisecond

	if err := json.Unmarshal(alignmentsJSON, &out.Alignments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alignments: %v", err)
	}

	depRows, err := s.pool.Query(ctx, `
		SELECT source, target, is_followed, connects_sync_moves
		FROM deviation_dependencies WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, err
	}
	defer depRows.Close()

	for depRows.Next() {
		var d models.Dependency
		if err := depRows.Scan(&d.Source, &d.Target, &d.IsFollowed, &d.ConnectsSyncMoves); err != nil {
			return nil, err
		}
		out.DeviationDeps = append(out.DeviationDeps, d)
	}

	return &out, nil
}

// GetPool exposes the connection pool for callers that need raw access.
func (s *Store) GetPool() *pgxpool.Pool {
	return s.pool
}

// auditHash mirrors the teacher's createEdge audit-hash idiom
// (internal/heuristics/llr_engine.go): a deterministic sha256 over the
// outcome's identifying fields, so two runs over identical input produce
// the same hash regardless of persistence order.
func auditHash(outcome *models.AlignmentOutcome) string {
	payload := fmt.Sprintf("%d|%d|%d|%d", outcome.Costs, outcome.Deviations,
		outcome.Telemetry.QueuedEvents, outcome.Telemetry.VisitedEvents)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
