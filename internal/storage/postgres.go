package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echotrack/attribution/internal/models"
)

// errAppendRace marks a lost optimistic-lock race; the retry loop treats it
// as transient, everything else as permanent.
var errAppendRace = errors.New("append race")

// EnsureSchema creates the attribution tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS attribution_paths (
			id UUID PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			touchpoints JSONB NOT NULL DEFAULT '[]',
			first_touch JSONB,
			last_touch JSONB,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (visitor_id, workspace_id)
		);
		CREATE TABLE IF NOT EXISTS conversions (
			id UUID PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			visitor_id TEXT,
			completed_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_conversions_workspace_time
			ON conversions (workspace_id, completed_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// =============================================
// POSTGRES PATH STORE
// =============================================

// PostgresPathStore implements PathStore using PostgreSQL. One row per
// (visitor, workspace) with the touchpoint sequence as JSONB; concurrent
// appends are serialized with an optimistic version lock and a bounded
// exponential retry loop.
type PostgresPathStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPostgresPathStore creates a new PostgreSQL path store. maxRetries
// bounds the append retry loop.
func NewPostgresPathStore(pool *pgxpool.Pool, maxRetries int) *PostgresPathStore {
	if maxRetries < 1 {
		maxRetries = 5
	}
	return &PostgresPathStore{pool: pool, maxRetries: maxRetries}
}

func (s *PostgresPathStore) AppendTouchpoint(ctx context.Context, visitorID, workspaceID string, tp models.Touchpoint) (*models.AttributionPath, error) {
	var result *models.AttributionPath

	op := func() error {
		existing, err := s.GetPath(ctx, visitorID, workspaceID)
		switch {
		case errors.Is(err, ErrNotFound):
			created, insErr := s.insertPath(ctx, visitorID, workspaceID, tp)
			if insErr != nil {
				return backoff.Permanent(insErr)
			}
			if created == nil {
				// Another writer created the path first.
				return errAppendRace
			}
			result = created
			return nil
		case err != nil:
			return backoff.Permanent(err)
		}

		updated, updErr := s.appendToExisting(ctx, existing, tp)
		if updErr != nil {
			return backoff.Permanent(updErr)
		}
		if updated == nil {
			// Version moved underneath us.
			return errAppendRace
		}
		result = updated
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries)), ctx))
	if err != nil {
		if errors.Is(err, errAppendRace) {
			return nil, fmt.Errorf("%w: visitor %s after %d attempts", ErrConflict, visitorID, s.maxRetries)
		}
		return nil, err
	}
	return result, nil
}

// insertPath creates a fresh single-touchpoint path. Returns (nil, nil) when
// a concurrent insert won the unique-constraint race.
func (s *PostgresPathStore) insertPath(ctx context.Context, visitorID, workspaceID string, tp models.Touchpoint) (*models.AttributionPath, error) {
	now := time.Now().UTC()
	path := &models.AttributionPath{
		ID:          uuid.NewString(),
		VisitorID:   visitorID,
		WorkspaceID: workspaceID,
		Touchpoints: []models.Touchpoint{tp},
		FirstTouch:  &tp,
		LastTouch:   &tp,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tpsJSON, ftJSON, ltJSON, err := marshalPathColumns(path)
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO attribution_paths
			(id, visitor_id, workspace_id, touchpoints, first_touch, last_touch, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (visitor_id, workspace_id) DO NOTHING
	`, path.ID, visitorID, workspaceID, tpsJSON, ftJSON, ltJSON, path.Version, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return path, nil
}

// appendToExisting appends under the optimistic version lock. Returns
// (nil, nil) when the row's version changed since the read.
func (s *PostgresPathStore) appendToExisting(ctx context.Context, path *models.AttributionPath, tp models.Touchpoint) (*models.AttributionPath, error) {
	now := time.Now().UTC()
	last := tp
	path.Touchpoints = append(path.Touchpoints, tp)
	path.LastTouch = &last
	path.UpdatedAt = now

	tpsJSON, _, ltJSON, err := marshalPathColumns(path)
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE attribution_paths
		SET touchpoints = $1, last_touch = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
	`, tpsJSON, ltJSON, now, path.ID, path.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	path.Version++
	return path, nil
}

func (s *PostgresPathStore) GetPath(ctx context.Context, visitorID, workspaceID string) (*models.AttributionPath, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, visitor_id, workspace_id, touchpoints, first_touch, last_touch, version, created_at, updated_at
		FROM attribution_paths
		WHERE visitor_id = $1 AND workspace_id = $2
	`, visitorID, workspaceID)

	path, err := scanPath(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get path: %w", err)
	}
	return path, nil
}

func (s *PostgresPathStore) ListPathsByWorkspace(ctx context.Context, workspaceID string) ([]*models.AttributionPath, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, visitor_id, workspace_id, touchpoints, first_touch, last_touch, version, created_at, updated_at
		FROM attribution_paths
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}
	defer rows.Close()

	var paths []*models.AttributionPath
	for rows.Next() {
		path, err := scanPath(rows)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPath(row rowScanner) (*models.AttributionPath, error) {
	var p models.AttributionPath
	var tpsJSON, ftJSON, ltJSON []byte

	if err := row.Scan(&p.ID, &p.VisitorID, &p.WorkspaceID, &tpsJSON, &ftJSON, &ltJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	if len(tpsJSON) > 0 {
		if err := json.Unmarshal(tpsJSON, &p.Touchpoints); err != nil {
			return nil, fmt.Errorf("failed to parse touchpoints: %w", err)
		}
	}
	if len(ftJSON) > 0 {
		p.FirstTouch = &models.Touchpoint{}
		if err := json.Unmarshal(ftJSON, p.FirstTouch); err != nil {
			return nil, fmt.Errorf("failed to parse first touch: %w", err)
		}
	}
	if len(ltJSON) > 0 {
		p.LastTouch = &models.Touchpoint{}
		if err := json.Unmarshal(ltJSON, p.LastTouch); err != nil {
			return nil, fmt.Errorf("failed to parse last touch: %w", err)
		}
	}
	return &p, nil
}

func marshalPathColumns(p *models.AttributionPath) (tps, ft, lt []byte, err error) {
	tps, err = json.Marshal(p.Touchpoints)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal touchpoints: %w", err)
	}
	if p.FirstTouch != nil {
		ft, err = json.Marshal(p.FirstTouch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal first touch: %w", err)
		}
	}
	if p.LastTouch != nil {
		lt, err = json.Marshal(p.LastTouch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal last touch: %w", err)
		}
	}
	return tps, ft, lt, nil
}

// =============================================
// POSTGRES CONVERSION STORE
// =============================================

// PostgresConversionStore implements ConversionStore using PostgreSQL.
type PostgresConversionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConversionStore creates a new PostgreSQL conversion store.
func NewPostgresConversionStore(pool *pgxpool.Pool) *PostgresConversionStore {
	return &PostgresConversionStore{pool: pool}
}

func (s *PostgresConversionStore) SaveConversion(ctx context.Context, conv *models.Conversion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversions (id, workspace_id, visitor_id, completed_at, status, value)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, conv.ID, conv.WorkspaceID, nullString(conv.VisitorID), conv.CompletedAt, string(conv.Status), conv.Value)
	if err != nil {
		return fmt.Errorf("failed to save conversion: %w", err)
	}
	return nil
}

func (s *PostgresConversionStore) ListConversions(ctx context.Context, workspaceID string, window models.Window) ([]*models.Conversion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, visitor_id, completed_at, status, value
		FROM conversions
		WHERE workspace_id = $1 AND completed_at >= $2 AND completed_at <= $3
		ORDER BY completed_at
	`, workspaceID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var conversions []*models.Conversion
	for rows.Next() {
		var c models.Conversion
		var visitorID *string
		var status string

		if err := rows.Scan(&c.ID, &c.WorkspaceID, &visitorID, &c.CompletedAt, &status, &c.Value); err != nil {
			return nil, err
		}
		if visitorID != nil {
			c.VisitorID = *visitorID
		}
		c.Status = models.CallStatus(status)
		conversions = append(conversions, &c)
	}
	return conversions, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
