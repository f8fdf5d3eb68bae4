package storage

import (
	"context"
	"errors"

	"github.com/echotrack/attribution/internal/models"
)

// ErrNotFound is returned when a path lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a path append loses the optimistic-lock race
// more times than the configured retry budget allows. Callers are expected
// to retry the whole submission.
var ErrConflict = errors.New("path append conflict")

// =============================================
// PATH STORE
// =============================================

// PathStore persists per-(visitor, workspace) attribution paths. Appends for
// the same visitor serialize; appends for different visitors are independent.
// Implementations return clones, so readers never see a path mid-append.
type PathStore interface {
	// AppendTouchpoint appends to the visitor's path, creating it on first
	// contact. FirstTouch is preserved unconditionally; LastTouch always
	// becomes the new touchpoint.
	AppendTouchpoint(ctx context.Context, visitorID, workspaceID string, tp models.Touchpoint) (*models.AttributionPath, error)

	// GetPath returns the path for a visitor or ErrNotFound.
	GetPath(ctx context.Context, visitorID, workspaceID string) (*models.AttributionPath, error)

	// ListPathsByWorkspace returns all paths in a workspace.
	ListPathsByWorkspace(ctx context.Context, workspaceID string) ([]*models.AttributionPath, error)
}

// =============================================
// CONVERSION STORE
// =============================================

// ConversionStore persists resolved call records of every status. Attribution
// filters down to completed calls at aggregation time.
type ConversionStore interface {
	SaveConversion(ctx context.Context, conv *models.Conversion) error

	// ListConversions returns the workspace's calls whose resolution time
	// falls inside the window, regardless of status.
	ListConversions(ctx context.Context, workspaceID string, window models.Window) ([]*models.Conversion, error)
}

// =============================================
// TOUCHPOINT EVENT LOG
// =============================================

// EventLog is an append-only sink for raw touchpoint events, used for
// offline analytics. Writes are best effort; a failing log never blocks
// ingestion.
type EventLog interface {
	AppendEvent(ctx context.Context, visit *models.RawVisit, tp models.Touchpoint) error
}
