package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echotrack/attribution/internal/models"
)

// =============================================
// IN-MEMORY PATH STORE
// =============================================

type pathKey struct {
	visitorID   string
	workspaceID string
}

// pathEntry carries its own lock so appends for different visitors never
// contend with each other.
type pathEntry struct {
	mu   sync.Mutex
	path *models.AttributionPath
}

// InMemoryPathStore provides in-memory path storage. Used when PostgreSQL is
// unavailable and in tests.
type InMemoryPathStore struct {
	mu    sync.RWMutex
	paths map[pathKey]*pathEntry
}

// NewInMemoryPathStore creates a new in-memory path store.
func NewInMemoryPathStore() *InMemoryPathStore {
	return &InMemoryPathStore{
		paths: make(map[pathKey]*pathEntry),
	}
}

func (s *InMemoryPathStore) entry(key pathKey) *pathEntry {
	s.mu.RLock()
	e, ok := s.paths[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.paths[key]; ok {
		return e
	}
	e = &pathEntry{}
	s.paths[key] = e
	return e
}

func (s *InMemoryPathStore) AppendTouchpoint(ctx context.Context, visitorID, workspaceID string, tp models.Touchpoint) (*models.AttributionPath, error) {
	e := s.entry(pathKey{visitorID: visitorID, workspaceID: workspaceID})

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	if e.path == nil {
		first := tp
		last := tp
		e.path = &models.AttributionPath{
			ID:          uuid.NewString(),
			VisitorID:   visitorID,
			WorkspaceID: workspaceID,
			Touchpoints: []models.Touchpoint{tp},
			FirstTouch:  &first,
			LastTouch:   &last,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return e.path.Clone(), nil
	}

	last := tp
	e.path.Touchpoints = append(e.path.Touchpoints, tp)
	e.path.LastTouch = &last
	e.path.Version++
	e.path.UpdatedAt = now
	return e.path.Clone(), nil
}

func (s *InMemoryPathStore) GetPath(ctx context.Context, visitorID, workspaceID string) (*models.AttributionPath, error) {
	s.mu.RLock()
	e, ok := s.paths[pathKey{visitorID: visitorID, workspaceID: workspaceID}]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path == nil {
		return nil, ErrNotFound
	}
	return e.path.Clone(), nil
}

func (s *InMemoryPathStore) ListPathsByWorkspace(ctx context.Context, workspaceID string) ([]*models.AttributionPath, error) {
	s.mu.RLock()
	entries := make([]*pathEntry, 0)
	for key, e := range s.paths {
		if key.workspaceID == workspaceID {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	result := make([]*models.AttributionPath, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.path != nil {
			result = append(result, e.path.Clone())
		}
		e.mu.Unlock()
	}
	return result, nil
}

// =============================================
// IN-MEMORY CONVERSION STORE
// =============================================

// InMemoryConversionStore provides in-memory conversion storage.
type InMemoryConversionStore struct {
	mu          sync.RWMutex
	conversions map[string]*models.Conversion

	// Index for workspace queries
	byWorkspace map[string][]string // workspace_id -> []conversion_id
}

// NewInMemoryConversionStore creates a new in-memory conversion store.
func NewInMemoryConversionStore() *InMemoryConversionStore {
	return &InMemoryConversionStore{
		conversions: make(map[string]*models.Conversion),
		byWorkspace: make(map[string][]string),
	}
}

func (s *InMemoryConversionStore) SaveConversion(ctx context.Context, conv *models.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversions[conv.ID]; !exists {
		s.byWorkspace[conv.WorkspaceID] = append(s.byWorkspace[conv.WorkspaceID], conv.ID)
	}
	cp := *conv
	s.conversions[conv.ID] = &cp
	return nil
}

func (s *InMemoryConversionStore) ListConversions(ctx context.Context, workspaceID string, window models.Window) ([]*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWorkspace[workspaceID]
	result := make([]*models.Conversion, 0, len(ids))
	for _, id := range ids {
		conv := s.conversions[id]
		if conv != nil && window.Contains(conv.CompletedAt) {
			cp := *conv
			result = append(result, &cp)
		}
	}
	return result, nil
}
