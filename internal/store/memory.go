package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/hps-group/dealengine/internal/model"
)

// MemoryStore implements Store with in-process maps. It is used by tests
// and by one-shot CLI invocations that do not need durable history.
type MemoryStore struct {
	mu        sync.Mutex
	runs      map[string]model.RunRow
	runsByKey map[string]string // dedupe identity -> run ID
	overrides map[string]model.PolicyOverride
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]model.RunRow),
		runsByKey: make(map[string]string),
		overrides: make(map[string]model.PolicyOverride),
	}
}

func runIdentity(orgID string, posture model.Posture, inputHash, policyHash string) string {
	return strings.Join([]string{orgID, string(posture), inputHash, policyHash}, "|")
}

func (s *MemoryStore) SaveRun(ctx context.Context, row *model.RunRow) (*SaveRunResult, error) {
	if row == nil {
		return nil, eris.New("memory: nil run row")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runIdentity(row.OrgID, row.Posture, row.InputHash, row.PolicyHash)
	if existingID, ok := s.runsByKey[key]; ok {
		existing := s.runs[existingID]
		return &SaveRunResult{Run: &existing, Deduped: true}, nil
	}

	stored := *row
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.runs[stored.ID] = stored
	s.runsByKey[key] = stored.ID

	out := stored
	return &SaveRunResult{Run: &out}, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*model.RunRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: run %s", runID)
	}
	return &r, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []model.RunRow
	for _, r := range s.runs {
		if filter.OrgID != "" && r.OrgID != filter.OrgID {
			continue
		}
		if filter.Posture != "" && r.Posture != filter.Posture {
			continue
		}
		if filter.DealID != "" && r.DealID != filter.DealID {
			continue
		}
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return paginate(runs, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) CreateOverride(ctx context.Context, o *model.PolicyOverride) (*model.PolicyOverride, error) {
	if o == nil {
		return nil, eris.New("memory: nil override")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *o
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = model.OverrideStatusPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.overrides[stored.ID] = stored

	out := stored
	return &out, nil
}

func (s *MemoryStore) GetOverride(ctx context.Context, id string) (*model.PolicyOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: override %s", id)
	}
	return &o, nil
}

func (s *MemoryStore) ListOverrides(ctx context.Context, filter OverrideFilter) ([]model.PolicyOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overrides []model.PolicyOverride
	for _, o := range s.overrides {
		if filter.OrgID != "" && o.OrgID != filter.OrgID {
			continue
		}
		if filter.Posture != "" && o.Posture != filter.Posture {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		overrides = append(overrides, o)
	}
	sort.Slice(overrides, func(i, j int) bool {
		if overrides[i].CreatedAt.Equal(overrides[j].CreatedAt) {
			return overrides[i].ID > overrides[j].ID
		}
		return overrides[i].CreatedAt.After(overrides[j].CreatedAt)
	})
	return paginate(overrides, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) DecideOverride(ctx context.Context, id string, status model.OverrideStatus, decidedBy string) (*model.PolicyOverride, error) {
	if !status.Terminal() {
		return nil, eris.Errorf("memory: decision status must be terminal, got %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: override %s", id)
	}
	if o.Status != model.OverrideStatusPending {
		return nil, eris.Wrapf(ErrAlreadyDecided, "memory: override %s is %s", id, o.Status)
	}

	now := time.Now().UTC()
	o.Status = status
	o.DecidedBy = decidedBy
	o.DecidedAt = &now
	s.overrides[id] = o

	out := o
	return &out, nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit <= 0 {
		limit = 100
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
