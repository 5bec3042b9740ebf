package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	results  map[string]map[string]domain.StoredResult
	searches []domain.SearchLog
	apiUsage []domain.APIUsage
	apiKeys  map[string]domain.APIKey
	now      func() time.Time
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*domain.User),
		results: make(map[string]map[string]domain.StoredResult),
		apiKeys: make(map[string]domain.APIKey),
		now:     time.Now,
	}
}

// GetUser implements Store.
func (s *MemoryStore) GetUser(_ context.Context, uid string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return nil, domain.NewNotFoundError("user", uid)
	}
	cp := *u
	return &cp, nil
}

// CreateUser implements Store.
func (s *MemoryStore) CreateUser(_ context.Context, user *domain.User) error {
	if user == nil || user.UID == "" {
		return domain.NewValidationError("uid", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.UID]; ok {
		return domain.NewAlreadyExistsError("user", user.UID)
	}
	prepareNewUser(user, len(s.users) == 0, s.now())
	cp := *user
	s.users[user.UID] = &cp
	return nil
}

// RecordLogin implements Store.
func (s *MemoryStore) RecordLogin(_ context.Context, uid string) error {
	return s.update(uid, func(u *domain.User, now time.Time) {
		u.LastLogin = &now
	})
}

// IncrementSearchCount implements Store.
func (s *MemoryStore) IncrementSearchCount(_ context.Context, uid string) error {
	return s.update(uid, func(u *domain.User, now time.Time) {
		u.SearchCount++
		u.LastSearch = &now
	})
}

func (s *MemoryStore) update(uid string, fn func(*domain.User, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[uid]
	if !ok {
		return domain.NewNotFoundError("user", uid)
	}
	fn(u, s.now())
	return nil
}

// LogSearch implements Store.
func (s *MemoryStore) LogSearch(_ context.Context, entry domain.SearchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.searches = append(s.searches, entry)
	return nil
}

// LogAPIUsage implements Store.
func (s *MemoryStore) LogAPIUsage(_ context.Context, entry domain.APIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.apiUsage = append(s.apiUsage, entry)
	return nil
}

// SaveResult implements Store.
func (s *MemoryStore) SaveResult(_ context.Context, uid string, result domain.StoredResult) error {
	if result.Name == "" {
		return domain.NewValidationError("name", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if result.CreatedAt.IsZero() {
		result.CreatedAt = s.now()
	}
	if s.results[uid] == nil {
		s.results[uid] = make(map[string]domain.StoredResult)
	}
	s.results[uid][result.Name] = result
	return nil
}

// ListResults implements Store.
func (s *MemoryStore) ListResults(_ context.Context, uid string, limit int) ([]domain.StoredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StoredResult, 0, len(s.results[uid]))
	for _, r := range s.results[uid] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAPIKey implements Store.
func (s *MemoryStore) GetAPIKey(_ context.Context, service string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.apiKeys[service]
	if !ok {
		return nil, domain.NewNotFoundError("api key", service)
	}
	return &k, nil
}

// SetAPIKey implements Store.
func (s *MemoryStore) SetAPIKey(_ context.Context, key domain.APIKey) error {
	if key.Service == "" {
		return domain.NewValidationError("service", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key.UpdatedAt.IsZero() {
		key.UpdatedAt = s.now()
	}
	s.apiKeys[key.Service] = key
	return nil
}

// SearchLogs returns a copy of the recorded search log entries.
func (s *MemoryStore) SearchLogs() []domain.SearchLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SearchLog(nil), s.searches...)
}

// APIUsage returns a copy of the recorded API usage entries.
func (s *MemoryStore) APIUsage() []domain.APIUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.APIUsage(nil), s.apiUsage...)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// prepareNewUser fills defaults for a profile about to be created.
func prepareNewUser(u *domain.User, first bool, now time.Time) {
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if first {
		u.Role = domain.RoleAdmin
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
}
