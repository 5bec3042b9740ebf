// Package storage keeps user profiles, usage logs, saved run results and
// the external API keys managed by admins.
//
// Two Store implementations are provided: FirestoreStore for deployments
// backed by Google Cloud Firestore and MemoryStore for local use and tests.
package storage

import (
	"context"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// Firestore collection names.
const (
	UsersCollection     = "users"
	ResultsCollection   = "results"
	SearchLogCollection = "search_logs"
	APIUsageCollection  = "api_usage"
	APIKeysCollection   = "api_keys"
)

// Store persists per-user data.
type Store interface {
	// GetUser returns the profile for uid, or a domain.ErrNotFound error.
	GetUser(ctx context.Context, uid string) (*domain.User, error)

	// CreateUser stores a new profile. The first profile ever created
	// receives the admin role. Creating an existing uid returns a
	// domain.ErrAlreadyExists error.
	CreateUser(ctx context.Context, user *domain.User) error

	// RecordLogin stamps the last login time.
	RecordLogin(ctx context.Context, uid string) error

	// IncrementSearchCount bumps the user's search counter and last search time.
	IncrementSearchCount(ctx context.Context, uid string) error

	// LogSearch appends a search log entry.
	LogSearch(ctx context.Context, entry domain.SearchLog) error

	// LogAPIUsage appends an API usage entry.
	LogAPIUsage(ctx context.Context, entry domain.APIUsage) error

	// SaveResult stores a run result under the user's results, replacing
	// any result with the same name.
	SaveResult(ctx context.Context, uid string, result domain.StoredResult) error

	// ListResults returns the user's results, newest first, at most limit
	// entries (0 means no limit).
	ListResults(ctx context.Context, uid string, limit int) ([]domain.StoredResult, error)

	// GetAPIKey returns the stored key for an external service, or a
	// domain.ErrNotFound error.
	GetAPIKey(ctx context.Context, service string) (*domain.APIKey, error)

	// SetAPIKey stores or replaces the key for key.Service.
	SetAPIKey(ctx context.Context, key domain.APIKey) error

	// Close releases backend resources.
	Close() error
}
