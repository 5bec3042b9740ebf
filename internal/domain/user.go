package domain

import "time"

// Role is the authorization role stored on a user profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the profile document kept for each authenticated account.
type User struct {
	UID         string     `json:"uid" firestore:"-"`
	Email       string     `json:"email" firestore:"email"`
	DisplayName string     `json:"display_name" firestore:"display_name"`
	Role        Role       `json:"role" firestore:"role"`
	SearchCount int64      `json:"search_count" firestore:"search_count"`
	CreatedAt   time.Time  `json:"created_at" firestore:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty" firestore:"last_login"`
	LastSearch  *time.Time `json:"last_search,omitempty" firestore:"last_search"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SearchLog records one pipeline submission by a user.
type SearchLog struct {
	UserID     string                 `json:"user_id" firestore:"user_id"`
	RunID      string                 `json:"run_id" firestore:"run_id"`
	Parameters map[string]interface{} `json:"parameters" firestore:"parameters"`
	Timestamp  time.Time              `json:"timestamp" firestore:"timestamp"`
}

// APIUsage records a call made on behalf of a user: either a request to
// the service API (Method and Endpoint) or a run's use of an external
// service (Service).
type APIUsage struct {
	UserID    string    `json:"user_id" firestore:"user_id"`
	Service   string    `json:"service,omitempty" firestore:"service,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty" firestore:"endpoint,omitempty"`
	Method    string    `json:"method,omitempty" firestore:"method,omitempty"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// External services whose API keys can be managed at runtime.
const (
	ServiceAnthropic     = "anthropic"
	ServiceScienceDirect = "sciencedirect"
)

// IsKeyedService reports whether service has a managed API key.
func IsKeyedService(service string) bool {
	return service == ServiceAnthropic || service == ServiceScienceDirect
}

// APIKey is a stored external service key.
type APIKey struct {
	Service   string    `json:"service" firestore:"-"`
	Key       string    `json:"-" firestore:"key"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
	UpdatedBy string    `json:"updated_by" firestore:"updated_by"`
}

// StoredResult is a run outcome saved under a user's results collection.
type StoredResult struct {
	Name      string                 `json:"name" firestore:"-"`
	RunID     string                 `json:"run_id" firestore:"run_id"`
	Success   bool                   `json:"success" firestore:"success"`
	Summary   map[string]interface{} `json:"summary" firestore:"summary"`
	CreatedAt time.Time              `json:"created_at" firestore:"created_at"`
}
