package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/bibliometric-pipeline/internal/auth"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

type mockIdentity struct {
	signUpFn  func(ctx context.Context, email, password, displayName string) (*auth.Session, error)
	signInFn  func(ctx context.Context, email, password string) (*auth.Session, error)
	refreshFn func(ctx context.Context, refreshToken string) (*auth.Session, error)
	resetFn   func(ctx context.Context, email string) error
	lookupFn  func(ctx context.Context, idToken string) (*auth.AccountInfo, error)
}

var _ Identity = (*mockIdentity)(nil)

func (m *mockIdentity) SignUp(ctx context.Context, email, password, displayName string) (*auth.Session, error) {
	return m.signUpFn(ctx, email, password, displayName)
}

func (m *mockIdentity) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	return m.signInFn(ctx, email, password)
}

func (m *mockIdentity) RefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error) {
	return m.refreshFn(ctx, refreshToken)
}

func (m *mockIdentity) SendPasswordReset(ctx context.Context, email string) error {
	return m.resetFn(ctx, email)
}

func (m *mockIdentity) LookupUser(ctx context.Context, idToken string) (*auth.AccountInfo, error) {
	return m.lookupFn(ctx, idToken)
}

func newTestService(id *mockIdentity) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(id, store, zerolog.Nop()), store
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&mockIdentity{
		signUpFn: func(_ context.Context, email, _, displayName string) (*auth.Session, error) {
			assert.Equal(t, "ada", displayName, "display name defaults to the email local part")
			return &auth.Session{UID: "uid-" + displayName, Email: email, IDToken: "tok"}, nil
		},
	})

	session, user, err := svc.Register(ctx, "ada@example.com", "pw123456", "")
	require.NoError(t, err)
	assert.Equal(t, "tok", session.IDToken)
	assert.Equal(t, "uid-ada", user.UID)
	assert.Equal(t, domain.RoleAdmin, user.Role, "first account becomes admin")

	stored, err := store.GetUser(ctx, "uid-ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)
}

func TestService_Register_Validation(t *testing.T) {
	svc, _ := newTestService(&mockIdentity{})

	_, _, err := svc.Register(context.Background(), " ", "pw", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = svc.Register(context.Background(), "a@b.c", "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestService_Register_ProviderError(t *testing.T) {
	svc, _ := newTestService(&mockIdentity{
		signUpFn: func(context.Context, string, string, string) (*auth.Session, error) {
			return nil, domain.NewAuthError(auth.CodeEmailExists, "")
		},
	})

	_, _, err := svc.Register(context.Background(), "a@b.c", "pw", "A")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, auth.CodeEmailExists, auth.Code(err))
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&mockIdentity{
		signInFn: func(_ context.Context, email, _ string) (*auth.Session, error) {
			return &auth.Session{UID: "u1", Email: email, IDToken: "tok"}, nil
		},
	})

	session, user, err := svc.Login(ctx, "grace@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "grace", user.DisplayName, "missing profile is created on login")
	assert.Equal(t, "grace", session.DisplayName)

	stored, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)

	_, _, err = svc.Login(ctx, "grace@example.com", "pw")
	require.NoError(t, err)
	stored, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, stored.Role)
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&mockIdentity{
		lookupFn: func(_ context.Context, idToken string) (*auth.AccountInfo, error) {
			if idToken != "good" {
				return nil, domain.NewAuthError(auth.CodeInvalidIDToken, "")
			}
			return &auth.AccountInfo{UID: "u1", Email: "ada@example.com", DisplayName: "Ada"}, nil
		},
	})
	require.NoError(t, store.CreateUser(ctx, &domain.User{UID: "admin"}))

	user, err := svc.Authenticate(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UID)
	assert.Equal(t, "Ada", user.DisplayName)
	assert.Equal(t, domain.RoleUser, user.Role)

	_, err = svc.Authenticate(ctx, "bad")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestService_RefreshAndReset(t *testing.T) {
	var resetEmail string
	svc, _ := newTestService(&mockIdentity{
		refreshFn: func(_ context.Context, token string) (*auth.Session, error) {
			return &auth.Session{UID: "u1", IDToken: "new-" + token}, nil
		},
		resetFn: func(_ context.Context, email string) error {
			resetEmail = email
			return nil
		},
	})

	s, err := svc.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-r1", s.IDToken)

	_, err = svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, svc.ResetPassword(context.Background(), "ada@example.com"))
	assert.Equal(t, "ada@example.com", resetEmail)
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), ""), domain.ErrInvalidInput)
}

func TestService_RecordRunAndResult(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&mockIdentity{})
	require.NoError(t, store.CreateUser(ctx, &domain.User{UID: "u1"}))

	params := map[string]interface{}{"max_results": 50}
	require.NoError(t, svc.RecordRun(ctx, "u1", "run-1", params))
	require.NoError(t, svc.RecordResult(ctx, "u1", domain.StoredResult{Name: "run-1", RunID: "run-1", Success: true}))
	require.NoError(t, svc.LogAPIUsage(ctx, "u1", "POST", "/api/v1/runs"))

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.SearchCount)

	logs := store.SearchLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "run-1", logs[0].RunID)
	assert.Equal(t, params, logs[0].Parameters)

	results, err := svc.Results(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	assert.Len(t, store.APIUsage(), 1)
}

func TestService_RecordRun_AnonymousIsNoop(t *testing.T) {
	svc, store := newTestService(&mockIdentity{})
	require.NoError(t, svc.RecordRun(context.Background(), "", "run-1", nil))
	assert.Empty(t, store.SearchLogs())
}

func TestService_RecordRun_UnknownUserStillLogs(t *testing.T) {
	svc, store := newTestService(&mockIdentity{})

	err := svc.RecordRun(context.Background(), "ghost", "run-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Len(t, store.SearchLogs(), 1)
}

func TestService_SetAPIKey(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&mockIdentity{})
	admin := &domain.User{UID: "admin-1", Role: domain.RoleAdmin}

	tests := []struct {
		name    string
		user    *domain.User
		service string
		key     string
		wantErr error
	}{
		{"non-admin", &domain.User{UID: "u", Role: domain.RoleUser}, domain.ServiceAnthropic, "k", domain.ErrForbidden},
		{"no user", nil, domain.ServiceAnthropic, "k", domain.ErrForbidden},
		{"unknown service", admin, "openai", "k", domain.ErrInvalidInput},
		{"blank key", admin, domain.ServiceAnthropic, "  ", domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetAPIKey(ctx, tt.user, tt.service, tt.key)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := svc.APIKey(ctx, domain.ServiceAnthropic)
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected updates store nothing")

	stored, err := svc.SetAPIKey(ctx, admin, domain.ServiceAnthropic, " sk-ant \n")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", stored.UpdatedBy)

	key, err := svc.APIKey(ctx, domain.ServiceAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", key)

	k, err := store.GetAPIKey(ctx, domain.ServiceAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", k.Key)
}

func TestService_LogServiceUsage(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&mockIdentity{})

	require.NoError(t, svc.LogServiceUsage(ctx, "user-1", domain.ServiceScienceDirect))
	require.NoError(t, svc.LogAPIUsage(ctx, "user-1", "POST", "/api/v1/runs"))

	usage := store.APIUsage()
	require.Len(t, usage, 2)
	assert.Equal(t, domain.ServiceScienceDirect, usage[0].Service)
	assert.Empty(t, usage[0].Endpoint)
	assert.Equal(t, "/api/v1/runs", usage[1].Endpoint)
	assert.Empty(t, usage[1].Service)
}
