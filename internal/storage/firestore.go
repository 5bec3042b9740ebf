package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// FirestoreConfig configures the Firestore connection.
type FirestoreConfig struct {
	// ProjectID is the Google Cloud project.
	ProjectID string
	// CredentialsFile is an optional service account JSON file. When empty,
	// application default credentials (or FIRESTORE_EMULATOR_HOST) are used.
	CredentialsFile string
}

// FirestoreStore is a Store backed by Cloud Firestore.
//
// Layout:
//
//	users/{uid}                 profile
//	users/{uid}/results/{name}  saved run results
//	search_logs/{auto}          pipeline submissions
//	api_usage/{auto}            API calls and external service use
//	api_keys/{service}          external service keys
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

// Compile-time check.
var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore connects to Firestore.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, domain.NewValidationError("project_id", "is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return NewFirestoreStoreWithClient(client), nil
}

// NewFirestoreStoreWithClient wraps an existing client.
func NewFirestoreStoreWithClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

func (s *FirestoreStore) userDoc(uid string) *firestore.DocumentRef {
	return s.client.Collection(UsersCollection).Doc(uid)
}

// GetUser implements Store.
func (s *FirestoreStore) GetUser(ctx context.Context, uid string) (*domain.User, error) {
	snap, err := s.userDoc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.NewNotFoundError("user", uid)
		}
		return nil, fmt.Errorf("get user %s: %w", uid, err)
	}

	var u domain.User
	if err := snap.DataTo(&u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	u.UID = uid
	return &u, nil
}

// CreateUser implements Store. The first-user check and the create run in
// one transaction.
func (s *FirestoreStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.UID == "" {
		return domain.NewValidationError("uid", "is required")
	}

	ref := s.userDoc(user.UID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(s.client.Collection(UsersCollection).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		prepareNewUser(user, len(existing) == 0, s.now())
		return tx.Create(ref, user)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.NewAlreadyExistsError("user", user.UID)
		}
		return fmt.Errorf("create user %s: %w", user.UID, err)
	}
	return nil
}

// RecordLogin implements Store.
func (s *FirestoreStore) RecordLogin(ctx context.Context, uid string) error {
	return s.updateUser(ctx, uid, []firestore.Update{
		{Path: "last_login", Value: firestore.ServerTimestamp},
	})
}

// IncrementSearchCount implements Store.
func (s *FirestoreStore) IncrementSearchCount(ctx context.Context, uid string) error {
	return s.updateUser(ctx, uid, []firestore.Update{
		{Path: "search_count", Value: firestore.Increment(1)},
		{Path: "last_search", Value: firestore.ServerTimestamp},
	})
}

func (s *FirestoreStore) updateUser(ctx context.Context, uid string, updates []firestore.Update) error {
	if _, err := s.userDoc(uid).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.NewNotFoundError("user", uid)
		}
		return fmt.Errorf("update user %s: %w", uid, err)
	}
	return nil
}

// LogSearch implements Store.
func (s *FirestoreStore) LogSearch(ctx context.Context, entry domain.SearchLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if _, _, err := s.client.Collection(SearchLogCollection).Add(ctx, entry); err != nil {
		return fmt.Errorf("log search: %w", err)
	}
	return nil
}

// LogAPIUsage implements Store.
func (s *FirestoreStore) LogAPIUsage(ctx context.Context, entry domain.APIUsage) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if _, _, err := s.client.Collection(APIUsageCollection).Add(ctx, entry); err != nil {
		return fmt.Errorf("log api usage: %w", err)
	}
	return nil
}

// SaveResult implements Store.
func (s *FirestoreStore) SaveResult(ctx context.Context, uid string, result domain.StoredResult) error {
	if result.Name == "" {
		return domain.NewValidationError("name", "is required")
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = s.now()
	}
	doc := s.userDoc(uid).Collection(ResultsCollection).Doc(result.Name)
	if _, err := doc.Set(ctx, result); err != nil {
		return fmt.Errorf("save result %s: %w", result.Name, err)
	}
	return nil
}

// ListResults implements Store.
func (s *FirestoreStore) ListResults(ctx context.Context, uid string, limit int) ([]domain.StoredResult, error) {
	q := s.userDoc(uid).Collection(ResultsCollection).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []domain.StoredResult
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		var r domain.StoredResult
		if err := snap.DataTo(&r); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", snap.Ref.ID, err)
		}
		r.Name = snap.Ref.ID
		out = append(out, r)
	}
	return out, nil
}

// GetAPIKey implements Store.
func (s *FirestoreStore) GetAPIKey(ctx context.Context, service string) (*domain.APIKey, error) {
	snap, err := s.client.Collection(APIKeysCollection).Doc(service).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.NewNotFoundError("api key", service)
		}
		return nil, fmt.Errorf("get api key %s: %w", service, err)
	}
	var k domain.APIKey
	if err := snap.DataTo(&k); err != nil {
		return nil, fmt.Errorf("decode api key %s: %w", service, err)
	}
	k.Service = service
	return &k, nil
}

// SetAPIKey implements Store.
func (s *FirestoreStore) SetAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.Service == "" {
		return domain.NewValidationError("service", "is required")
	}
	if key.UpdatedAt.IsZero() {
		key.UpdatedAt = s.now()
	}
	if _, err := s.client.Collection(APIKeysCollection).Doc(key.Service).Set(ctx, key); err != nil {
		return fmt.Errorf("set api key %s: %w", key.Service, err)
	}
	return nil
}

// Close implements Store.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
