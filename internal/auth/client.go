// Package auth talks to the Firebase Identity Toolkit and Secure Token REST
// APIs on behalf of users of the pipeline service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

const (
	DefaultIdentityURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL    = "https://securetoken.googleapis.com/v1"
)

// Firebase error codes surfaced by the identity API.
const (
	CodeEmailExists     = "EMAIL_EXISTS"
	CodeEmailNotFound   = "EMAIL_NOT_FOUND"
	CodeInvalidPassword = "INVALID_PASSWORD"
	CodeInvalidLogin    = "INVALID_LOGIN_CREDENTIALS"
	CodeInvalidIDToken  = "INVALID_ID_TOKEN"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeUserDisabled    = "USER_DISABLED"
	CodeWeakPassword    = "WEAK_PASSWORD"
)

// ErrMissingAPIKey is returned when the client is used without a web API key.
var ErrMissingAPIKey = errors.New("firebase web API key not configured")

// Config configures the identity client.
type Config struct {
	// APIKey is the Firebase web API key.
	APIKey string
	// IdentityURL is the Identity Toolkit base URL.
	IdentityURL string
	// TokenURL is the Secure Token base URL.
	TokenURL string
	// Timeout bounds every request.
	Timeout time.Duration
}

// Session is the token set returned by sign-up, sign-in and refresh.
type Session struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccountInfo is the account record returned by a token lookup.
type AccountInfo struct {
	UID           string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	Disabled      bool   `json:"disabled"`
}

// Client is a Firebase REST client. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	identityURL string
	tokenURL    string
	now         func() time.Time
}

// New creates a client from cfg, applying default endpoints and timeout.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithHTTPClient creates a client that sends requests through httpClient.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &Client{
		httpClient:  httpClient,
		apiKey:      cfg.APIKey,
		identityURL: strings.TrimRight(cfg.IdentityURL, "/"),
		tokenURL:    strings.TrimRight(cfg.TokenURL, "/"),
		now:         time.Now,
	}
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DisplayName       string `json:"displayName,omitempty"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	UserID       string `json:"user_id"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp creates an email/password account.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	var resp passwordResponse
	err := c.postJSON(ctx, c.identityEndpoint("accounts:signUp"), passwordRequest{
		Email:             email,
		Password:          password,
		DisplayName:       displayName,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	s := c.sessionFrom(resp)
	if s.DisplayName == "" {
		s.DisplayName = displayName
	}
	return s, nil
}

// SignIn exchanges an email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp passwordResponse
	err := c.postJSON(ctx, c.identityEndpoint("accounts:signInWithPassword"), passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.sessionFrom(resp), nil
}

// RefreshToken exchanges a refresh token for a new ID token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.tokenURL+"/token?key="+url.QueryEscape(c.apiKey), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &Session{
		UID:          resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.expiry(resp.ExpiresIn),
	}, nil
}

// SendPasswordReset asks Firebase to email a password reset link.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}
	return c.postJSON(ctx, c.identityEndpoint("accounts:sendOobCode"), body, nil)
}

// LookupUser resolves an ID token to its account. An invalid or expired
// token yields a *domain.AuthError.
func (c *Client) LookupUser(ctx context.Context, idToken string) (*AccountInfo, error) {
	var resp struct {
		Users []AccountInfo `json:"users"`
	}
	err := c.postJSON(ctx, c.identityEndpoint("accounts:lookup"),
		map[string]string{"idToken": idToken}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, domain.NewAuthError(CodeUserNotFound, "no account for token")
	}
	info := resp.Users[0]
	if info.Disabled {
		return nil, domain.NewAuthError(CodeUserDisabled, "account disabled")
	}
	return &info, nil
}

func (c *Client) identityEndpoint(method string) string {
	return c.identityURL + "/" + method + "?key=" + url.QueryEscape(c.apiKey)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out interface{}) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewExternalAPIError("Firebase", 0, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewExternalAPIError("Firebase", resp.StatusCode, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseError maps a Firebase error body ("CODE : detail") to an AuthError.
// Server-side failures stay ExternalAPIErrors.
func parseError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Message == "" {
		return domain.NewExternalAPIError("Firebase", status, strings.TrimSpace(string(body)), nil)
	}
	if status >= 500 {
		return domain.NewExternalAPIError("Firebase", status, er.Error.Message, nil)
	}
	code, detail, _ := strings.Cut(er.Error.Message, ":")
	return domain.NewAuthError(strings.TrimSpace(code), strings.TrimSpace(detail))
}

func (c *Client) sessionFrom(resp passwordResponse) *Session {
	return &Session{
		UID:          resp.LocalID,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.expiry(resp.ExpiresIn),
	}
}

// expiry converts an expires-in seconds string; Firebase tokens default to one hour.
func (c *Client) expiry(expiresIn string) time.Time {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return c.now().Add(time.Duration(secs) * time.Second)
}

// Code returns the Firebase error code carried by err, or "".
func Code(err error) string {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
