package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/phases"
	"github.com/helixir/bibliometric-pipeline/internal/runner"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	defaultResultLimit = 20
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type apiKeyRequest struct {
	Key string `json:"key"`
}

// submitRunRequest is a JSON run submission. The domain fields carry search
// terms, either as newline separated text or as an array, instead of the
// file paths used by the command line.
type submitRunRequest struct {
	config.PipelineConfig
	Domain1 termList `json:"domain1"`
	Domain2 termList `json:"domain2"`
	Domain3 termList `json:"domain3"`
}

type termList []string

// UnmarshalJSON accepts a string of newline separated terms or an array
// of terms.
func (l *termList) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*l = phases.SplitTerms(text)
		return nil
	}
	var terms []string
	if err := json.Unmarshal(data, &terms); err != nil {
		return fmt.Errorf("domain terms must be a string or an array of strings")
	}
	var out []string
	for _, t := range terms {
		out = append(out, phases.SplitTerms(t)...)
	}
	*l = out
	return nil
}

// decodeJSON reads a size-limited JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// signup handles POST /auth/signup.
func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, user, err := s.accounts.Register(r.Context(), strings.TrimSpace(req.Email), req.Password, strings.TrimSpace(req.DisplayName))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionToResponse(session, user))
}

// login handles POST /auth/login.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, user, err := s.accounts.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(session, user))
}

// refresh handles POST /auth/refresh.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(session, nil))
}

// passwordReset handles POST /auth/password-reset.
func (s *Server) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.accounts.ResetPassword(r.Context(), req.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password reset email sent"})
}

// submitRun handles POST /runs. The body is either a JSON configuration or
// the web form fields; both start from the web defaults.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	cfg, terms, ok := parseRunConfig(w, r)
	if !ok {
		return
	}
	if err := checkRunPaths(&cfg); err != nil {
		writeDomainError(w, err)
		return
	}

	run, err := s.runs.Submit(r.Context(), user.UID, cfg, runner.WithDomainTerms(terms...))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().Str("run_id", run.ID.String()).Str("user_id", user.UID).Msg("pipeline run submitted")
	w.Header().Set("Location", "/api/v1/runs/"+run.ID.String())
	writeJSON(w, http.StatusAccepted, submitRunResponse{
		RunID:     run.ID.String(),
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt,
		Message:   "pipeline run started",
	})
}

// parseRunConfig reads the submitted configuration and the search terms
// of each domain.
func parseRunConfig(w http.ResponseWriter, r *http.Request) (config.PipelineConfig, [][]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxRequestBodySize)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return config.PipelineConfig{}, nil, false
		}
		cfg, err := config.PipelineConfigFromForm(r.PostForm)
		if err != nil {
			writeDomainError(w, err)
			return config.PipelineConfig{}, nil, false
		}
		terms := [][]string{
			phases.SplitTerms(r.PostForm.Get("domain1")),
			phases.SplitTerms(r.PostForm.Get("domain2")),
			phases.SplitTerms(r.PostForm.Get("domain3")),
		}
		return cfg, terms, true
	default:
		req := submitRunRequest{PipelineConfig: config.DefaultFormConfig()}
		if !decodeJSON(w, r, &req) {
			return config.PipelineConfig{}, nil, false
		}
		cfg := req.PipelineConfig
		cfg.TableFormat = strings.ToLower(cfg.TableFormat)
		return cfg, [][]string{req.Domain1, req.Domain2, req.Domain3}, true
	}
}

// checkRunPaths keeps submitted output paths inside the run's directory.
// Key files and the pandoc binary are server settings and cannot be chosen
// by a caller.
func checkRunPaths(cfg *config.PipelineConfig) error {
	cfg.AnthropicAPIPath = ""
	cfg.ScienceDirectAPIPath = ""
	cfg.PandocPath = ""
	for _, f := range []struct {
		name string
		path string
	}{
		{"output_dir", cfg.OutputDir},
		{"figures_dir", cfg.FiguresDir},
		{"report_file", cfg.ReportFile},
		{"table_file", cfg.TableFile},
	} {
		if f.path == "" {
			continue
		}
		if filepath.IsAbs(f.path) || !filepath.IsLocal(f.path) {
			return domain.NewValidationError(f.name, "must be a relative path inside the run directory")
		}
	}
	return nil
}

// listRuns handles GET /runs. Admins may pass all=true to see every user's runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	limit, offset := parsePaginationParams(r)

	filter := domain.RunFilter{UserID: user.UID, Limit: limit, Offset: offset}
	if user.IsAdmin() && r.URL.Query().Get("all") == "true" {
		filter.UserID = ""
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			status := domain.RunStatus(strings.TrimSpace(st))
			if !status.IsValid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported status: %s", st))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}

	runs, total, err := s.runs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list runs")
		writeDomainError(w, err)
		return
	}

	resp := listRunsResponse{
		Runs:          make([]runResponse, len(runs)),
		NextPageToken: encodeHTTPPageToken(offset, limit, int(total)),
		TotalCount:    int(total),
	}
	for i, run := range runs {
		resp.Runs[i] = runToResponse(run, false)
	}
	writeJSON(w, http.StatusOK, resp)
}

// getRun handles GET /runs/{runID}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run, true))
}

// loadRun fetches the run named in the path. Runs of other users are
// reported as not found unless the caller is an admin.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*domain.PipelineRun, bool) {
	id, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return nil, false
	}
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	user := userFromContext(r.Context())
	if run.UserID != user.UID && !user.IsAdmin() {
		writeError(w, http.StatusNotFound, "resource not found")
		return nil, false
	}
	return run, true
}

// listResults handles GET /results.
func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	limit := defaultResultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	results, err := s.accounts.Results(r.Context(), user.UID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UID).Msg("failed to list results")
		writeDomainError(w, err)
		return
	}
	resp := listResultsResponse{Results: make([]resultResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = resultToResponse(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// setAPIKey handles PUT /admin/api-keys/{service}.
func (s *Server) setAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user := userFromContext(r.Context())
	key, err := s.accounts.SetAPIKey(r.Context(), user, chi.URLParam(r, "service"), req.Key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiKeyResponse{
		Service:   key.Service,
		UpdatedAt: key.UpdatedAt,
		UpdatedBy: key.UpdatedBy,
	})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var authErr *domain.AuthError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "unauthorized",
			"code":  authErr.Code,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
