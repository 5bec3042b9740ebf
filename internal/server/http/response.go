package httpserver

import (
	"encoding/json"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/auth"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

type sessionResponse struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role,omitempty"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type phaseResponse struct {
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type runResponse struct {
	RunID        string          `json:"run_id"`
	Status       string          `json:"status"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Phases       []phaseResponse `json:"phases"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Duration     string          `json:"duration,omitempty"`
	Config       json.RawMessage `json:"configuration,omitempty"`
}

type submitRunResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

type listRunsResponse struct {
	Runs          []runResponse `json:"runs"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	TotalCount    int           `json:"total_count"`
}

type resultResponse struct {
	Name      string                 `json:"name"`
	RunID     string                 `json:"run_id"`
	Success   bool                   `json:"success"`
	Summary   map[string]interface{} `json:"summary"`
	CreatedAt time.Time              `json:"created_at"`
}

type listResultsResponse struct {
	Results []resultResponse `json:"results"`
}

type apiKeyResponse struct {
	Service   string    `json:"service"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

func sessionToResponse(s *auth.Session, u *domain.User) sessionResponse {
	resp := sessionResponse{
		UserID:       s.UID,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		IDToken:      s.IDToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
	if u != nil {
		resp.Role = string(u.Role)
		if resp.DisplayName == "" {
			resp.DisplayName = u.DisplayName
		}
		if resp.Email == "" {
			resp.Email = u.Email
		}
	}
	return resp
}

// runToResponse converts a run. The configuration is only included when
// withConfig is set.
func runToResponse(r *domain.PipelineRun, withConfig bool) runResponse {
	phases := make([]phaseResponse, len(r.Phases))
	for i, p := range r.Phases {
		phases[i] = phaseResponse{
			Name:     p.Name,
			Success:  p.Success,
			Error:    p.Error,
			Duration: p.Duration.String(),
		}
	}
	resp := runResponse{
		RunID:        r.ID.String(),
		Status:       string(r.Status),
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		Phases:       phases,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
	if d := r.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	if withConfig && len(r.Config) > 0 {
		resp.Config = r.Config
	}
	return resp
}

func resultToResponse(r domain.StoredResult) resultResponse {
	return resultResponse{
		Name:      r.Name,
		RunID:     r.RunID,
		Success:   r.Success,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt,
	}
}
