package http

import (
	"time"

	"github.com/fyrsmithlabs/accdd/internal/manifest"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Telemetry string `json:"telemetry,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status            string       `json:"status"`
	Version           string       `json:"version,omitempty"`
	SessionID         string       `json:"session_id,omitempty"`
	IntegrationBranch string       `json:"integration_branch,omitempty"`
	Counts            StatusCounts `json:"counts"`
}

// StatusCounts counts cycles by status.
type StatusCounts struct {
	Planned       int `json:"planned"`
	InProgress    int `json:"in_progress"`
	AwaitingAudit int `json:"awaiting_audit"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
}

// CycleResponse is one cycle in GET /api/v1/cycles.
type CycleResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

func countCycles(m *manifest.ProjectManifest) StatusCounts {
	var c StatusCounts
	if m == nil {
		return c
	}
	for _, cy := range m.Cycles {
		switch cy.Status {
		case manifest.StatusPlanned:
			c.Planned++
		case manifest.StatusInProgress:
			c.InProgress++
		case manifest.StatusAwaitingAudit:
			c.AwaitingAudit++
		case manifest.StatusCompleted:
			c.Completed++
		case manifest.StatusFailed:
			c.Failed++
		}
	}
	return c
}

func toCycleResponse(c *manifest.CycleManifest) CycleResponse {
	return CycleResponse{
		ID:             c.ID,
		Status:         string(c.Status),
		AgentSessionID: c.JulesSessionID,
		LastError:      c.LastError,
		UpdatedAt:      c.UpdatedAt,
	}
}
