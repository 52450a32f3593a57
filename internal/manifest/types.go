package manifest

import "time"

// CycleStatus is the lifecycle state of one development cycle.
type CycleStatus string

const (
	StatusPlanned       CycleStatus = "planned"
	StatusInProgress    CycleStatus = "in_progress"
	StatusAwaitingAudit CycleStatus = "awaiting_audit"
	StatusCompleted     CycleStatus = "completed"
	StatusFailed        CycleStatus = "failed"
)

// Valid reports whether s is a known status.
func (s CycleStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusAwaitingAudit, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are expected.
func (s CycleStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CycleManifest is the persisted state of one cycle.
//
// JulesSessionID is set while an agent session is outstanding and is the
// handle a resumed run waits on.
type CycleManifest struct {
	ID             string      `json:"id"`
	Status         CycleStatus `json:"status"`
	JulesSessionID string      `json:"jules_session_id,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at,omitzero"`
}

// ProjectManifest is the persisted state of a development session.
// Cycles keep their planned order.
type ProjectManifest struct {
	ProjectSessionID  string           `json:"project_session_id"`
	IntegrationBranch string           `json:"integration_branch"`
	Cycles            []*CycleManifest `json:"cycles"`
	CreatedAt         time.Time        `json:"created_at,omitzero"`
}

// Cycle returns the cycle with id, or nil.
func (m *ProjectManifest) Cycle(id string) *CycleManifest {
	if m == nil {
		return nil
	}
	for _, c := range m.Cycles {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Pending returns the cycles not yet completed, in planned order.
func (m *ProjectManifest) Pending() []*CycleManifest {
	if m == nil {
		return nil
	}
	var out []*CycleManifest
	for _, c := range m.Cycles {
		if c.Status != StatusCompleted {
			out = append(out, c)
		}
	}
	return out
}

// clone returns a deep copy so callers never alias store-owned state.
func (m *ProjectManifest) clone() *ProjectManifest {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Cycles = make([]*CycleManifest, len(m.Cycles))
	for i, c := range m.Cycles {
		cc := *c
		cp.Cycles[i] = &cc
	}
	return &cp
}

// CycleUpdate is a partial update. Nil fields are left unchanged; an empty
// JulesSessionID clears the handle.
type CycleUpdate struct {
	Status         *CycleStatus
	JulesSessionID *string
	LastError      *string
}

// Ptr returns a pointer to v for building a CycleUpdate.
func Ptr[T any](v T) *T {
	return &v
}

func (u CycleUpdate) apply(c *CycleManifest) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.JulesSessionID != nil {
		c.JulesSessionID = *u.JulesSessionID
	}
	if u.LastError != nil {
		c.LastError = *u.LastError
	}
}
