package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PlanStatusFile is the mirror's path relative to the documents directory.
const PlanStatusFile = "system_prompts/plan_status.json"

// PlanStatus is the plan_status.json mirror of the manifest. Only "planned"
// and "completed" are written.
type PlanStatus struct {
	Cycles []PlanCycle `json:"cycles"`
}

// PlanCycle is one entry in PlanStatus.
type PlanCycle struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CycleIDs returns the zero-padded ids "01".."n".
func CycleIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, fmt.Sprintf("%02d", i))
	}
	return ids
}

// PlanStatusFromManifest builds the mirror for m.
func PlanStatusFromManifest(m *ProjectManifest) PlanStatus {
	ps := PlanStatus{Cycles: []PlanCycle{}}
	if m == nil {
		return ps
	}
	for _, c := range m.Cycles {
		status := string(StatusPlanned)
		if c.Status == StatusCompleted {
			status = string(StatusCompleted)
		}
		ps.Cycles = append(ps.Cycles, PlanCycle{ID: c.ID, Status: status})
	}
	return ps
}

// WritePlanStatus writes the mirror of m to path.
func WritePlanStatus(path string, m *ProjectManifest) error {
	data, err := json.MarshalIndent(PlanStatusFromManifest(m), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create plan status directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan status: %w", err)
	}
	return nil
}

// ReadPlanStatus reads the mirror at path.
func ReadPlanStatus(path string) (*PlanStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ps PlanStatus
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("invalid plan status %s: %w", path, err)
	}
	return &ps, nil
}
