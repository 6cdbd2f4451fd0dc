package workflows

import (
	"github.com/verdantops/verdant-events/pkg/db/models"
)

// ReassignmentStrategy picks a new assignee from the qualified candidates.
// Implementations may rank however they like; the workflow only requires a
// deterministic answer, including "nobody".
type ReassignmentStrategy interface {
	Select(appt models.Appointment, candidates []models.TeamMember) (int64, bool)
}

// FirstQualified takes the lowest-id qualified candidate. It is the
// deterministic fallback used when no smarter ranking is plugged in.
type FirstQualified struct{}

func (FirstQualified) Select(_ models.Appointment, candidates []models.TeamMember) (int64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[0].ID, true
}
