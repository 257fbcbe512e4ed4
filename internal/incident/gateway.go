// Package incident escalates breach events and policy violations into
// deduplicated incident records.
package incident

import (
	"context"
	"time"

	"inventariagent/internal/model"
)

// Gateway is the only path to persistent incident state.
// Lookups return (nil, nil) when nothing matches.
type Gateway interface {
	// FindOpenByTag returns the most recently created open incident whose
	// tag set contains tag.
	FindOpenByTag(ctx context.Context, deviceID, tag string) (*model.Incident, error)
	// FindRecentByTagAndSeverity is FindOpenByTag restricted to one severity
	// and to incidents created strictly after since.
	FindRecentByTagAndSeverity(ctx context.Context, deviceID, tag string, sev model.Severity, since time.Time) (*model.Incident, error)
	Create(ctx context.Context, inc model.Incident) (string, error)
	// AppendChange adds entry to the change log and refreshes updatedAt.
	AppendChange(ctx context.Context, deviceID, incidentID string, entry model.ChangeEntry) error
}
