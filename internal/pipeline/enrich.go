package pipeline

import (
	"time"

	"tiny-errors/internal/model"
	"tiny-errors/internal/util"
	"tiny-errors/pkg/fingerprint"
)

// Enrich transforms a persisted occurrence into the analytics-mirror row:
// user agent families, the top stack frame and the rage-click count of its
// breadcrumbs. Undecodable breadcrumbs count as zero rage clicks.
func Enrich(msg model.OccurrenceMessage, now time.Time) model.EnrichedOccurrence {
	occurredAt := time.UnixMilli(msg.OccurredAt).UTC()
	if msg.OccurredAt == 0 {
		occurredAt = now.UTC()
	}
	client := util.ParseUserAgent(msg.BrowserInfo)

	var topFile string
	var topLine int
	if frames := fingerprint.ParseStack(msg.StackTrace); len(frames) > 0 {
		topFile, topLine = frames[0].File, frames[0].Line
	}

	rage := 0
	if crumbs, err := ParseBreadcrumbs(msg.Breadcrumbs); err == nil {
		for _, b := range crumbs {
			if _, ok := RageClick(b); ok {
				rage++
			}
		}
	}

	return model.EnrichedOccurrence{
		ID:                msg.ID,
		ProjectID:         msg.ProjectID,
		Fingerprint:       msg.Fingerprint,
		ClientFingerprint: msg.ClientFingerprint,
		ErrorType:         msg.ErrorType,
		Message:           msg.Message,
		URL:               msg.URL,
		TopFile:           topFile,
		TopLine:           topLine,
		Browser:           client.Browser,
		OS:                client.OS,
		DeviceType:        client.Device,
		Environment:       msg.Environment,
		RageClicks:        rage,
		Breadcrumbs:       msg.Breadcrumbs,
		OccurredAt:        occurredAt,
		IngestedAt:        now.UTC(),
	}
}
