// Package pipeline turns wire reports into persisted occurrences and
// persisted occurrences into analytics rows.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"tiny-errors/internal/model"
	"tiny-errors/pkg/fingerprint"
	"tiny-errors/pkg/report"
)

// DefaultErrorType is used when a report carries no type.
const DefaultErrorType = "Error"

var occurrenceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tiny-errors/occurrence"))

// OccurrenceID maps a client event id onto the occurrence id for projectID.
// The same event id sent to two projects yields two ids, and the result is
// always a 36 character UUID whatever the event id length.
func OccurrenceID(projectID, eventID string) string {
	project := uuid.NewSHA1(occurrenceNamespace, []byte(projectID))
	return uuid.NewSHA1(project, []byte(eventID)).String()
}

// Normalize builds the occurrence row for r. The report's event id, scoped
// to its project, determines the occurrence id so re-delivery maps onto the
// same row; reports without one get a fresh id. A zero report timestamp is
// replaced by nowMs.
func Normalize(r report.ErrorReport, nowMs int64) (model.ErrorData, error) {
	errType := r.Error.Type
	if errType == "" {
		errType = DefaultErrorType
	}
	id := uuid.NewString()
	if r.EventID != "" {
		id = OccurrenceID(r.ProjectID, r.EventID)
	}
	occurredAt := r.Error.Timestamp
	if occurredAt <= 0 {
		occurredAt = nowMs
	}
	var crumbs string
	if len(r.Error.Breadcrumbs) > 0 {
		b, err := json.Marshal(r.Error.Breadcrumbs)
		if err != nil {
			return model.ErrorData{}, fmt.Errorf("encode breadcrumbs: %w", err)
		}
		crumbs = string(b)
	}
	return model.ErrorData{
		ID:          id,
		ProjectID:   r.ProjectID,
		Message:     r.Error.Message,
		StackTrace:  r.Error.Stack,
		ErrorType:   errType,
		BrowserInfo: r.Error.UserAgent,
		URL:         r.Error.URL,
		Fingerprint: fingerprint.Server(errType, r.Error.Message, r.Error.Stack),
		OccurredAt:  occurredAt,
		Breadcrumbs: crumbs,
		Environment: r.Environment,
		SDKVersion:  r.SDKVersion,
	}, nil
}

// ParseBreadcrumbs decodes a stored breadcrumb payload. Older rows hold the
// array JSON-encoded a second time, as a string; both forms are accepted.
func ParseBreadcrumbs(payload string) ([]report.Breadcrumb, error) {
	if payload == "" {
		return nil, nil
	}
	var crumbs []report.Breadcrumb
	err := json.Unmarshal([]byte(payload), &crumbs)
	if err == nil {
		return crumbs, nil
	}
	var inner string
	if json.Unmarshal([]byte(payload), &inner) != nil {
		return nil, fmt.Errorf("decode breadcrumbs: %w", err)
	}
	if inner == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(inner), &crumbs); err != nil {
		return nil, fmt.Errorf("decode breadcrumbs: %w", err)
	}
	return crumbs, nil
}

// RageClick returns the element of a rage-click breadcrumb.
func RageClick(b report.Breadcrumb) (element string, ok bool) {
	if flag, _ := b.Data["isRageClick"].(bool); !flag {
		return "", false
	}
	element, ok = b.Data["element"].(string)
	return element, ok && element != ""
}
