package model

import (
	"errors"
	"time"
)

// Project owns an API key and the errors reported with it.
type Project struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64"`
	Name       string    `json:"name" gorm:"size:255;not null"`
	APIKey     string    `json:"-" gorm:"column:api_key;size:128;uniqueIndex;not null"`
	HMACSecret string    `json:"-" gorm:"column:hmac_secret;size:255"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrorData is one persisted occurrence. Rows are append-only.
type ErrorData struct {
	ID          string `json:"id" gorm:"primaryKey;size:64"`
	ProjectID   string `json:"projectId" gorm:"size:64;not null;index:idx_errors_project_occurred,priority:1;index:idx_errors_project_fingerprint,priority:1"`
	Message     string `json:"message" gorm:"type:text;not null"`
	StackTrace  string `json:"stackTrace" gorm:"type:text"`
	ErrorType   string `json:"errorType" gorm:"size:255"`
	BrowserInfo string `json:"browserInfo" gorm:"type:text"`
	URL         string `json:"url" gorm:"type:text"`
	Fingerprint string `json:"fingerprint" gorm:"size:32;not null;index:idx_errors_project_fingerprint,priority:2"`
	// OccurredAt and CreatedAt are milliseconds since the epoch.
	OccurredAt  int64  `json:"occurredAt" gorm:"not null;index:idx_errors_project_occurred,priority:2;index:idx_errors_project_fingerprint,priority:3"`
	CreatedAt   int64  `json:"createdAt" gorm:"autoCreateTime:milli"`
	Breadcrumbs string `json:"breadcrumbs,omitempty" gorm:"type:text"`
	Environment string `json:"environment,omitempty" gorm:"size:64"`
	SDKVersion  string `json:"sdkVersion,omitempty" gorm:"column:sdk_version;size:32"`
}

// TableName pins the occurrence table name.
func (ErrorData) TableName() string { return "error_occurrences" }

// ErrorGroup aggregates every occurrence sharing a fingerprint in a project.
type ErrorGroup struct {
	ID          string `json:"id" gorm:"primaryKey;size:64"`
	ProjectID   string `json:"projectId" gorm:"size:64;not null;uniqueIndex:idx_groups_project_fingerprint,priority:1"`
	Fingerprint string `json:"fingerprint" gorm:"size:32;not null;uniqueIndex:idx_groups_project_fingerprint,priority:2"`
	FirstSeen   int64  `json:"firstSeen" gorm:"not null"`
	LastSeen    int64  `json:"lastSeen" gorm:"not null;index"`
	Count       int64  `json:"count" gorm:"not null;default:1"`
	Message     string `json:"message" gorm:"type:text"`
	ErrorType   string `json:"errorType" gorm:"size:255"`
}

// TableName pins the group table name.
func (ErrorGroup) TableName() string { return "error_groups" }

// TrendPoint is one hourly bucket of a trend.
type TrendPoint struct {
	Timestamp int64 `json:"timestamp"`
	Count     int64 `json:"count"`
}

// TrendAnalysis compares a group's last 24 hours with the 24 hours before.
type TrendAnalysis struct {
	Fingerprint      string       `json:"fingerprint"`
	Message          string       `json:"message"`
	ErrorType        string       `json:"errorType"`
	CurrentCount     int64        `json:"currentCount"`
	PreviousDayCount int64        `json:"previousDayCount"`
	TrendPercentage  int64        `json:"trendPercentage"`
	IsSpiking        bool         `json:"isSpiking"`
	Trend            []TrendPoint `json:"trend"`
}

// RageClick aggregates rage-click breadcrumbs for one element.
type RageClick struct {
	Element  string `json:"element"`
	Count    int64  `json:"count"`
	LastSeen int64  `json:"lastSeen"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ErrorDetail bundles an occurrence with its recent siblings and group.
type ErrorDetail struct {
	Error   *ErrorData  `json:"error"`
	Similar []ErrorData `json:"similar"`
	Group   *ErrorGroup `json:"group"`
}

// EnrichedOccurrence is the analytics-mirror row produced by the enricher.
type EnrichedOccurrence struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	Fingerprint       string    `json:"fingerprint"`
	ClientFingerprint string    `json:"client_fingerprint"`
	ErrorType         string    `json:"error_type"`
	Message           string    `json:"message"`
	URL               string    `json:"url"`
	TopFile           string    `json:"top_file"`
	TopLine           int       `json:"top_line"`
	Browser           string    `json:"browser"`
	OS                string    `json:"os"`
	DeviceType        string    `json:"device_type"`
	Environment       string    `json:"environment"`
	RageClicks        int       `json:"rage_clicks"`
	Breadcrumbs       string    `json:"breadcrumbs"`
	OccurredAt        time.Time `json:"occurred_at"`
	IngestedAt        time.Time `json:"_ingested_at"`
}

// OccurrenceMessage is published to Kafka after an occurrence is persisted.
type OccurrenceMessage struct {
	ErrorData
	ClientFingerprint string `json:"clientFingerprint,omitempty"`
}

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")
