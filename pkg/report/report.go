package report

// Category classifies a breadcrumb.
type Category string

const (
	CategoryNavigation      Category = "navigation"
	CategoryUserInteraction Category = "user-interaction"
	CategoryConsole         Category = "console"
)

// Level is the optional severity attached to a breadcrumb.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Breadcrumb is a timestamped record of activity preceding an error.
type Breadcrumb struct {
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"` // milliseconds epoch
	Level     Level          `json:"level,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ErrorContext is the error section of a report.
type ErrorContext struct {
	Message     string       `json:"message"`
	Stack       string       `json:"stack,omitempty"`
	Type        string       `json:"type,omitempty"`
	URL         string       `json:"url"`
	UserAgent   string       `json:"userAgent"`
	Timestamp   int64        `json:"timestamp"` // milliseconds epoch
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty"`
	// Fingerprint is the client-side grouping hint. The server computes its own.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ErrorReport is the payload accepted by the ingestion API.
type ErrorReport struct {
	// EventID makes re-delivery of the same occurrence idempotent when set.
	EventID     string       `json:"eventId,omitempty"`
	ProjectID   string       `json:"projectId"`
	APIKey      string       `json:"apiKey"`
	Error       ErrorContext `json:"error"`
	SDKVersion  string       `json:"sdkVersion"`
	Environment string       `json:"environment,omitempty"`
}

// Batch is the body of the batch ingestion endpoint.
type Batch struct {
	Errors []ErrorReport `json:"errors"`
}
