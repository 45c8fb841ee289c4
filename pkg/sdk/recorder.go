package sdk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"tiny-errors/pkg/report"
)

const (
	// MaxBreadcrumbs bounds the breadcrumb history.
	MaxBreadcrumbs = 50
	// ClickWindow is the sliding window used for rage-click detection.
	ClickWindow = time.Second
	// RageClickThreshold is the number of same-element clicks inside the window
	// that classifies a click as a rage click.
	RageClickThreshold = 3
)

// ClickEvent describes a click on a UI element.
type ClickEvent struct {
	Tag   string
	ID    string
	Class string
	X     int
	Y     int
}

// ElementID returns the identifier used to correlate clicks: the tag name
// followed by #id, or by the classes joined with dots, or the bare tag.
func (e ClickEvent) ElementID() string {
	label := e.Tag
	switch {
	case e.ID != "":
		label += "#" + e.ID
	case e.Class != "":
		label += "." + strings.Join(strings.Split(e.Class, " "), ".")
	}
	return label
}

type clickTrack struct {
	element string
	at      time.Time
}

// Recorder keeps a bounded history of breadcrumbs and detects rage clicks.
type Recorder struct {
	mu          sync.Mutex
	breadcrumbs []report.Breadcrumb
	clicks      []clickTrack
	now         func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns an empty Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddBreadcrumb appends b, discarding the oldest entries beyond MaxBreadcrumbs.
func (r *Recorder) AddBreadcrumb(b report.Breadcrumb) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(b)
}

func (r *Recorder) add(b report.Breadcrumb) {
	r.breadcrumbs = append(r.breadcrumbs, b)
	if over := len(r.breadcrumbs) - MaxBreadcrumbs; over > 0 {
		kept := make([]report.Breadcrumb, MaxBreadcrumbs)
		copy(kept, r.breadcrumbs[over:])
		r.breadcrumbs = kept
	}
}

// Breadcrumbs returns a copy of the recorded history, oldest first.
func (r *Recorder) Breadcrumbs() []report.Breadcrumb {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]report.Breadcrumb, len(r.breadcrumbs))
	copy(out, r.breadcrumbs)
	return out
}

// Clear drops every recorded breadcrumb.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breadcrumbs = nil
	r.clicks = nil
}

// CaptureClick records a click breadcrumb and reports whether it was a rage click.
func (r *Recorder) CaptureClick(ev ClickEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	element := ev.ElementID()
	now := r.now()
	count := r.trackClick(element, now)
	coords := map[string]any{"x": ev.X, "y": ev.Y}

	if count >= RageClickThreshold {
		r.add(report.Breadcrumb{
			Category:  report.CategoryUserInteraction,
			Message:   "Rage clicked on " + element,
			Timestamp: now.UnixMilli(),
			Level:     report.LevelWarning,
			Data: map[string]any{
				"element":     element,
				"coords":      coords,
				"isRageClick": true,
				"clickCount":  count,
			},
		})
		return true
	}
	r.add(report.Breadcrumb{
		Category:  report.CategoryUserInteraction,
		Message:   "Clicked on " + element,
		Timestamp: now.UnixMilli(),
		Level:     report.LevelInfo,
		Data: map[string]any{
			"element":     element,
			"coords":      coords,
			"isRageClick": false,
		},
	})
	return false
}

// trackClick appends a click, prunes clicks outside the window and returns
// the number of clicks on element still inside it.
func (r *Recorder) trackClick(element string, now time.Time) int {
	r.clicks = append(r.clicks, clickTrack{element: element, at: now})
	kept := r.clicks[:0]
	count := 0
	for _, c := range r.clicks {
		if now.Sub(c.at) >= ClickWindow {
			continue
		}
		kept = append(kept, c)
		if c.element == element {
			count++
		}
	}
	r.clicks = kept
	return count
}

// CaptureNavigation records a navigation to url.
func (r *Recorder) CaptureNavigation(url string) {
	r.AddBreadcrumb(report.Breadcrumb{
		Category:  report.CategoryNavigation,
		Message:   "Navigated to " + url,
		Timestamp: r.now().UnixMilli(),
		Level:     report.LevelInfo,
		Data:      map[string]any{"url": url},
	})
}

// CaptureConsole records console output. Levels "warn" and "error" map to
// warning and error; anything else is info.
func (r *Recorder) CaptureConsole(level string, args ...any) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	r.AddBreadcrumb(report.Breadcrumb{
		Category:  report.CategoryConsole,
		Message:   strings.Join(parts, " "),
		Timestamp: r.now().UnixMilli(),
		Level:     consoleLevel(level),
		Data:      map[string]any{"args": parts},
	})
}

func consoleLevel(level string) report.Level {
	switch level {
	case "warn":
		return report.LevelWarning
	case "error":
		return report.LevelError
	default:
		return report.LevelInfo
	}
}
