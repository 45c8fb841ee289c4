// Package analytics derives day-over-day trends and rage-click hot spots
// from recorded occurrences.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tiny-errors/internal/model"
)

// Trend windows.
const (
	Day         = 24 * time.Hour
	TrendPoints = 24
	// SpikeThreshold is the day-over-day growth, in percent, above which a
	// group with activity on both days is spiking.
	SpikeThreshold = 50.0
)

// GroupLister lists every group of a project.
type GroupLister interface {
	AllByProject(ctx context.Context, projectID string) ([]model.ErrorGroup, error)
}

// TimestampSource returns occurrence times, in epoch milliseconds, of one
// group with from <= t < to.
type TimestampSource interface {
	OccurrenceTimes(ctx context.Context, projectID, fingerprint string, from, to int64) ([]int64, error)
}

// TrendAnalyzer compares each group's last 24 hours with the 24 hours before.
type TrendAnalyzer struct {
	groups      GroupLister
	source      TimestampSource
	now         func() time.Time
	concurrency int
	log         zerolog.Logger
}

// NewTrendAnalyzer builds a TrendAnalyzer. now defaults to time.Now.
func NewTrendAnalyzer(groups GroupLister, source TimestampSource, now func() time.Time, log zerolog.Logger) *TrendAnalyzer {
	if now == nil {
		now = time.Now
	}
	return &TrendAnalyzer{groups: groups, source: source, now: now, concurrency: 8, log: log}
}

// Analyze returns one TrendAnalysis per group of the project, ordered by
// the last 24 hours' count, highest first. Groups with equal counts keep
// the lister's order.
func (a *TrendAnalyzer) Analyze(ctx context.Context, projectID string) ([]model.TrendAnalysis, error) {
	groups, err := a.groups.AllByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	now := a.now().UnixMilli()
	out := make([]model.TrendAnalysis, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := range groups {
		i := i
		g.Go(func() error {
			group := groups[i]
			times, err := a.source.OccurrenceTimes(gctx, projectID, group.Fingerprint, now-2*Day.Milliseconds(), now)
			if err != nil {
				return fmt.Errorf("occurrences of %s: %w", group.Fingerprint, err)
			}
			out[i] = Summarize(group, times, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CurrentCount > out[j].CurrentCount
	})
	a.log.Debug().Str("project_id", projectID).Int("groups", len(out)).Msg("trends computed")
	return out, nil
}

// Summarize folds the occurrence times of one group, taken from
// [now-48h, now), into its trend analysis.
func Summarize(group model.ErrorGroup, times []int64, now int64) model.TrendAnalysis {
	hour := time.Hour.Milliseconds()
	dayStart := now - Day.Milliseconds()
	prevStart := dayStart - Day.Milliseconds()

	points := make([]model.TrendPoint, TrendPoints)
	for i := range points {
		points[i].Timestamp = dayStart + int64(i)*hour
	}

	var today, yesterday int64
	for _, ts := range times {
		switch {
		case ts >= dayStart && ts < now:
			today++
			points[(ts-dayStart)/hour].Count++
		case ts >= prevStart && ts < dayStart:
			yesterday++
		}
	}

	pct := growth(today, yesterday)
	message := group.Message
	if message == "" {
		message = "Unknown error"
	}
	errType := group.ErrorType
	if errType == "" {
		errType = "Error"
	}
	return model.TrendAnalysis{
		Fingerprint:      group.Fingerprint,
		Message:          message,
		ErrorType:        errType,
		CurrentCount:     today,
		PreviousDayCount: yesterday,
		TrendPercentage:  int64(math.Floor(pct + 0.5)),
		IsSpiking:        today > 0 && yesterday > 0 && pct > SpikeThreshold,
		Trend:            points,
	}
}

// growth is the day-over-day change in percent. Without a baseline any
// activity counts as 100.
func growth(today, yesterday int64) float64 {
	switch {
	case yesterday > 0:
		return float64(today-yesterday) / float64(yesterday) * 100
	case today > 0:
		return 100
	default:
		return 0
	}
}
