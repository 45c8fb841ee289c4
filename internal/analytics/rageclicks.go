package analytics

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"tiny-errors/internal/model"
	"tiny-errors/internal/pipeline"
)

// Rage-click scan bounds.
const (
	RageClickScanLimit = 1000
	RageClickTop       = 10
)

// BreadcrumbSource returns the stored breadcrumb payloads of a project's
// most recent occurrences.
type BreadcrumbSource interface {
	RecentBreadcrumbs(ctx context.Context, projectID string, limit int) ([]string, error)
}

// RageClickAggregator ranks the elements users rage-clicked on before errors.
type RageClickAggregator struct {
	source BreadcrumbSource
	log    zerolog.Logger
}

// NewRageClickAggregator builds a RageClickAggregator.
func NewRageClickAggregator(source BreadcrumbSource, log zerolog.Logger) *RageClickAggregator {
	return &RageClickAggregator{source: source, log: log}
}

// Top returns up to ten elements by rage-click count. Undecodable payloads
// are skipped; a failed scan yields an empty result.
func (a *RageClickAggregator) Top(ctx context.Context, projectID string) []model.RageClick {
	payloads, err := a.source.RecentBreadcrumbs(ctx, projectID, RageClickScanLimit)
	if err != nil {
		a.log.Error().Err(err).Str("project_id", projectID).Msg("scan breadcrumbs")
		return []model.RageClick{}
	}
	return Aggregate(payloads, RageClickTop)
}

// Aggregate counts rage-click breadcrumbs per element across payloads and
// returns the top n by count. Ties keep first-seen order.
func Aggregate(payloads []string, n int) []model.RageClick {
	index := map[string]int{}
	out := []model.RageClick{}
	for _, payload := range payloads {
		crumbs, err := pipeline.ParseBreadcrumbs(payload)
		if err != nil {
			continue
		}
		for _, b := range crumbs {
			element, ok := pipeline.RageClick(b)
			if !ok {
				continue
			}
			i, seen := index[element]
			if !seen {
				i = len(out)
				index[element] = i
				out = append(out, model.RageClick{Element: element})
			}
			out[i].Count++
			if b.Timestamp > out[i].LastSeen {
				out[i].LastSeen = b.Timestamp
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
