package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Engagement metrics.
const (
	MetricView = "view"
	MetricLike = "like"
)

// EngagementStats is the aggregate view exposed to surrounding services.
type EngagementStats struct {
	Views int64 `json:"views"`
	Likes int64 `json:"likes"`
}

// counterWindow keeps counters ephemeral without letting them lapse
// mid-session; every increment refreshes it.
const counterWindow = 30 * 24 * time.Hour

// MarkEngaged sets the per-actor dedupe marker for (subject, actor, metric).
// It reports true when the marker was newly set, i.e. the actor has not
// engaged within the window and the counter should be incremented. The
// broker is at-least-once, so this marker is what bounds double-counting.
func (p *Pipeline) MarkEngaged(ctx context.Context, subject, actor, metric string, window time.Duration) (bool, error) {
	return p.store.SetNX(ctx, MarkerKey(subject, actor, metric), []byte("1"), window)
}

// IncrEngagement bumps the metric counter for subject.
func (p *Pipeline) IncrEngagement(ctx context.Context, subject, metric string) (int64, error) {
	return p.store.Incr(ctx, CounterKey(subject, metric), counterWindow)
}

// GetEngagementStats reads view/like counters for subject. Missing counters
// read as zero.
func (p *Pipeline) GetEngagementStats(ctx context.Context, subject string) (*EngagementStats, error) {
	stats := &EngagementStats{}
	for _, m := range []string{MetricView, MetricLike} {
		b, err := p.store.Get(ctx, CounterKey(subject, m))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s counter", m)
		}
		switch m {
		case MetricView:
			stats.Views = n
		case MetricLike:
			stats.Likes = n
		}
	}
	return stats, nil
}
