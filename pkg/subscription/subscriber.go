// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/metrics"
	"github.com/telekom/trustcore/pkg/ratelimit"
)

// DefaultMaxEventsPerSec is the delivery budget per subscriber.
const DefaultMaxEventsPerSec = 50

var (
	// ErrThrottled is returned when a subscriber has used up its event budget.
	ErrThrottled = errors.New("subscription throttled")
	// ErrInvalidFilter is returned for filters that can never match.
	ErrInvalidFilter = errors.New("invalid subscription filter")
)

// Config bounds how fast a subscriber may pull events.
type Config struct {
	MaxEventsPerSec float64     `yaml:"maxEventsPerSec"`
	Burst           int         `yaml:"burst"`
	Clock           clock.Clock `yaml:"-"`
}

// Result is one page of a poll. When Truncated is set the subscriber ran out
// of budget mid-page; polling again with SinceTs = NextSinceTs and
// SkipAtSince = NextSkip continues exactly where it left off.
type Result struct {
	Events      []audit.Event `json:"events"`
	Truncated   bool          `json:"truncated"`
	NextSinceTs int64         `json:"nextSinceTs,omitempty"`
	NextSkip    int           `json:"nextSkip,omitempty"`
}

// Subscriber serves filtered snapshots of a query sink to named consumers,
// each with its own token bucket measured in events.
type Subscriber struct {
	source  audit.QuerySink
	limiter *ratelimit.KeyedRateLimiter
	logger  *zap.Logger
}

// NewSubscriber creates a Subscriber over source.
func NewSubscriber(source audit.QuerySink, cfg Config, logger *zap.Logger) (*Subscriber, error) {
	if source == nil {
		return nil, errors.New("subscription source is required")
	}
	if cfg.MaxEventsPerSec < 0 || cfg.Burst < 0 {
		return nil, fmt.Errorf("%w: maxEventsPerSec and burst must not be negative", ErrInvalidFilter)
	}
	if cfg.MaxEventsPerSec == 0 {
		cfg.MaxEventsPerSec = DefaultMaxEventsPerSec
	}
	if cfg.Burst == 0 {
		cfg.Burst = int(math.Ceil(cfg.MaxEventsPerSec))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		source: source,
		limiter: ratelimit.New(ratelimit.Config{
			Rate:  cfg.MaxEventsPerSec,
			Burst: cfg.Burst,
			Clock: cfg.Clock,
		}),
		logger: logger.Named("subscription"),
	}, nil
}

// Poll returns the events matching f, oldest first, charging one token per
// delivered event to subscriber. An empty result costs nothing.
func (s *Subscriber) Poll(subscriber string, f Filter) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}

	snap := s.source.Snapshot(audit.SnapshotFilter{SinceTs: f.SinceTs})
	events := make([]audit.Event, 0, len(snap.Events))
	skip := f.SkipAtSince
	for _, e := range snap.Events {
		if !f.Matches(e) {
			continue
		}
		if skip > 0 && e.Timestamp == *f.SinceTs {
			skip--
			continue
		}
		events = append(events, e)
	}
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[len(events)-f.Limit:]
	}
	if len(events) == 0 {
		return Result{Events: events}, nil
	}

	res := Result{Events: events}
	if budget := s.limiter.Tokens(subscriber); budget < len(events) {
		if budget == 0 {
			return s.throttled(subscriber, len(events))
		}
		res.Events = events[:budget]
		res.Truncated = true
		res.NextSinceTs, res.NextSkip = cursor(res.Events, f)
	}
	if !s.limiter.AllowN(subscriber, len(res.Events)) {
		// a concurrent poll for the same subscriber spent the budget first
		return s.throttled(subscriber, len(res.Events))
	}
	return res, nil
}

// cursor returns the timestamp of the last delivered event and how many
// events at that timestamp have been delivered so far, counting those the
// filter already skipped.
func cursor(delivered []audit.Event, f Filter) (int64, int) {
	last := delivered[len(delivered)-1].Timestamp
	n := 0
	for i := len(delivered) - 1; i >= 0 && delivered[i].Timestamp == last; i-- {
		n++
	}
	if f.SinceTs != nil && *f.SinceTs == last {
		n += f.SkipAtSince
	}
	return last, n
}

func (s *Subscriber) throttled(subscriber string, pending int) (Result, error) {
	metrics.SubscriptionPollsThrottled.Inc()
	s.logger.Debug("Subscription poll throttled",
		zap.String("subscriber", subscriber),
		zap.Int("pending", pending))
	return Result{}, ErrThrottled
}

// Stop releases the limiter's background cleanup.
func (s *Subscriber) Stop() {
	s.limiter.Stop()
}
