package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/config"
	"github.com/telekom/trustcore/pkg/health"
	"github.com/telekom/trustcore/pkg/subscription"
	"github.com/telekom/trustcore/pkg/trust"
)

// Pipeline holds the components built from a configuration.
type Pipeline struct {
	Stream     *audit.StreamSink
	Service    *trust.Service
	Subscriber *subscription.Subscriber
	// SinkTracker gates the durable sinks. It is nil when the sink breaker is
	// disabled and is never the tracker the service reports transitions for.
	SinkTracker *health.Tracker
}

// BuildPipeline assembles the audit sinks, the health tracker, the trust
// service and the subscriber. An existing JSONL log is replayed into the
// stream first so subscribers see recent history after a restart.
func BuildPipeline(ctx context.Context, cfg config.Config, log *zap.Logger) (*Pipeline, error) {
	p := &Pipeline{}

	stream, err := audit.NewStreamSink(cfg.StreamSinkConfig(), log)
	if err != nil {
		return nil, err
	}
	p.Stream = stream

	if cfg.Audit.SinkBreaker.Enabled {
		p.SinkTracker, err = health.NewTracker(cfg.Audit.SinkBreaker.Tracker, log.Named("sink-breaker"))
		if err != nil {
			return nil, fmt.Errorf("audit sink breaker: %w", err)
		}
	}

	var durable []audit.Sink
	if path := cfg.Audit.JSONLPath; path != "" {
		if err := restoreStream(ctx, path, stream, log); err != nil {
			return nil, err
		}
		var opts []audit.JSONLOption
		if cfg.Audit.Fsync {
			opts = append(opts, audit.WithFsync())
		}
		jsonl, err := audit.NewJSONLSink(path, log, opts...)
		if err != nil {
			return nil, err
		}
		durable = append(durable, jsonl)
	}
	if cfg.Audit.LogSink {
		durable = append(durable, audit.NewLogSink(log))
	}

	sinks := []audit.Sink{stream}
	for _, s := range durable {
		if p.SinkTracker != nil {
			s = audit.NewGuardedSink(s, p.SinkTracker, log)
		}
		if cfg.Audit.Queue.Enabled {
			s = audit.NewQueuedSink(s, cfg.Audit.Queue.QueuedSinkConfig, log)
		}
		sinks = append(sinks, s)
	}
	composite := audit.NewCompositeSink("audit", log, sinks...)

	closeOnErr := func(err error) (*Pipeline, error) {
		return nil, multierr.Append(err, composite.Close())
	}

	logger, err := audit.NewLogger(composite, cfg.LoggerConfig(), log)
	if err != nil {
		return closeOnErr(err)
	}
	tracker, err := health.NewTracker(cfg.Health, log)
	if err != nil {
		return closeOnErr(err)
	}
	p.Service, err = trust.NewService(logger, tracker, cfg.Policy.Layers, log)
	if err != nil {
		return closeOnErr(err)
	}
	p.Subscriber, err = subscription.NewSubscriber(stream, cfg.Subscription, log)
	if err != nil {
		return closeOnErr(err)
	}
	return p, nil
}

// Close flushes and closes every sink.
func (p *Pipeline) Close() error {
	if p.Subscriber != nil {
		p.Subscriber.Stop()
	}
	if p.Service != nil {
		return p.Service.Close()
	}
	return nil
}

func restoreStream(ctx context.Context, path string, stream *audit.StreamSink, log *zap.Logger) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	stats, err := audit.Replay(ctx, f, stream)
	if err != nil {
		return fmt.Errorf("replay audit log %s: %w", path, err)
	}
	log.Info("Restored audit stream from log",
		zap.String("path", path),
		zap.Int("read", stats.Read),
		zap.Int("skipped", stats.Skipped),
		zap.Int("buffered", stream.Len()))
	return nil
}
