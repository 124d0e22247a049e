package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signalforge/internal/combos"
	"signalforge/internal/core"
	"signalforge/internal/events"
	"signalforge/internal/factcheck"
	"signalforge/pkg/broadcaster"
)

// PublishMetrics tracks publishing statistics
type PublishMetrics struct {
	TotalEvents      int64         `json:"total_events"`
	SuccessfulEvents int64         `json:"successful_events"`
	FailedEvents     int64         `json:"failed_events"`
	ThrottledEvents  int64         `json:"throttled_events"`
	AverageLatency   time.Duration `json:"average_latency"`
	LastPublish      time.Time     `json:"last_publish"`
}

// Publisher fans pipeline events out to Redis PubSub and the websocket
// broadcaster. Either target may be absent; events then go only to the other.
// A per-second throttle protects Redis during bulk passes over large
// backlogs. It implements the orchestrator's EventSink and the miner's
// ComboSink.
type Publisher struct {
	client      *redis.Client
	broadcaster *broadcaster.Broadcaster
	logger      *zap.Logger
	metrics     PublishMetrics
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc

	// Throttling controls
	maxMessagesPerSecond int
	messageCount         int
	lastResetTime        time.Time
	throttleMutex        sync.Mutex
}

// NewPublisher creates a publisher. client and bc may each be nil.
func NewPublisher(client *redis.Client, bc *broadcaster.Broadcaster, logger *zap.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{
		client:               client,
		broadcaster:          bc,
		logger:               logger.Named("publisher"),
		ctx:                  ctx,
		cancel:               cancel,
		maxMessagesPerSecond: 1000,
		lastResetTime:        time.Now(),
	}
}

var _ factcheck.EventSink = (*Publisher)(nil)
var _ combos.ComboSink = (*Publisher)(nil)

// FactCheckCompleted publishes one persisted outcome.
func (p *Publisher) FactCheckCompleted(fc core.FactCheck) {
	p.publish(events.NewFactCheckEvent(fc))
}

// PassCompleted publishes the aggregate summary of a bulk pass.
func (p *Publisher) PassCompleted(summary factcheck.Summary) {
	p.publish(events.PassSummaryEvent{
		Type:         "pass_summary",
		TotalChecked: summary.TotalChecked,
		Correct:      summary.Correct,
		StoppedOut:   summary.StoppedOut,
		Accuracy:     summary.Accuracy,
		ProfitFactor: summary.ProfitFactor,
		Elapsed:      summary.Elapsed,
		Cancelled:    summary.Cancelled,
		Timestamp:    time.Now().UTC(),
	})
}

// ComboDiscovered publishes a mined combination.
func (p *Publisher) ComboDiscovered(signature, timeframe string, accuracy float64, samples int) {
	p.publish(events.ComboEvent{
		Type:      "combo",
		Signature: signature,
		Timeframe: timeframe,
		Accuracy:  accuracy,
		Samples:   samples,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(event events.Event) {
	if !p.checkThrottle() {
		p.updateMetrics(false, 0, true)
		p.logger.Debug("Event throttled", zap.String("type", event.GetEventType()))
		return
	}

	start := time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		p.updateMetrics(false, time.Since(start), false)
		p.logger.Error("Failed to marshal event",
			zap.String("type", event.GetEventType()),
			zap.Error(err))
		return
	}

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(data)
	}

	if p.client != nil {
		channel := events.ChannelFor(event)
		if err := p.client.Publish(p.ctx, channel, data).Err(); err != nil {
			p.updateMetrics(false, time.Since(start), false)
			p.logger.Error("Failed to publish to Redis",
				zap.String("channel", channel),
				zap.Error(err))
			return
		}
	}

	p.updateMetrics(true, time.Since(start), false)
}

// checkThrottle checks if we can publish based on rate limiting
func (p *Publisher) checkThrottle() bool {
	p.throttleMutex.Lock()
	defer p.throttleMutex.Unlock()

	now := time.Now()

	// Reset counter every second
	if now.Sub(p.lastResetTime) >= time.Second {
		p.messageCount = 0
		p.lastResetTime = now
	}

	if p.messageCount >= p.maxMessagesPerSecond {
		return false
	}

	p.messageCount++
	return true
}

// SetThrottleLimit sets the maximum messages per second
func (p *Publisher) SetThrottleLimit(limit int) {
	p.throttleMutex.Lock()
	defer p.throttleMutex.Unlock()
	p.maxMessagesPerSecond = limit
	p.logger.Info("Throttle limit updated", zap.Int("messages_per_second", limit))
}

// updateMetrics updates publishing metrics
func (p *Publisher) updateMetrics(success bool, latency time.Duration, throttled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.TotalEvents++
	if throttled {
		p.metrics.ThrottledEvents++
		return
	}

	if success {
		p.metrics.SuccessfulEvents++
	} else {
		p.metrics.FailedEvents++
	}

	if p.metrics.TotalEvents == 1 {
		p.metrics.AverageLatency = latency
	} else {
		p.metrics.AverageLatency = time.Duration(
			(int64(p.metrics.AverageLatency)*p.metrics.TotalEvents + int64(latency)) / (p.metrics.TotalEvents + 1),
		)
	}

	p.metrics.LastPublish = time.Now()
}

// GetMetrics returns current publishing metrics
func (p *Publisher) GetMetrics() PublishMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// Health checks Redis connectivity when a client is configured.
func (p *Publisher) Health() bool {
	if p.client == nil {
		return true
	}
	if err := p.client.Ping(p.ctx).Err(); err != nil {
		p.logger.Error("Redis health check failed", zap.Error(err))
		return false
	}
	return true
}

// Close closes the publisher
func (p *Publisher) Close() error {
	p.cancel()
	p.logger.Info("Publisher closed")
	return nil
}

// MirrorAvailability writes the availability snapshot JSON to Redis so
// dashboards can read it without touching the process's disk.
func (p *Publisher) MirrorAvailability(snapshot []byte) error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Set(p.ctx, events.AvailabilityKey(), snapshot, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to mirror availability snapshot: %w", err)
	}
	return nil
}
