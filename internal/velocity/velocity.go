// Package velocity counts recent activity per device, identity and ip.
package velocity

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/metrics"
)

// BagKey is the fact bag key the counts are published under.
const BagKey = "velocity"

// Service increments windowed counters for the entities of each ingest.
type Service struct {
	counter domain.Counter
	window  time.Duration
}

// NewService creates a new velocity service.
func NewService(counter domain.Counter, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		counter: counter,
		window:  window,
	}
}

// Observe records one hit for the device, identity and ip of f and returns the
// counts within the current window. A failing counter reports zero.
func (s *Service) Observe(ctx context.Context, f *domain.Facts) map[string]any {
	counts := map[string]any{
		"device":   s.count(ctx, "device:"+f.Device.ID),
		"identity": s.count(ctx, "identity:"+f.Identity.ID),
	}
	if f.HasIP() {
		counts["ip"] = s.count(ctx, "ip:"+*f.Network.IP)
	}
	return counts
}

func (s *Service) count(ctx context.Context, key string) int64 {
	n, err := s.counter.IncrementCounter(ctx, key, s.window)
	if err != nil {
		slog.Warn("velocity counter failed", "key", key, "error", err)
		metrics.SideEffectFailures.WithLabelValues("velocity").Inc()
		return 0
	}
	return n
}
