package graph

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/metrics"
)

// Binder collects the flat parameter map shared by every statement of an upsert.
// Only strings, integers, floats, booleans and null are bound; anything else is
// bound as null and recorded as dropped.
type Binder struct {
	params  map[string]any
	dropped []string
}

// NewBinder returns an empty binder.
func NewBinder() *Binder {
	return &Binder{params: make(map[string]any, 48)}
}

// Bind normalizes v and stores it under key.
func (b *Binder) Bind(key string, v any) {
	nv, ok := Normalize(v)
	if !ok {
		slog.Warn("dropping graph parameter of unsupported shape",
			"param", key,
			"type", fmt.Sprintf("%T", v),
		)
		metrics.ParamsDropped.WithLabelValues(key).Inc()
		b.dropped = append(b.dropped, key)
		nv = nil
	}
	b.params[key] = nv
}

// Params returns the bound parameters.
func (b *Binder) Params() map[string]any {
	return b.params
}

// Dropped lists the keys whose values were unsupported.
func (b *Binder) Dropped() []string {
	return b.dropped
}

// Normalize converts v to a driver-safe scalar. Pointers are dereferenced (nil
// becomes null), integer kinds become int64, float kinds float64 and time.Time an
// RFC 3339 string. It reports false for every other shape.
func Normalize(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string, bool, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case float32:
		return float64(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, true
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return nil, false
}

// BindFacts builds the parameter set for one upsert. A missing identity,
// device, session or event id is ErrMissingIdentityKey.
func BindFacts(f *domain.Facts, score *domain.ScoreBreakdown, scoreID string, now time.Time) (*Binder, error) {
	for _, k := range []struct{ name, value string }{
		{"identity_id", f.Identity.ID},
		{"device_id", f.Device.ID},
		{"session_id", f.Session.ID},
		{"event_id", f.Event.ID},
	} {
		if k.value == "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingIdentityKey, k.name)
		}
	}

	b := NewBinder()
	b.Bind("now", now)

	b.Bind("identity_id", f.Identity.ID)
	b.Bind("identity_user_id", f.Identity.UserID)

	b.Bind("device_id", f.Device.ID)
	b.Bind("device_os", f.Device.OS)
	b.Bind("device_browser", f.Device.Browser)
	b.Bind("device_type", f.Device.DeviceType)

	b.Bind("session_id", f.Session.ID)
	b.Bind("session_started_at", f.Session.StartedAt)
	b.Bind("ip", f.Network.IP)
	b.Bind("ua", f.Network.UserAgentRaw)

	b.Bind("event_id", f.Event.ID)
	b.Bind("event_type", f.Event.Type)
	b.Bind("event_ts", f.Event.TimestampMs)
	b.Bind("event_ts_iso", time.UnixMilli(f.Event.TimestampMs))

	b.Bind("front_url", f.Origin.FrontURL)
	b.Bind("front_path", f.Origin.FrontPath)
	b.Bind("front_referrer", f.Origin.FrontReferrer)
	b.Bind("backend_path", f.Origin.BackendPath)
	b.Bind("backend_method", f.Origin.BackendMethod)
	b.Bind("backend_host", f.Origin.BackendHost)

	b.Bind("ts_start", f.Interaction.TsStart)
	b.Bind("ts_end", f.Interaction.TsEnd)
	b.Bind("viewport_w", f.Interaction.ViewportWidth)
	b.Bind("viewport_h", f.Interaction.ViewportHeight)
	b.Bind("points_deflate_b64", f.Interaction.Points)
	b.Bind("click_count", f.Interaction.ClickCount)
	b.Bind("wheel", f.Interaction.Wheel)

	b.Bind("geo_key", f.Geo.Key)
	b.Bind("geo_country", f.Geo.Country)
	b.Bind("geo_region", f.Geo.Region)
	b.Bind("geo_city", f.Geo.City)
	b.Bind("geo_timezone", f.Geo.Timezone)
	b.Bind("geo_latitude", f.Geo.Latitude)
	b.Bind("geo_longitude", f.Geo.Longitude)

	matched, err := json.Marshal(score.Matched)
	if err != nil {
		return nil, fmt.Errorf("encode matched rules: %w", err)
	}
	b.Bind("score_id", scoreID)
	b.Bind("score_total", score.Total)
	b.Bind("score_matched", string(matched))
	b.Bind("rule_set_version", score.RuleSetVersion)
	b.Bind("verdict", score.Verdict)

	return b, nil
}
