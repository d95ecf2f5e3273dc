package extract

import (
	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/factbag"
)

// Bag builds the fact bag rules are evaluated against. Absent optional facts are
// omitted so that a path to them does not resolve. Entries of extra are added at the
// top level (e.g. "velocity").
func Bag(f *domain.Facts, in *domain.IngestInput, extra map[string]any) factbag.Value {
	identity := factbag.NewBuilder().
		Set("id", f.Identity.ID).
		Set("user_id", f.Identity.UserID)

	device := factbag.NewBuilder().
		Set("id", f.Device.ID).
		Set("os", f.Device.OS).
		Set("browser", f.Device.Browser).
		Set("device_type", f.Device.DeviceType)

	session := factbag.NewBuilder().
		Set("id", f.Session.ID).
		Set("started_at", f.Session.StartedAt)

	network := factbag.NewBuilder().
		Set("ip", f.Network.IP).
		Set("user_agent", f.Network.UserAgentRaw)

	event := factbag.NewBuilder().
		Set("id", f.Event.ID).
		Set("type", f.Event.Type).
		Set("timestamp_ms", f.Event.TimestampMs)
	if in.Method != "" {
		event.Set("method", in.Method)
	}
	if in.Path != "" {
		event.Set("path", in.Path)
	}

	geo := factbag.NewBuilder().
		Set("country", f.Geo.Country).
		Set("region", f.Geo.Region).
		Set("city", f.Geo.City).
		Set("timezone", f.Geo.Timezone).
		Set("latitude", f.Geo.Latitude).
		Set("longitude", f.Geo.Longitude)
	if f.HasGeo() {
		geo.Set("key", f.Geo.Key)
	}

	origin := factbag.NewBuilder().
		Set("front_url", f.Origin.FrontURL).
		Set("front_path", f.Origin.FrontPath).
		Set("front_referrer", f.Origin.FrontReferrer).
		Set("backend_path", f.Origin.BackendPath).
		Set("backend_method", f.Origin.BackendMethod).
		Set("backend_host", f.Origin.BackendHost)

	interaction := factbag.NewBuilder().
		Set("ts_start", f.Interaction.TsStart).
		Set("ts_end", f.Interaction.TsEnd).
		Set("viewport_w", f.Interaction.ViewportWidth).
		Set("viewport_h", f.Interaction.ViewportHeight).
		Set("click_count", f.Interaction.ClickCount)
	if f.Interaction.TsStart != nil && f.Interaction.TsEnd != nil {
		interaction.Set("duration_ms", *f.Interaction.TsEnd-*f.Interaction.TsStart)
	}

	root := factbag.NewBuilder().
		SetValue("identity", identity.Build()).
		SetValue("device", device.Build()).
		SetValue("session", session.Build()).
		SetValue("network", network.Build()).
		SetValue("event", event.Build()).
		SetValue("geo", geo.Build()).
		SetValue("origin", origin.Build()).
		SetValue("interaction", interaction.Build()).
		SetValue("header", factbag.Of(in.Header)).
		SetValue("fingerprint", factbag.Of(in.Fingerprint))

	for k, v := range extra {
		root.Set(k, v)
	}
	return root.Build()
}
