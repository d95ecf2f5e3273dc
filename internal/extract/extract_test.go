package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shaayud/shaayud/internal/domain"
)

var ts = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestDeviceType(t *testing.T) {
	tests := []struct {
		name        string
		fingerprint map[string]any
		want        string
	}{
		{"Mobile", fp("dev", "Mozilla/5.0 (iPhone) Mobile Safari"), domain.DeviceMobile},
		{"MobileWinsOverTablet", fp("dev", "Tablet Mobile"), domain.DeviceMobile},
		{"Tablet", fp("dev", "Mozilla/5.0 (Tablet; rv:109.0)"), domain.DeviceTablet},
		{"Desktop", fp("dev", "Mozilla/5.0 (X11; Linux x86_64)"), domain.DeviceDesktop},
		{"AbsentUserAgent", map[string]any{"visitorId": "dev"}, domain.DeviceUnknown},
		{"NonStringUserAgent", map[string]any{"components": map[string]any{"userAgent": map[string]any{"value": 3}}}, domain.DeviceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Device(tt.fingerprint).DeviceType; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func fp(visitor, ua string) map[string]any {
	return map[string]any{
		"visitorId": visitor,
		"components": map[string]any{
			"userAgent": map[string]any{"value": ua},
			"platform":  map[string]any{"value": "Linux"},
		},
	}
}

func TestDevice(t *testing.T) {
	t.Run("Fields", func(t *testing.T) {
		d := Device(fp("dev1", "Mobile Safari"))
		if d.ID != "dev1" {
			t.Errorf("expected id dev1, got %s", d.ID)
		}
		if d.OS == nil || *d.OS != "Linux" {
			t.Errorf("expected os Linux, got %v", d.OS)
		}
		if d.Browser == nil || *d.Browser != "Mobile Safari" {
			t.Errorf("expected browser from user agent, got %v", d.Browser)
		}
	})

	t.Run("NilFingerprint", func(t *testing.T) {
		d := Device(nil)
		if d.ID != "unknown" || d.OS != nil || d.Browser != nil || d.DeviceType != domain.DeviceUnknown {
			t.Errorf("unexpected device: %+v", d)
		}
	})
}

func TestSessionPrecedence(t *testing.T) {
	header := map[string]any{"sessionId": "from-header"}

	t.Run("PayloadWins", func(t *testing.T) {
		s := Session(header, strPtr("from-payload"), "dev1", ts)
		if s.ID != "from-payload" {
			t.Errorf("expected payload session id, got %s", s.ID)
		}
	})

	t.Run("HeaderWhenNoPayload", func(t *testing.T) {
		s := Session(header, nil, "dev1", ts)
		if s.ID != "from-header" {
			t.Errorf("expected header session id, got %s", s.ID)
		}
	})

	t.Run("Synthesized", func(t *testing.T) {
		s := Session(map[string]any{}, nil, "dev1", ts)
		want := "sess:dev1:1709294400"
		if s.ID != want {
			t.Errorf("expected %s, got %s", want, s.ID)
		}
		if s.StartedAt != "2024-03-01T12:00:00Z" {
			t.Errorf("unexpected started_at %s", s.StartedAt)
		}
	})

	t.Run("SDKHeaderAndCase", func(t *testing.T) {
		s := Session(map[string]any{"X-Session-Id": []any{"sdk"}}, nil, "dev1", ts)
		if s.ID != "sdk" {
			t.Errorf("expected sdk header session id, got %s", s.ID)
		}
	})

	t.Run("CaseVariantsAreStable", func(t *testing.T) {
		h := map[string]any{
			"X-Session-Id": "upper-camel",
			"X-SESSION-ID": "upper",
			"x-Session-id": "mixed",
		}
		for range 100 {
			s := Session(h, nil, "dev1", ts)
			if s.ID != "upper" {
				t.Fatalf("expected the lexically smallest variant, got %s", s.ID)
			}
		}
	})

	t.Run("EmptyPayloadFallsThrough", func(t *testing.T) {
		s := Session(header, strPtr(""), "dev1", ts)
		if s.ID != "from-header" {
			t.Errorf("expected header session id, got %s", s.ID)
		}
	})
}

func TestNetwork(t *testing.T) {
	n := Network("", "")
	if n.IP != nil || n.UserAgentRaw != nil {
		t.Errorf("expected empty strings to be absent, got %+v", n)
	}

	n = Network("1.2.3.4", "curl")
	if n.IP == nil || *n.IP != "1.2.3.4" || n.UserAgentRaw == nil || *n.UserAgentRaw != "curl" {
		t.Errorf("unexpected network: %+v", n)
	}
}

func TestEvent(t *testing.T) {
	t.Run("Synthesized", func(t *testing.T) {
		e := Event(nil, nil, "POST", "/x", "u1", "sess:dev1:1", ts)
		if e.ID != "evt:u1:sess:dev1:1:1709294400" {
			t.Errorf("unexpected id %s", e.ID)
		}
		if e.Type != "POST /x" {
			t.Errorf("unexpected type %s", e.Type)
		}
		if e.TimestampMs != ts.UnixMilli() {
			t.Errorf("unexpected timestamp %d", e.TimestampMs)
		}
	})

	t.Run("Explicit", func(t *testing.T) {
		e := Event(strPtr("e1"), strPtr("login"), "POST", "/x", "u1", "s1", ts)
		if e.ID != "e1" || e.Type != "login" {
			t.Errorf("expected explicit id and type, got %+v", e)
		}
	})
}

func TestGeo(t *testing.T) {
	t.Run("HeaderCaseVariantsGiveOneKey", func(t *testing.T) {
		h := map[string]any{"X-Geo-Country": "BR", "X-GEO-COUNTRY": "US"}
		for range 200 {
			if g := Geo(nil, h); g.Key != "US|||" {
				t.Fatalf("expected key US|||, got %q", g.Key)
			}
		}
	})

	t.Run("PayloadWins", func(t *testing.T) {
		lat := 1.5
		g := Geo(&domain.GeoPayload{Country: strPtr("BR"), City: strPtr("Recife"), Latitude: &lat},
			map[string]any{"x-geo-country": "US"})
		if g.Key != "BR||Recife|" {
			t.Errorf("unexpected key %q", g.Key)
		}
		if g.Region != nil {
			t.Errorf("expected absent region, got %v", *g.Region)
		}
		if g.Latitude == nil || *g.Latitude != 1.5 {
			t.Errorf("expected latitude from payload")
		}
	})

	t.Run("Headers", func(t *testing.T) {
		g := Geo(nil, map[string]any{
			"x-geo-country":  "US",
			"x-geo-region":   "CA",
			"x-geo-city":     "",
			"x-geo-timezone": "America/Los_Angeles",
		})
		if g.Key != "US|CA||America/Los_Angeles" {
			t.Errorf("unexpected key %q", g.Key)
		}
		if g.City != nil {
			t.Errorf("expected empty header to be absent")
		}
	})

	t.Run("AllAbsent", func(t *testing.T) {
		g := Geo(nil, map[string]any{"x-geo-country": "", "x-geo-city": ""})
		if g.Key != "" {
			t.Errorf("expected empty key, got %q", g.Key)
		}
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		g := Geo(&domain.GeoPayload{Country: strPtr("")}, map[string]any{"x-geo-country": "US"})
		if g.Key != "" {
			t.Errorf("expected payload to win even when empty, got %q", g.Key)
		}
	})
}

func TestInteraction(t *testing.T) {
	start, end := int64(1000), int64(4000)
	in := &domain.IngestInput{
		TsStart:  &start,
		TsEnd:    &end,
		Viewport: map[string]any{"width": 1280.0, "height": 720.0},
		Clicks:   []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
		Wheel:    json.RawMessage(`{ "dy" : 120 }`),
	}

	ia := Interaction(in)
	if ia.ViewportWidth == nil || *ia.ViewportWidth != 1280 || *ia.ViewportHeight != 720 {
		t.Errorf("unexpected viewport %v x %v", ia.ViewportWidth, ia.ViewportHeight)
	}
	if ia.ClickCount == nil || *ia.ClickCount != 2 {
		t.Errorf("expected 2 clicks")
	}
	if ia.Wheel == nil || *ia.Wheel != `{"dy":120}` {
		t.Errorf("expected compact wheel JSON, got %v", ia.Wheel)
	}

	empty := Interaction(&domain.IngestInput{Wheel: json.RawMessage("null")})
	if empty.Wheel != nil || empty.ClickCount != nil || empty.ViewportWidth != nil {
		t.Errorf("expected empty interaction, got %+v", empty)
	}
}

func TestExtractAndBag(t *testing.T) {
	in := &domain.IngestInput{
		SubjectID:   "u1",
		Fingerprint: fp("dev1", "Mobile Safari"),
		IP:          "1.2.3.4",
		Header:      map[string]any{"accept": "text/html"},
		Timestamp:   ts,
		Method:      "POST",
		Path:        "/x",
		FrontPath:   strPtr("/checkout"),
	}

	facts := Extract(in)
	if facts.Identity.ID != "u1" || facts.Device.ID != "dev1" {
		t.Fatalf("unexpected facts: %+v", facts)
	}
	if facts.Session.ID != "sess:dev1:1709294400" {
		t.Errorf("unexpected session %s", facts.Session.ID)
	}
	if facts.Event.ID != "evt:u1:sess:dev1:1709294400:1709294400" {
		t.Errorf("unexpected event %s", facts.Event.ID)
	}
	if facts.HasGeo() {
		t.Errorf("expected no geo")
	}

	bag := Bag(&facts, in, map[string]any{"velocity": map[string]int64{"device": 4}})

	checks := map[string]string{
		"device.device_type": "mobile",
		"event.type":         "POST /x",
		"network.ip":         "1.2.3.4",
		"origin.front_path":  "/checkout",
		"header.accept":      "text/html",
	}
	for path, want := range checks {
		v, ok := bag.Lookup(path)
		if s, _ := v.Str(); !ok || s != want {
			t.Errorf("%s: expected %q, got %s (resolved=%v)", path, want, v, ok)
		}
	}

	if n, ok := bag.Lookup("velocity.device"); !ok {
		t.Error("expected velocity facts in bag")
	} else if f, _ := n.Num(); f != 4 {
		t.Errorf("expected velocity 4, got %v", f)
	}

	for _, absent := range []string{"geo.key", "network.user_agent", "device.user_id", "origin.front_url"} {
		if _, ok := bag.Lookup(absent); ok {
			t.Errorf("expected %s to be absent", absent)
		}
	}
}
