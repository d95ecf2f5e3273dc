// Package extract derives canonical entity records from a raw ingest record.
// Every extractor is total: absent or malformed fields fall back to defaults.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shaayud/shaayud/internal/domain"
)

// Header keys consulted for session and geo data.
const (
	HeaderSessionID   = "sessionId"
	HeaderXSessionID  = "x-session-id"
	HeaderGeoCountry  = "x-geo-country"
	HeaderGeoRegion   = "x-geo-region"
	HeaderGeoCity     = "x-geo-city"
	HeaderGeoTimezone = "x-geo-timezone"
)

const (
	unknownDeviceID    = "unknown"
	fingerprintVisitor = "visitorId"
	geoKeySeparator    = "|"
	sessionIDPrefix    = "sess"
	eventIDPrefix      = "evt"
)

// Extract runs every extractor over in.
func Extract(in *domain.IngestInput) domain.Facts {
	device := Device(in.Fingerprint)
	identity := Identity(in.SubjectID)
	session := Session(in.Header, in.SessionID, device.ID, in.Timestamp)

	return domain.Facts{
		Device:      device,
		Identity:    identity,
		Session:     session,
		Network:     Network(in.IP, in.UserAgent),
		Event:       Event(in.EventID, in.EventType, in.Method, in.Path, identity.ID, session.ID, in.Timestamp),
		Geo:         Geo(in.Geo, in.Header),
		Origin:      Origin(in),
		Interaction: Interaction(in),
	}
}

// Device reads the fingerprint. The device type is inferred from the fingerprint user agent.
func Device(fingerprint map[string]any) domain.Device {
	d := domain.Device{
		ID:         unknownDeviceID,
		DeviceType: domain.DeviceUnknown,
	}

	if id, ok := fingerprint[fingerprintVisitor].(string); ok && id != "" {
		d.ID = id
	}

	components, _ := fingerprint["components"].(map[string]any)
	d.OS = componentValue(components, "platform")
	d.Browser = componentValue(components, "userAgent")
	if d.Browser != nil {
		d.DeviceType = DeviceType(*d.Browser)
	}
	return d
}

// DeviceType classifies a user agent string.
func DeviceType(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Mobile"):
		return domain.DeviceMobile
	case strings.Contains(userAgent, "Tablet"):
		return domain.DeviceTablet
	default:
		return domain.DeviceDesktop
	}
}

func componentValue(components map[string]any, name string) *string {
	c, ok := components[name].(map[string]any)
	if !ok {
		return nil
	}
	s, ok := c["value"].(string)
	if !ok {
		return nil
	}
	return &s
}

// Identity wraps the subject id verbatim.
func Identity(subjectID string) domain.Identity {
	return domain.Identity{ID: subjectID}
}

// Session resolves the session id: payload id, then header id, then a synthesized
// "sess:{device}:{epoch seconds}".
func Session(header map[string]any, payloadSessionID *string, deviceID string, ts time.Time) domain.Session {
	id := domain.StringValue(payloadSessionID)
	if id == "" {
		id = headerString(header, HeaderSessionID)
	}
	if id == "" {
		id = headerString(header, HeaderXSessionID)
	}
	if id == "" {
		id = fmt.Sprintf("%s:%s:%d", sessionIDPrefix, deviceID, ts.Unix())
	}

	return domain.Session{
		ID:        id,
		StartedAt: ts.UTC().Format(time.RFC3339Nano),
	}
}

// Network maps empty strings to absent.
func Network(ip, userAgent string) domain.Network {
	return domain.Network{
		IP:           nonEmpty(ip),
		UserAgentRaw: nonEmpty(userAgent),
	}
}

// Event resolves the event id to the explicit id or "evt:{identity}:{session}:{epoch seconds}",
// and the type to the explicit type or "{method} {path}".
func Event(eventID, eventType *string, method, path, identityID, sessionID string, ts time.Time) domain.Event {
	id := domain.StringValue(eventID)
	if id == "" {
		id = fmt.Sprintf("%s:%s:%s:%d", eventIDPrefix, identityID, sessionID, ts.Unix())
	}

	typ := domain.StringValue(eventType)
	if typ == "" {
		typ = method + " " + path
	}

	return domain.Event{
		ID:          id,
		Type:        typ,
		TimestampMs: ts.UnixMilli(),
	}
}

// Geo prefers the explicit payload and falls back to the x-geo-* headers.
// Coordinates only come from the payload.
func Geo(payload *domain.GeoPayload, header map[string]any) domain.Geo {
	var g domain.Geo
	if payload != nil {
		g = domain.Geo{
			Country:   nonEmptyPtr(payload.Country),
			Region:    nonEmptyPtr(payload.Region),
			City:      nonEmptyPtr(payload.City),
			Timezone:  nonEmptyPtr(payload.Timezone),
			Latitude:  payload.Latitude,
			Longitude: payload.Longitude,
		}
	} else {
		g = domain.Geo{
			Country:  nonEmpty(headerString(header, HeaderGeoCountry)),
			Region:   nonEmpty(headerString(header, HeaderGeoRegion)),
			City:     nonEmpty(headerString(header, HeaderGeoCity)),
			Timezone: nonEmpty(headerString(header, HeaderGeoTimezone)),
		}
	}

	if g.Country != nil || g.Region != nil || g.City != nil || g.Timezone != nil {
		g.Key = strings.Join([]string{
			domain.StringValue(g.Country),
			domain.StringValue(g.Region),
			domain.StringValue(g.City),
			domain.StringValue(g.Timezone),
		}, geoKeySeparator)
	}
	return g
}

// Origin copies the front-end and back-end route fields.
func Origin(in *domain.IngestInput) domain.Origin {
	return domain.Origin{
		FrontURL:      nonEmptyPtr(in.FrontURL),
		FrontPath:     nonEmptyPtr(in.FrontPath),
		FrontReferrer: nonEmptyPtr(in.FrontReferrer),
		BackendPath:   nonEmptyPtr(in.BackendPath),
		BackendMethod: nonEmptyPtr(in.BackendMethod),
		BackendHost:   nonEmptyPtr(in.BackendHost),
	}
}

// Interaction summarizes the pointer batch.
func Interaction(in *domain.IngestInput) domain.Interaction {
	ia := domain.Interaction{
		TsStart: in.TsStart,
		TsEnd:   in.TsEnd,
		Points:  nonEmptyPtr(in.PointsDeflateB64),
	}

	ia.ViewportWidth, ia.ViewportHeight = viewport(in.Viewport)

	if in.Clicks != nil {
		n := int64(len(in.Clicks))
		ia.ClickCount = &n
	}

	if wheel := bytes.TrimSpace(in.Wheel); len(wheel) > 0 && !bytes.Equal(wheel, []byte("null")) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, wheel); err == nil {
			s := buf.String()
			ia.Wheel = &s
		}
	}
	return ia
}

// viewport accepts {w,h}, {width,height} or [w, h].
func viewport(v any) (*int64, *int64) {
	switch x := v.(type) {
	case map[string]any:
		w := firstNumber(x, "w", "width")
		h := firstNumber(x, "h", "height")
		return w, h
	case []any:
		if len(x) != 2 {
			return nil, nil
		}
		return toInt(x[0]), toInt(x[1])
	}
	return nil, nil
}

func firstNumber(m map[string]any, keys ...string) *int64 {
	for _, k := range keys {
		if n := toInt(m[k]); n != nil {
			return n
		}
	}
	return nil
}

func toInt(v any) *int64 {
	switch x := v.(type) {
	case float64:
		n := int64(x)
		return &n
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return &n
		}
		if f, err := x.Float64(); err == nil {
			n := int64(f)
			return &n
		}
	case int:
		n := int64(x)
		return &n
	case int64:
		return &x
	}
	return nil
}

// headerString reads a header value by exact key, then case-insensitively.
// When several case variants match, the lexically smallest key wins so the
// result does not depend on map order. Multi-valued headers yield their first string.
func headerString(header map[string]any, key string) string {
	if v, ok := header[key]; ok {
		return stringOf(v)
	}
	var matches []string
	for k := range header {
		if strings.EqualFold(k, key) {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return ""
	}
	slices.Sort(matches)
	return stringOf(header[matches[0]])
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		for _, e := range x {
			if s, ok := e.(string); ok {
				return s
			}
		}
	case []string:
		if len(x) > 0 {
			return x[0]
		}
	}
	return ""
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmptyPtr(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
