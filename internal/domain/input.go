package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// IngestInput is one raw telemetry record as sent by the collection SDKs.
type IngestInput struct {
	// Core identifiers
	SubjectID   string         `json:"shaayud_id"`
	Fingerprint map[string]any `json:"fingerprint"`

	// Request context
	IP        string         `json:"ip"`
	UserAgent string         `json:"user_agent"`
	Header    map[string]any `json:"header"`
	Timestamp time.Time      `json:"timestamp"`
	Method    string         `json:"method"`
	Path      string         `json:"path"`

	// Optional explicit ids
	SessionID *string `json:"session_id,omitempty"`
	EventID   *string `json:"event_id,omitempty"`
	EventType *string `json:"event_type,omitempty"`

	Geo *GeoPayload `json:"geo,omitempty"`

	// Front-end origin
	FrontURL      *string `json:"front_url,omitempty"`
	FrontPath     *string `json:"front_path,omitempty"`
	FrontReferrer *string `json:"front_referrer,omitempty"`

	// Back-end route that observed the request
	BackendPath   *string `json:"backend_path,omitempty"`
	BackendMethod *string `json:"backend_method,omitempty"`
	BackendHost   *string `json:"backend_host,omitempty"`

	// Pointer interaction batch
	TsStart          *int64          `json:"ts_start,omitempty"`
	TsEnd            *int64          `json:"ts_end,omitempty"`
	Viewport         any             `json:"viewport,omitempty"`
	PointsDeflateB64 *string         `json:"points_deflate_b64,omitempty"`
	Clicks           []any           `json:"clicks,omitempty"`
	Wheel            json.RawMessage `json:"wheel,omitempty"`
}

// GeoPayload is geo data resolved by the SDK.
type GeoPayload struct {
	Country   *string  `json:"country,omitempty"`
	Region    *string  `json:"region,omitempty"`
	City      *string  `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timezone  *string  `json:"timezone,omitempty"`
}

// UnmarshalJSON accepts the fingerprint either as an object or as a JSON-encoded string.
// A string that is not a JSON object is kept under "raw".
func (in *IngestInput) UnmarshalJSON(data []byte) error {
	type plain IngestInput
	aux := struct {
		*plain
		Fingerprint json.RawMessage `json:"fingerprint"`
	}{plain: (*plain)(in)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fp, err := decodeFingerprint(aux.Fingerprint)
	if err != nil {
		return err
	}
	in.Fingerprint = fp
	return nil
}

func decodeFingerprint(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
			return map[string]any{"raw": s}, nil
		}
		return m, nil
	default:
		return nil, Malformed("fingerprint must be an object or a JSON string")
	}
}

// DecodeInput parses a JSON record. Any decoding failure is ErrMalformedInput.
func DecodeInput(data []byte) (*IngestInput, error) {
	var in IngestInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, Malformed("invalid JSON: %v", err)
	}
	return &in, nil
}

// Validate checks the fields without which no entity can be derived.
func (in *IngestInput) Validate() error {
	if strings.TrimSpace(in.SubjectID) == "" {
		return Malformed("shaayud_id is required")
	}
	if in.Timestamp.IsZero() {
		return Malformed("timestamp is required")
	}
	if StringValue(in.EventType) == "" && (in.Method == "" || in.Path == "") {
		return Malformed("method and path are required when event_type is absent")
	}
	return nil
}

// StringValue returns the pointed-to string, or "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
