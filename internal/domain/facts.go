package domain

// Device types derived from the fingerprint user agent.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// Facts is the normalized view of one ingest, produced by the extractors.
type Facts struct {
	Device      Device      `json:"device"`
	Identity    Identity    `json:"identity"`
	Session     Session     `json:"session"`
	Network     Network     `json:"network"`
	Event       Event       `json:"event"`
	Geo         Geo         `json:"geo"`
	Origin      Origin      `json:"origin"`
	Interaction Interaction `json:"interaction"`
}

// Device is the client device identified by the fingerprint.
type Device struct {
	ID         string  `json:"id"`
	OS         *string `json:"os,omitempty"`
	Browser    *string `json:"browser,omitempty"`
	DeviceType string  `json:"device_type"`
}

// Identity is the application subject.
type Identity struct {
	ID     string  `json:"id"`
	UserID *string `json:"user_id,omitempty"`
}

// Session groups events from one device.
type Session struct {
	ID        string `json:"id"`
	StartedAt string `json:"started_at"` // RFC 3339
}

// Network is the transport context of the request.
type Network struct {
	IP           *string `json:"ip,omitempty"`
	UserAgentRaw *string `json:"user_agent_raw,omitempty"`
}

// Event is one observed action.
type Event struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Geo is a location shared by sessions and IPs. Key is empty when nothing is known.
type Geo struct {
	Key       string   `json:"key"`
	Country   *string  `json:"country,omitempty"`
	Region    *string  `json:"region,omitempty"`
	City      *string  `json:"city,omitempty"`
	Timezone  *string  `json:"timezone,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Origin describes where the event came from on the front and back end.
type Origin struct {
	FrontURL      *string `json:"front_url,omitempty"`
	FrontPath     *string `json:"front_path,omitempty"`
	FrontReferrer *string `json:"front_referrer,omitempty"`
	BackendPath   *string `json:"backend_path,omitempty"`
	BackendMethod *string `json:"backend_method,omitempty"`
	BackendHost   *string `json:"backend_host,omitempty"`
}

// Interaction summarizes a pointer batch.
type Interaction struct {
	TsStart        *int64  `json:"ts_start,omitempty"`
	TsEnd          *int64  `json:"ts_end,omitempty"`
	ViewportWidth  *int64  `json:"viewport_w,omitempty"`
	ViewportHeight *int64  `json:"viewport_h,omitempty"`
	Points         *string `json:"points_deflate_b64,omitempty"`
	ClickCount     *int64  `json:"click_count,omitempty"`
	Wheel          *string `json:"wheel,omitempty"` // compact JSON
}

// HasIP reports whether the network carried an address.
func (f *Facts) HasIP() bool {
	return f.Network.IP != nil
}

// HasGeo reports whether any geo attribute was known.
func (f *Facts) HasGeo() bool {
	return f.Geo.Key != ""
}
