package types

import "time"

// Widget is the descriptor the backend serves for an embeddable widget.
type Widget struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Description    string          `json:"description,omitempty"`
	IsActive       bool            `json:"isActive"`
	IsDeployed     bool            `json:"isDeployed"`
	AllowedDomains []string        `json:"allowedDomains,omitempty"`
	Theme          ThemeConfig     `json:"theme,omitempty"`
	Layout         LayoutConfig    `json:"layout,omitempty"`
	Security       SecurityConfig  `json:"security,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time      `json:"updatedAt,omitempty"`
}

// ThemeConfig holds the widget's default visual variables. Values are CSS
// custom-property strings passed through to the host page untouched.
type ThemeConfig map[string]string

type LayoutConfig struct {
	Width     string `json:"width,omitempty"`
	Height    string `json:"height,omitempty"`
	Placement string `json:"placement,omitempty"`
}

type SecurityConfig struct {
	RequireAuth  bool               `json:"requireAuth,omitempty"`
	RateLimiting RateLimitingConfig `json:"rateLimiting,omitempty"`
	AllowMic     bool               `json:"allowMicrophone,omitempty"`
	AllowCamera  bool               `json:"allowCamera,omitempty"`
	AllowGeo     bool               `json:"allowGeolocation,omitempty"`
}

// RateLimitingConfig overrides the runtime's built-in request caps when
// RequestsPerMinute is positive.
type RateLimitingConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute,omitempty"`
	RequestsPerDay    int `json:"requestsPerDay,omitempty"`
}

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

type DeviceInfo struct {
	Type             DeviceType `json:"type"`
	UserAgent        string     `json:"userAgent,omitempty"`
	ScreenResolution string     `json:"screenResolution,omitempty"`
	BrowserName      string     `json:"browserName,omitempty"`
	BrowserVersion   string     `json:"browserVersion,omitempty"`
	OS               string     `json:"os,omitempty"`
}

type Geolocation struct {
	Country   string  `json:"country,omitempty"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)
