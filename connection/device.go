package connection

import (
	"strings"

	"github.com/lumeoai/widget-sdk-go/types"
)

// browserMarkers is checked in order; Edge and Opera ship a Chrome
// token, and every major browser ships a Safari token, so the more
// specific markers come first.
var browserMarkers = []struct {
	marker string
	name   string
}{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
}

// ParseUserAgent derives coarse device metadata from a user agent
// string. Unknown agents come back as desktop with blank fields.
func ParseUserAgent(userAgent string) types.DeviceInfo {
	info := types.DeviceInfo{
		Type:      types.DeviceDesktop,
		UserAgent: userAgent,
	}
	if userAgent == "" {
		return info
	}

	switch {
	case strings.Contains(userAgent, "iPad") ||
		(strings.Contains(userAgent, "Android") && !strings.Contains(userAgent, "Mobile")):
		info.Type = types.DeviceTablet
	case strings.Contains(userAgent, "Mobile") || strings.Contains(userAgent, "iPhone") ||
		strings.Contains(userAgent, "Android"):
		info.Type = types.DeviceMobile
	}

	switch {
	case strings.Contains(userAgent, "Windows"):
		info.OS = "Windows"
	case strings.Contains(userAgent, "Android"):
		info.OS = "Android"
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"):
		info.OS = "iOS"
	case strings.Contains(userAgent, "Mac OS X"), strings.Contains(userAgent, "Macintosh"):
		info.OS = "macOS"
	case strings.Contains(userAgent, "Linux"):
		info.OS = "Linux"
	}

	for _, candidate := range browserMarkers {
		idx := strings.Index(userAgent, candidate.marker)
		if idx < 0 {
			continue
		}
		info.BrowserName = candidate.name
		version := userAgent[idx+len(candidate.marker):]
		if end := strings.IndexAny(version, " ;)"); end >= 0 {
			version = version[:end]
		}
		info.BrowserVersion = version
		break
	}

	// Safari reports its real version in a separate token.
	if info.BrowserName == "Safari" {
		if idx := strings.Index(userAgent, "Version/"); idx >= 0 {
			version := userAgent[idx+len("Version/"):]
			if end := strings.IndexAny(version, " ;)"); end >= 0 {
				version = version[:end]
			}
			info.BrowserVersion = version
		}
	}
	return info
}
