// Package embedcode renders the host-page bootstrap snippets that embed
// a widget: a vanilla script, a raw iframe tag, or a framework
// component. Rendering is pure; no runtime state is involved.
//
// Every format shares one sandbox/allow attribute set, so no embed
// variant can widen the widget's capabilities beyond another.
package embedcode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/lumeoai/widget-sdk-go/types"
)

type Format string

const (
	FormatJavaScript Format = "javascript"
	FormatIframe     Format = "iframe"
	FormatReact      Format = "react"
	FormatVue        Format = "vue"
	FormatAngular    Format = "angular"
)

const (
	defaultBaseURL = "https://widgets.lumeo.ai"
	defaultWidth   = "400px"
	defaultHeight  = "600px"

	// The floor every embed gets; capability grants only ever add the
	// allow attribute, never extra sandbox flags.
	sandboxFlags = "allow-scripts allow-same-origin allow-forms allow-popups"
)

// Options parameterize one rendering. Zero values fall back to the
// widget's configured layout and theme.
type Options struct {
	Format      Format
	BaseURL     string
	ContainerID string
	Width       string
	Height      string
	Responsive  bool
	Theme       map[string]string
	CustomCSS   string

	AllowMicrophone  bool
	AllowCamera      bool
	AllowGeolocation bool
}

type templateData struct {
	WidgetID    string
	WidgetName  string
	Src         string
	ContainerID string
	Width       string
	Height      string
	Responsive  bool
	Sandbox     string
	Allow       string
	ThemeJSON   string
	CustomCSS   string
}

var templates = map[Format]*template.Template{}

func init() {
	sources := map[Format]string{
		FormatIframe:     iframeTemplate,
		FormatJavaScript: javascriptTemplate,
		FormatReact:      reactTemplate,
		FormatVue:        vueTemplate,
		FormatAngular:    angularTemplate,
	}
	for format, source := range sources {
		templates[format] = template.Must(template.New(string(format)).Parse(source))
	}
}

// Generate renders the embed snippet for one widget in the requested
// format.
func Generate(widget types.Widget, opts Options) (string, error) {
	if widget.ID == "" {
		return "", fmt.Errorf("widget id is required")
	}
	format := opts.Format
	if format == "" {
		format = FormatJavaScript
	}
	tmpl, ok := templates[format]
	if !ok {
		return "", fmt.Errorf("unsupported embed format %q", format)
	}

	data, err := buildTemplateData(widget, opts)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render %s embed: %w", format, err)
	}
	return out.String(), nil
}

func buildTemplateData(widget types.Widget, opts Options) (templateData, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	containerID := opts.ContainerID
	if containerID == "" {
		containerID = "lumeo-widget-" + widget.ID
	}

	theme := mergeTheme(widget.Theme, opts.Theme)
	themeJSON, err := json.Marshal(theme)
	if err != nil {
		return templateData{}, fmt.Errorf("encode theme: %w", err)
	}

	return templateData{
		WidgetID:    widget.ID,
		WidgetName:  widget.Name,
		Src:         fmt.Sprintf("%s/embed/%s", baseURL, widget.ID),
		ContainerID: containerID,
		Width:       dimension(opts.Width, widget.Layout.Width, defaultWidth),
		Height:      dimension(opts.Height, widget.Layout.Height, defaultHeight),
		Responsive:  opts.Responsive,
		Sandbox:     sandboxFlags,
		Allow:       allowAttribute(widget, opts),
		ThemeJSON:   string(themeJSON),
		CustomCSS:   opts.CustomCSS,
	}, nil
}

// dimension picks the first non-empty of option, widget layout, default.
func dimension(option, layout, fallback string) string {
	if option != "" {
		return option
	}
	if layout != "" {
		return layout
	}
	return fallback
}

// mergeTheme layers caller overrides on the widget's defaults.
func mergeTheme(defaults types.ThemeConfig, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// allowAttribute grants a capability when either the widget's security
// config or the caller asks for it.
func allowAttribute(widget types.Widget, opts Options) string {
	grants := map[string]bool{
		"microphone":  widget.Security.AllowMic || opts.AllowMicrophone,
		"camera":      widget.Security.AllowCamera || opts.AllowCamera,
		"geolocation": widget.Security.AllowGeo || opts.AllowGeolocation,
	}
	var allowed []string
	for capability, granted := range grants {
		if granted {
			allowed = append(allowed, capability)
		}
	}
	sort.Strings(allowed)
	return strings.Join(allowed, "; ")
}
