package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// One schema per inbound frame type. Payloads that fail validation are
// dropped before they reach any handler.
var inboundSchemas = map[string]*gojsonschema.Schema{}

func init() {
	sources := map[string]string{
		TypePing: `{
			"type": "object"
		}`,
		TypeInitConfig: `{
			"type": "object",
			"required": ["config"],
			"properties": {
				"config": {"type": "object"}
			}
		}`,
		TypeResize: `{
			"type": "object",
			"required": ["dimensions"],
			"properties": {
				"dimensions": {
					"type": "object",
					"required": ["width", "height"],
					"properties": {
						"width": {"type": "number", "minimum": 0},
						"height": {"type": "number", "minimum": 0}
					}
				}
			}
		}`,
		TypeThemeUpdate: `{
			"type": "object",
			"required": ["theme"],
			"properties": {
				"theme": {
					"type": "object",
					"additionalProperties": {"type": "string"}
				}
			}
		}`,
		TypeUserInput: `{
			"type": "object",
			"required": ["input"]
		}`,
		TypeWidgetCommand: `{
			"type": "object",
			"required": ["command"],
			"properties": {
				"command": {"enum": ["pause", "resume", "reset", "close"]},
				"params": {"type": "object"}
			}
		}`,
		TypeAnalyticsEvent: `{
			"type": "object",
			"required": ["event"],
			"properties": {
				"event": {
					"type": "object",
					"required": ["type"],
					"properties": {
						"type": {"type": "string", "minLength": 1},
						"name": {"type": "string"},
						"data": {"type": "object"}
					}
				}
			}
		}`,
	}
	for frameType, source := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			panic(fmt.Sprintf("protocol: bad schema for %s: %v", frameType, err))
		}
		inboundSchemas[frameType] = schema
	}
}

// ValidateInbound checks a frame's type and payload against the inbound
// vocabulary. A nil payload is treated as an empty object.
func ValidateInbound(frame Frame) error {
	schema, ok := inboundSchemas[frame.Type]
	if !ok {
		return fmt.Errorf("unknown inbound frame type %q", frame.Type)
	}

	payload := frame.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("invalid %s payload: %w", frame.Type, err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return fmt.Errorf("invalid %s payload: %s", frame.Type, strings.Join(issues, "; "))
	}
	return nil
}
