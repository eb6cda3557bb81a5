package connection

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TokenValidity is how long an embed token stays usable after issuance.
const TokenValidity = 24 * time.Hour

var (
	ErrTokenMalformed = errors.New("connection: malformed embed token")
	ErrTokenMismatch  = errors.New("connection: embed token issued for a different widget")
	ErrTokenExpired   = errors.New("connection: embed token expired")
)

// Token is the decoded embed token a host page can present at
// establishment. Timestamp is unix milliseconds at issuance.
type Token struct {
	WidgetID  string `json:"widgetId"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeToken mints a token for the given widget, base64 over JSON.
func EncodeToken(widgetID string, issued time.Time) string {
	raw, _ := json.Marshal(Token{WidgetID: widgetID, Timestamp: issued.UnixMilli()})
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeToken parses an encoded token without validating it.
func DecodeToken(encoded string) (Token, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if token.WidgetID == "" || token.Timestamp == 0 {
		return Token{}, ErrTokenMalformed
	}
	return token, nil
}

// validateToken checks that the token belongs to the widget and was
// issued within the validity window.
func validateToken(encoded, widgetID string, now time.Time) error {
	token, err := DecodeToken(encoded)
	if err != nil {
		return err
	}
	if token.WidgetID != widgetID {
		return ErrTokenMismatch
	}
	if now.Sub(time.UnixMilli(token.Timestamp)) > TokenValidity {
		return ErrTokenExpired
	}
	return nil
}
