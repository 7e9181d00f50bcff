package envelope

import (
	"encoding/base64"
	"fmt"
	"regexp"
)

// Marker kinds embedded in free-form carrier text.
const (
	MarkerRequest  = "MCP_REQUEST"
	MarkerResponse = "MCP_RESPONSE"
)

// markerRegex matches `<!-- KIND:id:base64 -->`; anything outside the comment is ignored.
var markerRegex = regexp.MustCompile(`<!--\s*(MCP_REQUEST|MCP_RESPONSE):([A-Za-z0-9_-]+):([A-Za-z0-9+/=]+)\s*-->`)

// Marker is one decoded payload found in carrier text.
type Marker struct {
	Kind          string
	CorrelationID string
	Payload       []byte
}

// EncodeMarker wraps payload in an HTML-comment delimited marker.
func EncodeMarker(kind, correlationID string, payload []byte) string {
	return fmt.Sprintf("<!-- %s:%s:%s -->", kind, correlationID, base64.StdEncoding.EncodeToString(payload))
}

// ParseMarkers returns every well-formed marker in text, in order of appearance.
// Markers whose payload is not valid base64 are dropped.
func ParseMarkers(text string) []Marker {
	matches := markerRegex.FindAllStringSubmatch(text, -1)
	out := make([]Marker, 0, len(matches))
	for _, m := range matches {
		payload, err := base64.StdEncoding.DecodeString(m[3])
		if err != nil {
			continue
		}
		out = append(out, Marker{Kind: m[1], CorrelationID: m[2], Payload: payload})
	}
	return out
}

// FindMarker returns the first marker of the given kind and id in text.
func FindMarker(text, kind, correlationID string) (Marker, bool) {
	for _, m := range ParseMarkers(text) {
		if m.Kind == kind && m.CorrelationID == correlationID {
			return m, true
		}
	}
	return Marker{}, false
}
