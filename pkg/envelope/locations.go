package envelope

import (
	"fmt"
	"path"
	"strings"
)

// Object key layout shared by clients and relays.
const (
	RequestsDir  = "requests"
	ResponsesDir = "responses"
	objectSuffix = ".json"
)

// BuildRequestKey builds the object key of a request envelope.
func BuildRequestKey(prefix, sessionID, correlationID string) string {
	return path.Join(prefix, RequestsDir, sessionID, correlationID+objectSuffix)
}

// BuildResponseKey builds the object key of a response envelope.
func BuildResponseKey(prefix, sessionID, correlationID string) string {
	return path.Join(prefix, ResponsesDir, sessionID, correlationID+objectSuffix)
}

// BuildRequestsPrefix builds the key prefix under which a session's requests live.
// An empty session id yields the prefix of all sessions.
func BuildRequestsPrefix(prefix, sessionID string) string {
	return path.Join(prefix, RequestsDir, sessionID)
}

// CorrelationIDFromKey extracts the correlation id from an object key.
func CorrelationIDFromKey(key string) (string, error) {
	base := path.Base(key)
	if !strings.HasSuffix(base, objectSuffix) {
		return "", fmt.Errorf("%s - key %q is not an envelope object", logPrefix, key)
	}
	id := strings.TrimSuffix(base, objectSuffix)
	if id == "" {
		return "", fmt.Errorf("%s - key %q has empty correlation id", logPrefix, key)
	}
	return id, nil
}

// BuildMarkerLocation builds the location of a marker-delimited payload.
func BuildMarkerLocation(kind, correlationID string) string {
	return kind + ":" + correlationID
}

// ParseMarkerLocation splits a marker location into kind and correlation id.
func ParseMarkerLocation(loc string) (kind, correlationID string, err error) {
	idx := strings.Index(loc, ":")
	if idx <= 0 || idx == len(loc)-1 {
		return "", "", fmt.Errorf("%s - invalid marker location %q", logPrefix, loc)
	}
	return loc[:idx], loc[idx+1:], nil
}
