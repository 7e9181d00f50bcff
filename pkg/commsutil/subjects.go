package commsutil

import (
	"fmt"
	"strings"
)

// Default event subjects.
const (
	SubjectProcessed = "relay.processed"
)

// BuildProcessedSubject builds the granular subject of a processed-request
// event, e.g. relay.processed.objectstore.error.
func BuildProcessedSubject(carrier, outcome string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectProcessed, token(carrier), token(outcome))
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
