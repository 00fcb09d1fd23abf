package persona

import (
	"strings"

	"github.com/jholhewres/mimic/pkg/mimic/environment"
)

// Segment splits generated output into the message parts to send.
// Newlines count as split points too. Parts carrying the ignore marker
// or left empty after trimming are dropped; when everything is dropped a
// single empty part remains, so sticker- or attachment-only replies
// still have a delivery slot.
//
// Newlines are honored before the split marker: normalizing the other
// way around would glue a lone ignore marker to the surrounding markers
// and corrupt it.
func Segment(content string) []string {
	// Models sometimes imitate the prompt priming and prefix their reply
	// with "name<response>:"; everything before the marker is scaffolding.
	if idx := strings.LastIndex(content, environment.ResponseMarker); idx >= 0 {
		content = content[idx+len(environment.ResponseMarker):]
	}

	var parts []string
	for _, line := range strings.Split(content, "\n") {
		for _, raw := range strings.Split(line, environment.SplitMarker) {
			part := strings.TrimSpace(raw)
			if strings.Contains(part, environment.IgnoreMarker) {
				part = strings.TrimSpace(strings.ReplaceAll(part, environment.IgnoreMarker, ""))
				if part == "" {
					continue
				}
			}
			// Tool-call syntax leaking into prose is never worth sending.
			if strings.Contains(part, "functions.") {
				continue
			}
			if part == "" {
				continue
			}
			parts = append(parts, part)
		}
	}

	if len(parts) == 0 {
		return []string{""}
	}
	return parts
}
