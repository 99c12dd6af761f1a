package relay

import "strings"

// LineKind classifies one line of an event stream.
type LineKind int

const (
	// LineBlank - empty line, the event separator.
	LineBlank LineKind = iota
	// LinePing - "event: ping" keepalive.
	LinePing
	// LineComment - ":"-prefixed comment.
	LineComment
	// LineField - any other field (event:, id:, retry:, ...).
	LineField
	// LineData - "data:" line; the payload is returned alongside.
	LineData
)

// String returns the string representation of the line kind.
func (k LineKind) String() string {
	switch k {
	case LineBlank:
		return "blank"
	case LinePing:
		return "ping"
	case LineComment:
		return "comment"
	case LineField:
		return "field"
	case LineData:
		return "data"
	default:
		return "unknown"
	}
}

// Classify reports what kind of line this is. For LineData the payload after
// "data:" (and one optional space) is returned; it is empty otherwise.
func Classify(line string) (LineKind, string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineBlank, ""
	case strings.HasPrefix(line, ":"):
		return LineComment, ""
	case strings.HasPrefix(line, "data:"):
		return LineData, strings.TrimPrefix(line[len("data:"):], " ")
	}

	name, value, _ := strings.Cut(line, ":")
	if name == "event" && strings.TrimSpace(value) == "ping" {
		return LinePing, ""
	}
	return LineField, ""
}
