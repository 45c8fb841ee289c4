// Package fingerprint maps an error occurrence to a stable grouping key.
//
// The hash is a 32-bit rolling hash over UTF-16 code units so that browser
// SDKs and this package agree on the same input. It is not collision
// resistant; it only has to be stable.
package fingerprint

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Frame is a single parsed stack frame.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

var (
	v8Frame    = regexp.MustCompile(`at\s+(.+?)\s+\((.+?):(\d+):(\d+)\)`)
	geckoFrame = regexp.MustCompile(`(.+?)@(.+?):(\d+):(\d+)`)
)

// ParseStack extracts frames from a stack trace. The first line holds the
// error header and is skipped; lines matching no known format are dropped.
func ParseStack(stack string) []Frame {
	lines := strings.Split(stack, "\n")
	frames := make([]Frame, 0, len(lines))
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if frame, ok := parseLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

func parseLine(line string) (Frame, bool) {
	m := v8Frame.FindStringSubmatch(line)
	if m == nil {
		m = geckoFrame.FindStringSubmatch(line)
	}
	if m == nil {
		return Frame{}, false
	}
	lineNo, _ := strconv.Atoi(m[3])
	col, _ := strconv.Atoi(m[4])
	return Frame{Function: m[1], File: m[2], Line: lineNo, Column: col}, true
}

// Client builds the SDK-side fingerprint: type, message and the file:line of
// the first parsed frame.
func Client(errorType, message, stack string) string {
	key := errorType + ":" + message
	if frames := ParseStack(stack); len(frames) > 0 && frames[0].File != "" {
		key += ":" + frames[0].File + ":" + strconv.Itoa(frames[0].Line)
	}
	return Hash(key)
}

// Server builds the ingestion-side fingerprint: type, message and the first
// frame line of the stack verbatim, falling back to the header line.
func Server(errorType, message, stack string) string {
	return Hash(errorType + ":" + message + ":" + firstStackLine(stack))
}

func firstStackLine(stack string) string {
	lines := strings.SplitN(stack, "\n", 3)
	if len(lines) > 1 && lines[1] != "" {
		return lines[1]
	}
	return lines[0]
}

// Hash folds s into a signed 32-bit accumulator (h = h*31 + c) and returns
// the absolute value in decimal.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 10)
}
