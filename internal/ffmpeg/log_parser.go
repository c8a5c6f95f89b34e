package ffmpeg

import "strings"

// inputFailures are untagged stderr fragments that mean the input could not
// be opened or was lost. ffmpeg prints some of these without a level.
var inputFailures = []string{
	"Connection refused",
	"Connection timed out",
	"No route to host",
	"Input/output error",
	"Server returned 404",
	"Invalid data found when processing input",
}

// ClassifyLine returns the log level and message for one stderr line of a
// capture run started with -loglevel level+info.
//
// A "[level] " tag, alone or after a "[component @ 0x...] " prefix, is
// stripped and the component kept. Untagged lines report "info" unless they
// describe an input failure, which reports "error".
func ClassifyLine(line string) (level, msg string) {
	level, msg = "info", line

	prefix, rest := "", line
	if tag, after, ok := cutTag(rest); ok && strings.Contains(tag, " @ ") {
		prefix, rest = line[:len(line)-len(after)], after
	}
	if tag, after, ok := cutTag(rest); ok && isLogLevel(tag) {
		level, msg = tag, prefix+after
	}

	if level == "info" && IsInputFailure(msg) {
		level = "error"
	}
	return level, msg
}

// IsInputFailure reports whether line describes an input that could not be
// read.
func IsInputFailure(line string) bool {
	for _, s := range inputFailures {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// cutTag splits "[tag] rest" into tag and rest.
func cutTag(s string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.Index(s, "] ")
	if end == -1 {
		return "", s, false
	}
	return s[1:end], s[end+2:], true
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
