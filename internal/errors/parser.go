package errors

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorParser turns the diagnostic output of external tools (dart-sass,
// postcss) into BuildErrors with a file position.
type ErrorParser struct {
	patterns []errorPattern
}

type errorPattern struct {
	regex       *regexp.Regexp
	parseFields func(matches []string) (file string, line int, column int, message string)
}

var (
	sassMessage  = regexp.MustCompile(`^(?:Error|Warning): (.+)$`)
	sassLocation = regexp.MustCompile(`^\s*(\S+) (\d+):(\d+)(?:\s+.*)?$`)
)

// NewErrorParser creates a new error parser
func NewErrorParser() *ErrorParser {
	return &ErrorParser{patterns: buildPatterns()}
}

// Parse extracts a BuildError from tool output. source replaces the "-"
// placeholder that dart-sass prints for stdin input. The returned error
// always carries the raw output as its message when nothing matched.
func (ep *ErrorParser) Parse(output, source string) *BuildError {
	output = strings.TrimSpace(output)
	be := &BuildError{
		File:      source,
		Severity:  ErrorSeverityError,
		Timestamp: time.Now(),
	}
	if output == "" {
		be.Message = "unknown error"
		return be
	}

	lines := strings.Split(output, "\n")

	// dart-sass: "Error: msg" followed by a snippet and a location trace.
	for i, line := range lines {
		m := sassMessage.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		be.Message = m[1]
		for _, rest := range lines[i+1:] {
			loc := sassLocation.FindStringSubmatch(rest)
			if loc == nil || strings.Contains(rest, "│") {
				continue
			}
			if loc[1] != "-" {
				be.File = loc[1]
			}
			be.Line, _ = strconv.Atoi(loc[2])
			be.Column, _ = strconv.Atoi(loc[3])
			break
		}
		return be
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		for _, pattern := range ep.patterns {
			matches := pattern.regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			file, lineNum, column, message := pattern.parseFields(matches)
			if file != "" && !strings.HasPrefix(file, "<") {
				be.File = file
			}
			be.Line = lineNum
			be.Column = column
			be.Message = message
			return be
		}
	}

	be.Message = lines[0]
	return be
}

func buildPatterns() []errorPattern {
	return []errorPattern{
		{
			// postcss: "CssSyntaxError: <css input>:3:5: Unknown word"
			regex: regexp.MustCompile(`^\w*Error: (.+?):(\d+):(\d+): (.+)$`),
			parseFields: func(matches []string) (string, int, int, string) {
				line, _ := strconv.Atoi(matches[2])
				column, _ := strconv.Atoi(matches[3])
				return matches[1], line, column, matches[4]
			},
		},
		{
			regex: regexp.MustCompile(`^(.+?):(\d+):(\d+): (.+)$`),
			parseFields: func(matches []string) (string, int, int, string) {
				line, _ := strconv.Atoi(matches[2])
				column, _ := strconv.Atoi(matches[3])
				return matches[1], line, column, matches[4]
			},
		},
	}
}
