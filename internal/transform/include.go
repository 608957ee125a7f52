package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// MaxIncludeDepth bounds nested @@include directives.
const MaxIncludeDepth = 32

// IncludeOptions configures the include transform.
type IncludeOptions struct {
	// Prefix marks directives and variables, "@@" by default.
	Prefix string
	// Context holds the variables visible to every file.
	Context map[string]interface{}
	// ContextFunc, when set, is called on every run and merged over Context.
	// Values known only at build time (the cache-busting version) use it.
	ContextFunc func() map[string]interface{}
}

// Include resolves prefix-include directives:
//
//	@@include('partials/header.html', {"title": "Home"})
//
// Paths are relative to the including file. The optional JSON object is
// merged over the inherited context and its keys are substituted as
// @@title (or @@a.b for nested values) inside the included file. Unknown
// variables are left as written.
func Include(opts IncludeOptions) pipe.Transform {
	if opts.Prefix == "" {
		opts.Prefix = "@@"
	}
	inc := &includer{
		prefix: opts.Prefix,
		varRe:  regexp.MustCompile(regexp.QuoteMeta(opts.Prefix) + `([A-Za-z_][\w-]*(?:\.[A-Za-z_][\w-]*)*)`),
	}
	return pipe.TransformFunc("include", func(ctx context.Context, files []*pipe.File) ([]*pipe.File, error) {
		global := opts.Context
		if opts.ContextFunc != nil {
			global = mergeContext(global, opts.ContextFunc())
		}
		return pipe.Each("include", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
			abs, err := filepath.Abs(f.Path)
			if err != nil {
				return nil, err
			}
			out, err := inc.expand(f.Contents, abs, global, []string{abs})
			if err != nil {
				return nil, err
			}
			f.Contents = out
			return f, nil
		}).Transform(ctx, files)
	})
}

type includer struct {
	prefix string
	varRe  *regexp.Regexp
}

// IncludeError reports a failed directive with the file it appeared in.
type IncludeError struct {
	File string
	Line int
	Msg  string
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func (inc *includer) expand(src []byte, file string, vars map[string]interface{}, stack []string) ([]byte, error) {
	if len(stack) > MaxIncludeDepth {
		return nil, &IncludeError{File: file, Line: 1, Msg: "include depth exceeded"}
	}

	directive := []byte(inc.prefix + "include(")
	var out bytes.Buffer
	rest := src
	for {
		idx := bytes.Index(rest, directive)
		if idx < 0 {
			out.Write(rest)
			break
		}
		out.Write(rest[:idx])
		line := 1 + bytes.Count(src[:len(src)-len(rest)+idx], []byte("\n"))

		args := rest[idx+len(directive):]
		target, local, consumed, err := parseIncludeArgs(args)
		if err != nil {
			return nil, &IncludeError{File: file, Line: line, Msg: err.Error()}
		}
		rest = args[consumed:]

		path := filepath.Clean(filepath.Join(filepath.Dir(file), filepath.FromSlash(target)))
		for _, seen := range stack {
			if seen == path {
				return nil, &IncludeError{File: file, Line: line, Msg: fmt.Sprintf("include cycle through %s", target)}
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &IncludeError{File: file, Line: line, Msg: fmt.Sprintf("cannot include %s: %v", target, err)}
		}

		expanded, err := inc.expand(data, path, mergeContext(vars, local), append(stack, path))
		if err != nil {
			return nil, err
		}
		out.Write(expanded)
	}
	return inc.substitute(out.Bytes(), vars), nil
}

func (inc *includer) substitute(src []byte, vars map[string]interface{}) []byte {
	if len(vars) == 0 {
		return src
	}
	return inc.varRe.ReplaceAllFunc(src, func(m []byte) []byte {
		name := string(m[len(inc.prefix):])
		// Longest dotted prefix that resolves wins, the rest stays literal
		// ("@@name.html" with only "name" defined).
		parts := strings.Split(name, ".")
		for n := len(parts); n > 0; n-- {
			if v, ok := lookup(vars, parts[:n]); ok {
				tail := strings.Join(parts[n:], ".")
				if tail != "" {
					tail = "." + tail
				}
				return append(formatValue(v), tail...)
			}
		}
		return m
	})
}

func lookup(vars map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = vars
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func formatValue(v interface{}) []byte {
	switch val := v.(type) {
	case string:
		return []byte(val)
	case float64:
		return []byte(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		return []byte(strconv.FormatBool(val))
	case nil:
		return nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return []byte(fmt.Sprint(val))
		}
		return data
	}
}

func mergeContext(parent, local map[string]interface{}) map[string]interface{} {
	if len(local) == 0 {
		return parent
	}
	merged := make(map[string]interface{}, len(parent)+len(local))
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	return merged
}

// parseIncludeArgs parses "'path'[, {json}])" and returns the number of
// bytes consumed including the closing parenthesis.
func parseIncludeArgs(b []byte) (string, map[string]interface{}, int, error) {
	i := skipSpace(b, 0)
	if i >= len(b) || (b[i] != '\'' && b[i] != '"') {
		return "", nil, 0, fmt.Errorf("include path must be a quoted string")
	}
	quote := b[i]
	end := bytes.IndexByte(b[i+1:], quote)
	if end < 0 {
		return "", nil, 0, fmt.Errorf("unterminated include path")
	}
	target := string(b[i+1 : i+1+end])
	if target == "" {
		return "", nil, 0, fmt.Errorf("empty include path")
	}
	i = skipSpace(b, i+end+2)

	var local map[string]interface{}
	if i < len(b) && b[i] == ',' {
		i = skipSpace(b, i+1)
		objEnd, err := matchObject(b, i)
		if err != nil {
			return "", nil, 0, err
		}
		if err := json.Unmarshal(b[i:objEnd], &local); err != nil {
			return "", nil, 0, fmt.Errorf("invalid include context: %w", err)
		}
		i = skipSpace(b, objEnd)
	}

	if i >= len(b) || b[i] != ')' {
		return "", nil, 0, fmt.Errorf("missing closing parenthesis")
	}
	return target, local, i + 1, nil
}

// matchObject returns the index just past the JSON object starting at i.
func matchObject(b []byte, i int) (int, error) {
	if i >= len(b) || b[i] != '{' {
		return 0, fmt.Errorf("include context must be a JSON object")
	}
	depth := 0
	inString := false
	for j := i; j < len(b); j++ {
		c := b[j]
		if inString {
			switch c {
			case '\\':
				j++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return j + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated include context")
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return i
}
