package pipe

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob is one source pattern. A leading "!" turns it into an exclusion.
type Glob struct {
	Pattern string
	Negate  bool
}

// ParseGlobs splits raw patterns into includes and exclusions and validates
// them. Patterns are cleaned, so "./app/*.js" and "app/*.js" are the same
// glob.
func ParseGlobs(patterns []string) (include, exclude []Glob, err error) {
	for _, raw := range patterns {
		g := Glob{Pattern: filepath.ToSlash(strings.TrimSpace(raw))}
		if strings.HasPrefix(g.Pattern, "!") {
			g.Negate = true
			g.Pattern = strings.TrimPrefix(g.Pattern, "!")
		}
		if g.Pattern == "" {
			continue
		}
		g.Pattern = path.Clean(g.Pattern)
		if !doublestar.ValidatePattern(g.Pattern) {
			return nil, nil, fmt.Errorf("invalid glob %q", raw)
		}
		if g.Negate {
			exclude = append(exclude, g)
		} else {
			include = append(include, g)
		}
	}
	return include, exclude, nil
}

// MatchAny reports whether name (slash or OS separated) matches at least one
// include glob and no exclusion.
func MatchAny(patterns []string, name string) bool {
	include, exclude, err := ParseGlobs(patterns)
	if err != nil {
		return false
	}
	name = filepath.ToSlash(filepath.Clean(name))
	for _, g := range exclude {
		if ok, _ := doublestar.Match(g.Pattern, name); ok {
			return false
		}
	}
	for _, g := range include {
		if ok, _ := doublestar.Match(g.Pattern, name); ok {
			return true
		}
	}
	return false
}

// GlobBase returns the static directory prefix of a pattern.
func GlobBase(pattern string) string {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	return filepath.FromSlash(base)
}

// Src matches the globs against the filesystem and reads every matched
// regular file. Files are returned sorted by path without duplicates; a glob
// matching nothing is not an error.
func Src(ctx context.Context, patterns ...string) ([]*File, error) {
	include, exclude, err := ParseGlobs(patterns)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var files []*File
	for _, g := range include {
		base, pattern := doublestar.SplitPattern(g.Pattern)
		matches, err := doublestar.Glob(os.DirFS(filepath.FromSlash(base)), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", g.Pattern, err)
		}
		sort.Strings(matches)

		for _, rel := range matches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			full := path.Join(base, rel)
			if seen[full] || excluded(exclude, full) {
				continue
			}
			seen[full] = true

			f, err := readFile(filepath.FromSlash(base), filepath.FromSlash(full))
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}

func excluded(exclude []Glob, name string) bool {
	for _, g := range exclude {
		if ok, _ := doublestar.Match(g.Pattern, name); ok {
			return true
		}
	}
	return false
}

func readFile(base, name string) (*File, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return &File{
		Path:     name,
		Base:     base,
		Contents: data,
		Mode:     info.Mode().Perm(),
		ModTime:  info.ModTime(),
	}, nil
}
