package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/assetpipe/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var b strings.Builder
	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		b.WriteString(title)
		b.WriteString(":\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "  - %s: %s\n", issue.Field, issue.Message)
			for _, s := range issue.Suggestions {
				fmt.Fprintf(&b, "      hint: %s\n", s)
			}
		}
	}
	write("Errors", vr.Errors)
	write("Warnings", vr.Warnings)
	return b.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate returns the first validation error, if any.
func (c *Config) Validate() error {
	result := c.ValidateDetails()
	if result.HasErrors() {
		return &result.Errors[0]
	}
	return nil
}

// ValidateDetails checks every setting and collects errors and warnings.
func (c *Config) ValidateDetails() *ValidationResult {
	result := &ValidationResult{}

	validatePaths(&c.Paths, result)

	validateGlobs("html.src", c.HTML.Src, true, result)
	validateGlobs("html.watch", c.HTML.Watch, false, result)
	if c.HTML.IncludePrefix == "" {
		result.fail("html.include_prefix", c.HTML.IncludePrefix, "include prefix cannot be empty", "Use '@@'")
	}

	validateGlobs("styles.src", c.Styles.Src, true, result)
	validateGlobs("styles.watch", c.Styles.Watch, false, result)
	validateRelDir("styles.dest", c.Styles.Dest, result)
	validateFileName("styles.file", c.Styles.File, result)
	if c.Styles.Style != "expanded" && c.Styles.Style != "compressed" {
		result.fail("styles.style", c.Styles.Style, "style must be expanded or compressed")
	}
	if c.Styles.Autoprefixer.Enabled && len(c.Styles.Autoprefixer.Browsers) == 0 {
		result.warn("styles.autoprefixer.browsers", nil, "no browsers listed, autoprefixer uses its defaults")
	}

	validateGlobs("scripts.src", c.Scripts.Src, true, result)
	validateGlobs("scripts.watch", c.Scripts.Watch, false, result)
	validateRelDir("scripts.dest", c.Scripts.Dest, result)
	validateFileName("scripts.file", c.Scripts.File, result)

	validateGlobs("images.src", c.Images.Src, true, result)
	validateRelDir("images.dest", c.Images.Dest, result)
	validateQuality("images.jpeg_quality", c.Images.JPEGQuality, result)
	validateQuality("images.webp_quality", c.Images.WebPQuality, result)
	if c.HTML.WebP && !c.Images.WebP {
		result.warn("html.webp", true, "pages reference .webp images that images.webp does not produce",
			"Enable images.webp or disable html.webp")
	}

	validateGlobs("fonts.src", c.Fonts.Src, true, result)
	validateRelDir("fonts.dest", c.Fonts.Dest, result)

	validateGlobs("sprite.src", c.Sprite.Src, true, result)
	validateRelDir("sprite.dest", c.Sprite.Dest, result)
	validateFileName("sprite.file", c.Sprite.File, result)

	validateServer(&c.Server, result)

	if c.Watch.Debounce < 0 {
		result.fail("watch.debounce", c.Watch.Debounce, "debounce cannot be negative")
	}

	for _, tool := range []struct{ field, command string }{
		{"tools.sass", c.Tools.Sass},
		{"tools.postcss", c.Tools.PostCSS},
		{"tools.cwebp", c.Tools.CWebP},
	} {
		if strings.TrimSpace(tool.command) == "" {
			result.fail(tool.field, tool.command, "tool command cannot be empty")
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		result.fail("log.level", c.Log.Level, err.Error(), "Use debug, info, warn or error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		result.fail("log.format", c.Log.Format, "format must be text or json")
	}

	return result
}

func validatePaths(p *PathsConfig, result *ValidationResult) {
	if p.Src == "" {
		result.fail("paths.src", p.Src, "source directory cannot be empty")
	}
	if p.Dist == "" {
		result.fail("paths.dist", p.Dist, "output directory cannot be empty")
		return
	}

	dist := filepath.Clean(p.Dist)
	if dist == "." || dist == string(filepath.Separator) || dist == ".." {
		// clean removes the output directory; refuse anything that is not
		// a dedicated directory.
		result.fail("paths.dist", p.Dist, "output directory must be a dedicated subdirectory",
			"Use 'dist' or 'build'")
		return
	}
	if p.Src != "" {
		src := filepath.Clean(p.Src)
		if src == dist || within(dist, src) {
			result.fail("paths.dist", p.Dist, "output directory cannot contain the sources")
		}
	}
}

func within(parent, child string) bool {
	if parent == "." {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func validateGlobs(field string, globs []string, required bool, result *ValidationResult) {
	if required && len(globs) == 0 {
		result.fail(field, globs, "at least one glob is required")
		return
	}
	for _, g := range globs {
		pattern := strings.TrimPrefix(g, "!")
		if pattern == "" {
			result.fail(field, g, "empty glob")
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			result.fail(field, g, fmt.Sprintf("invalid glob %q", g))
		}
	}
}

func validateRelDir(field, dir string, result *ValidationResult) {
	if dir == "" {
		return
	}
	clean := filepath.Clean(dir)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		result.fail(field, dir, "directory must be relative and stay inside its root")
	}
}

func validateFileName(field, name string, result *ValidationResult) {
	if name == "" {
		result.fail(field, name, "file name cannot be empty")
		return
	}
	if strings.ContainsAny(name, `/\`) {
		result.fail(field, name, "file name cannot contain a directory")
	}
}

func validateQuality(field string, q int, result *ValidationResult) {
	if q < 1 || q > 100 {
		result.fail(field, q, fmt.Sprintf("quality %d is not in range 1-100", q))
	}
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.Port < 0 || s.Port > 65535 {
		result.fail("server.port", s.Port, fmt.Sprintf("port %d is not in valid range 0-65535", s.Port),
			"Common development ports: 3000, 8080, 8000, 3001",
			"Port 0 allows system to assign an available port")
	} else if s.Port > 0 && s.Port < 1024 {
		result.warn("server.port", s.Port, "port below 1024 requires elevated privileges")
	}

	if s.Host == "" {
		result.fail("server.host", s.Host, "host cannot be empty", "Use 'localhost' for local development")
	} else if strings.ContainsAny(s.Host, ";&|$`()<>\"'\\ /") {
		result.fail("server.host", s.Host, "host contains invalid characters")
	} else if ip := net.ParseIP(s.Host); ip != nil && ip.IsUnspecified() {
		result.warn("server.host", s.Host, "the development server is reachable from other machines")
	}

	for _, origin := range s.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			result.fail("server.allowed_origins", origin, "origin must start with http:// or https://")
		}
	}
}
