// Package config provides configuration management for assetpipe using
// Viper for flexible loading from files, environment variables and
// command-line flags.
//
// Configuration comes from .assetpipe.yml, environment variables with the
// ASSETPIPE_ prefix (ASSETPIPE_SERVER_PORT, ASSETPIPE_STYLES_MINIFY, ...)
// and flags bound by the commands. Source globs are relative to paths.src,
// output directories relative to paths.dist.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "ASSETPIPE"

type Config struct {
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
	HTML    HTMLConfig    `mapstructure:"html" yaml:"html"`
	Styles  StylesConfig  `mapstructure:"styles" yaml:"styles"`
	Scripts ScriptsConfig `mapstructure:"scripts" yaml:"scripts"`
	Images  ImagesConfig  `mapstructure:"images" yaml:"images"`
	Fonts   FontsConfig   `mapstructure:"fonts" yaml:"fonts"`
	Sprite  SpriteConfig  `mapstructure:"sprite" yaml:"sprite"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Tools   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	// Graph is an optional HCL file adding or overriding tasks.
	Graph string `mapstructure:"graph" yaml:"graph"`
}

type PathsConfig struct {
	Src  string `mapstructure:"src" yaml:"src"`
	Dist string `mapstructure:"dist" yaml:"dist"`
}

type HTMLConfig struct {
	Src    []string `mapstructure:"src" yaml:"src"`
	Watch  []string `mapstructure:"watch" yaml:"watch"`
	Minify bool     `mapstructure:"minify" yaml:"minify"`
	WebP   bool     `mapstructure:"webp" yaml:"webp"`
	// IncludePrefix marks include directives and variables.
	IncludePrefix string `mapstructure:"include_prefix" yaml:"include_prefix"`
	// Context holds the variables every page can reference. Keys are
	// lower-cased by the configuration loader.
	Context map[string]interface{} `mapstructure:"context" yaml:"context"`
}

type StylesConfig struct {
	Src          []string           `mapstructure:"src" yaml:"src"`
	Watch        []string           `mapstructure:"watch" yaml:"watch"`
	Dest         string             `mapstructure:"dest" yaml:"dest"`
	File         string             `mapstructure:"file" yaml:"file"`
	Style        string             `mapstructure:"style" yaml:"style"`
	IncludePaths []string           `mapstructure:"include_paths" yaml:"include_paths"`
	Autoprefixer AutoprefixerConfig `mapstructure:"autoprefixer" yaml:"autoprefixer"`
	GroupMedia   bool               `mapstructure:"group_media" yaml:"group_media"`
	Minify       bool               `mapstructure:"minify" yaml:"minify"`
}

type AutoprefixerConfig struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Browsers []string `mapstructure:"browsers" yaml:"browsers"`
	Grid     bool     `mapstructure:"grid" yaml:"grid"`
}

type ScriptsConfig struct {
	Src    []string `mapstructure:"src" yaml:"src"`
	Watch  []string `mapstructure:"watch" yaml:"watch"`
	Dest   string   `mapstructure:"dest" yaml:"dest"`
	File   string   `mapstructure:"file" yaml:"file"`
	Minify bool     `mapstructure:"minify" yaml:"minify"`
}

type ImagesConfig struct {
	Src         []string `mapstructure:"src" yaml:"src"`
	Dest        string   `mapstructure:"dest" yaml:"dest"`
	Optimize    bool     `mapstructure:"optimize" yaml:"optimize"`
	JPEGQuality int      `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	WebP        bool     `mapstructure:"webp" yaml:"webp"`
	WebPQuality int      `mapstructure:"webp_quality" yaml:"webp_quality"`
}

type FontsConfig struct {
	Src []string `mapstructure:"src" yaml:"src"`
	// Dest is relative to paths.src: converted fonts live next to the
	// sources and are copied by the stylesheet build.
	Dest string `mapstructure:"dest" yaml:"dest"`
}

type SpriteConfig struct {
	Src      []string `mapstructure:"src" yaml:"src"`
	Dest     string   `mapstructure:"dest" yaml:"dest"`
	File     string   `mapstructure:"file" yaml:"file"`
	IDPrefix string   `mapstructure:"id_prefix" yaml:"id_prefix"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	NoOpen         bool     `mapstructure:"no-open" yaml:"-"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type NotifyConfig struct {
	Desktop bool   `mapstructure:"desktop" yaml:"desktop"`
	Icon    string `mapstructure:"icon" yaml:"icon"`
}

type ToolsConfig struct {
	Sass    string `mapstructure:"sass" yaml:"sass"`
	PostCSS string `mapstructure:"postcss" yaml:"postcss"`
	CWebP   string `mapstructure:"cwebp" yaml:"cwebp"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default with v. Keys must be known to viper
// for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.src", "app")
	v.SetDefault("paths.dist", "dist")

	v.SetDefault("html.src", []string{"*.html"})
	v.SetDefault("html.watch", []string{"**/*.html"})
	v.SetDefault("html.minify", false)
	v.SetDefault("html.webp", true)
	v.SetDefault("html.include_prefix", "@@")
	v.SetDefault("html.context", map[string]interface{}{})

	v.SetDefault("styles.src", []string{"scss/style.scss"})
	v.SetDefault("styles.watch", []string{"scss/**/*.scss"})
	v.SetDefault("styles.dest", "css")
	v.SetDefault("styles.file", "style.min.css")
	v.SetDefault("styles.style", "expanded")
	v.SetDefault("styles.include_paths", []string{})
	v.SetDefault("styles.autoprefixer.enabled", true)
	v.SetDefault("styles.autoprefixer.browsers", []string{"last 10 version"})
	v.SetDefault("styles.autoprefixer.grid", true)
	v.SetDefault("styles.group_media", true)
	v.SetDefault("styles.minify", true)

	v.SetDefault("scripts.src", []string{"**/*.js", "!js/main.min.js"})
	v.SetDefault("scripts.watch", []string{"js/**/*.js", "!js/main.min.js"})
	v.SetDefault("scripts.dest", "js")
	v.SetDefault("scripts.file", "script.min.js")
	v.SetDefault("scripts.minify", true)

	v.SetDefault("images.src", []string{"images/**/*"})
	v.SetDefault("images.dest", "images")
	v.SetDefault("images.optimize", false)
	v.SetDefault("images.jpeg_quality", 90)
	v.SetDefault("images.webp", true)
	v.SetDefault("images.webp_quality", 75)

	v.SetDefault("fonts.src", []string{"fonts/*.{otf,ttf}"})
	v.SetDefault("fonts.dest", "fonts")

	v.SetDefault("sprite.src", []string{"images/icons/*.svg"})
	v.SetDefault("sprite.dest", "images")
	v.SetDefault("sprite.file", "sprite.svg")
	v.SetDefault("sprite.id_prefix", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.open", true)
	v.SetDefault("server.no-open", false)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("watch.debounce", "200ms")

	v.SetDefault("notify.desktop", true)
	v.SetDefault("notify.icon", "")

	v.SetDefault("tools.sass", "sass")
	v.SetDefault("tools.postcss", "postcss")
	v.SetDefault("tools.cwebp", "cwebp")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("graph", "assetpipe.hcl")
}

// ConfigureEnv enables ASSETPIPE_ environment overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// LoadFrom reads, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Decode reads and defaults the configuration held by v without validating it.
func Decode(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	// Slices set through the environment arrive as one string.
	for key, dst := range map[string]*[]string{
		"html.src":                     &config.HTML.Src,
		"html.watch":                   &config.HTML.Watch,
		"styles.src":                   &config.Styles.Src,
		"styles.watch":                 &config.Styles.Watch,
		"styles.include_paths":         &config.Styles.IncludePaths,
		"styles.autoprefixer.browsers": &config.Styles.Autoprefixer.Browsers,
		"scripts.src":                  &config.Scripts.Src,
		"scripts.watch":                &config.Scripts.Watch,
		"images.src":                   &config.Images.Src,
		"fonts.src":                    &config.Fonts.Src,
		"sprite.src":                   &config.Sprite.Src,
		"server.allowed_origins":       &config.Server.AllowedOrigins,
	} {
		*dst = stringList(v, key)
	}

	for _, dir := range []*string{&config.Paths.Src, &config.Paths.Dist} {
		if *dir != "" {
			*dir = filepath.Clean(*dir)
		}
	}

	// Override open if no-open was explicitly set via flag
	if config.Server.NoOpen {
		config.Server.Open = false
	}
	if config.HTML.Context == nil {
		config.HTML.Context = make(map[string]interface{})
	}
	return &config, nil
}

// stringList reads a list setting. Lists from environment variables arrive
// as one comma separated string.
func stringList(v *viper.Viper, key string) []string {
	raw, ok := v.Get(key).(string)
	if !ok {
		return v.GetStringSlice(key)
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SrcGlobs resolves globs against paths.src, keeping "!" exclusions.
func (c *Config) SrcGlobs(globs []string) []string {
	out := make([]string, len(globs))
	for i, g := range globs {
		if rest, ok := strings.CutPrefix(g, "!"); ok {
			out[i] = "!" + c.SrcPath(rest)
			continue
		}
		out[i] = c.SrcPath(g)
	}
	return out
}

// SrcPath joins rel onto paths.src using forward slashes, as globs expect.
func (c *Config) SrcPath(rel string) string {
	return joinSlash(c.Paths.Src, rel)
}

// DistPath joins rel onto paths.dist.
func (c *Config) DistPath(rel string) string {
	return filepath.Join(c.Paths.Dist, filepath.FromSlash(rel))
}

func joinSlash(base, rel string) string {
	base = path.Clean(filepath.ToSlash(base))
	rel = filepath.ToSlash(rel)
	if base == "" || base == "." || strings.HasPrefix(rel, "/") {
		return rel
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "./")
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the configuration used when nothing is set.
func Default() (*Config, error) {
	return LoadFrom(viper.New())
}
