package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// StampFile is the name of the stamp written into the output directory.
const StampFile = "version.json"

// Stamp identifies one build of the assets. Templates reference it as
// @@version to bust browser caches.
type Stamp struct {
	Version string    `json:"version"`
	BuiltAt time.Time `json:"built_at"`
}

// NewStamp returns the stamp for a build started at t: the Unix time in
// milliseconds.
func NewStamp(t time.Time) Stamp {
	return Stamp{
		Version: strconv.FormatInt(t.UnixMilli(), 10),
		BuiltAt: t.UTC().Truncate(time.Second),
	}
}

// Write stores the stamp as dir/version.json, creating dir.
func (s Stamp) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode version stamp: %w", err)
	}
	path := filepath.Join(dir, StampFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ReadStamp loads dir/version.json.
func ReadStamp(dir string) (Stamp, error) {
	var s Stamp
	data, err := os.ReadFile(filepath.Join(dir, StampFile))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode %s: %w", StampFile, err)
	}
	return s, nil
}
