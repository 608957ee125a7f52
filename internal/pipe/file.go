// Package pipe implements the file stream every assetpipe task is built from:
// files matched by globs are read into memory, passed through an ordered
// chain of transforms and finally written to a destination directory.
//
// A File remembers the glob base it was matched under, so a file read from
// "app/scss/style.scss" with base "app/scss" is written to "dist/css/style.css"
// by Dest("dist/css") after the sass transform has changed its extension.
package pipe

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// File is one file flowing through a pipeline.
type File struct {
	// Path is the current location of the file, relative or absolute.
	Path string
	// Base is the directory Path is relative to when written by Dest.
	Base     string
	Contents []byte
	Mode     fs.FileMode
	ModTime  time.Time
}

// NewFile creates an in-memory file rooted at base.
func NewFile(base, rel string, contents []byte) *File {
	return &File{
		Path:     filepath.Join(base, rel),
		Base:     base,
		Contents: contents,
		Mode:     0o644,
		ModTime:  time.Now(),
	}
}

// Relative returns the path of the file relative to its base.
func (f *File) Relative() string {
	if f.Base == "" {
		return filepath.Base(f.Path)
	}
	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(f.Path)
	}
	return rel
}

// Ext returns the lower-cased extension including the dot.
func (f *File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Path))
}

// Stem returns the base name without its extension.
func (f *File) Stem() string {
	name := filepath.Base(f.Path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SetExt replaces the extension of the file. ext must include the dot.
func (f *File) SetExt(ext string) {
	f.Path = strings.TrimSuffix(f.Path, filepath.Ext(f.Path)) + ext
}

// SetName replaces the base name of the file, keeping its directory.
func (f *File) SetName(name string) {
	f.Path = filepath.Join(filepath.Dir(f.Path), name)
}

// SetBase moves the file under a new base, keeping its relative path.
func (f *File) SetBase(base string) {
	rel := f.Relative()
	f.Base = base
	f.Path = filepath.Join(base, rel)
}

// Clone returns a deep copy of the file.
func (f *File) Clone() *File {
	c := *f
	c.Contents = append([]byte(nil), f.Contents...)
	return &c
}
