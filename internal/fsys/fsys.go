// Package fsys is the filesystem access layer used by the path resolver.
//
// Every path it hands out is confined to a single serving root: request
// paths are decoded and cleaned against a virtual "/" before being joined
// to the root, so ".." segments can never climb above it.
package fsys

import (
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// File is an open file handed from the filesystem layer to the caller,
// who owns it and must close it.
type File interface {
	io.ReadCloser
	Stat() (fs.FileInfo, error)
}

// Root is a directory tree exposed to clients.
type Root interface {
	// Dir returns the absolute filesystem path of the serving root.
	Dir() string
	// Translate maps a request target to a filesystem path under Dir.
	// The query and fragment are dropped, percent-escapes decoded, and
	// a trailing slash on the request path is kept.
	Translate(requestPath string) string
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (File, error)
	ReadDir(name string) ([]fs.DirEntry, error)
}

// DirRoot is a Root backed by the operating system filesystem.
type DirRoot struct {
	dir string
}

// NewDirRoot returns a Root for dir. dir is cleaned and made absolute when possible.
func NewDirRoot(dir string) *DirRoot {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &DirRoot{dir: filepath.Clean(dir)}
}

func (r *DirRoot) Dir() string { return r.dir }

func (r *DirRoot) Translate(requestPath string) string {
	return TranslatePath(r.dir, requestPath)
}

func (r *DirRoot) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (r *DirRoot) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *DirRoot) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

// RequestPathComponent returns the path part of a raw request target,
// cutting at the first '?' or '#'. Absolute-form targets
// ("http://host/path") are reduced to their path.
func RequestPathComponent(requestPath string) string {
	p := requestPath
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if i := strings.Index(p, "://"); i >= 0 && !strings.HasPrefix(p, "/") {
		p = p[i+len("://"):]
		if j := strings.IndexByte(p, '/'); j >= 0 {
			p = p[j:]
		} else {
			p = "/"
		}
	}
	return p
}

// TranslatePath maps requestPath onto root.
func TranslatePath(root, requestPath string) string {
	p := RequestPathComponent(requestPath)
	trailingSlash := strings.HasSuffix(strings.TrimRight(p, " \t"), "/")

	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	// Cleaning a rooted path drops any ".." that would climb past "/".
	cleaned := path.Clean("/" + p)

	out := root
	for _, word := range strings.Split(cleaned, "/") {
		// Decoded segments may carry a backslash on platforms that treat it as a separator.
		if word == "" || word == "." || word == ".." || strings.ContainsRune(word, filepath.Separator) {
			continue
		}
		out = filepath.Join(out, word)
	}
	if trailingSlash && out != string(filepath.Separator) {
		out += string(filepath.Separator)
	}
	return out
}

// Exists reports whether name exists in root.
func Exists(root Root, name string) bool {
	_, err := root.Stat(name)
	return err == nil
}

// IsDir reports whether name is an existing directory in root.
func IsDir(root Root, name string) bool {
	fi, err := root.Stat(name)
	return err == nil && fi.IsDir()
}

// IsRegular reports whether name exists and is not a directory.
func IsRegular(root Root, name string) bool {
	fi, err := root.Stat(name)
	return err == nil && !fi.IsDir()
}

// Within reports whether name is root's directory or lies beneath it.
func Within(root Root, name string) bool {
	rel, err := filepath.Rel(root.Dir(), filepath.Clean(name))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
