// Package resolver decides, for one request path and one snapshot of the
// serving root, which single response the server should give.
//
// Resolution order:
//
//  1. Translate the request path into the serving root.
//  2. An existing directory is redirected to its slash-terminated form, or
//     answered with its index document, or listed.
//  3. A missing path falls back to the index document of the directory it
//     names, then to the index document one level up. Nothing found is 404.
//  4. The chosen file is opened; an open failure is a server error, never a 404.
//
// The resolver keeps no state between calls.
package resolver

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"example.com/spaserve/internal/config"
	"example.com/spaserve/internal/fsys"
	"example.com/spaserve/internal/logger"
)

// Kind tags the variant held by an Outcome.
type Kind int

const (
	KindServeFile Kind = iota + 1
	KindRedirect
	KindNotFound
	KindServerError
	KindListDirectory
)

func (k Kind) String() string {
	switch k {
	case KindServeFile:
		return "ServeFile"
	case KindRedirect:
		return "Redirect"
	case KindNotFound:
		return "NotFound"
	case KindServerError:
		return "ServerError"
	case KindListDirectory:
		return "ListDirectory"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// StatusCode is the HTTP status an outcome of this kind is answered with.
func (k Kind) StatusCode() int {
	switch k {
	case KindServeFile, KindListDirectory:
		return http.StatusOK
	case KindRedirect:
		return http.StatusMovedPermanently
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is the single decision made for a request. Which fields are set depends on Kind:
//
//	ServeFile      Path, ContentType, Size, ModTime, LastModified, File
//	Redirect       Location
//	NotFound       Message
//	ServerError    Message, Err
//	ListDirectory  Path
//
// RequestPath is always the original request target.
type Outcome struct {
	Kind        Kind
	RequestPath string

	Path         string
	ContentType  string
	Size         int64
	ModTime      time.Time
	LastModified string
	// File is open for ServeFile outcomes and owned by the caller.
	File fsys.File

	Location string

	Message string
	Err     error
}

// Close releases the file held by a ServeFile outcome. It is safe to call
// on any outcome and more than once.
func (o *Outcome) Close() error {
	if o.File == nil {
		return nil
	}
	err := o.File.Close()
	o.File = nil
	return err
}

// Options configures a Resolver.
type Options struct {
	// IndexFiles are tried in order; defaults to index.html, index.htm.
	IndexFiles []string
	// MimeTypes overrides extension to Content-Type mappings.
	MimeTypes map[string]string
}

// Resolver implements the resolution algorithm.
type Resolver struct {
	indexFiles []string
	mime       *MimeTypeResolver
	log        *logger.Logger
}

// New returns a Resolver. A nil logger discards messages.
func New(opts Options, lg *logger.Logger) *Resolver {
	indexFiles := opts.IndexFiles
	if len(indexFiles) == 0 {
		indexFiles = config.DefaultIndexFiles
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return &Resolver{
		indexFiles: append([]string(nil), indexFiles...),
		mime:       NewMimeTypeResolver(opts.MimeTypes),
		log:        lg,
	}
}

// Resolve maps requestPath (the raw request target, query and fragment
// included) to an Outcome against root. A ServeFile outcome carries an
// open file the caller must Close.
func (r *Resolver) Resolve(root fsys.Root, requestPath string) Outcome {
	_, rest := splitTarget(requestPath)
	resolved := root.Translate(requestPath)

	if fsys.IsDir(root, resolved) {
		if pathPart := redirectPath(requestPath); !strings.HasSuffix(pathPart, "/") {
			return Outcome{
				Kind:        KindRedirect,
				RequestPath: requestPath,
				Location:    pathPart + "/" + rest,
			}
		}
		if index, ok := r.findIndex(root, resolved); ok {
			return r.open(root, index, requestPath)
		}
		return Outcome{
			Kind:        KindListDirectory,
			RequestPath: requestPath,
			Path:        resolved,
		}
	}

	if !fsys.Exists(root, resolved) {
		index, ok := r.fallbackIndex(root, resolved)
		if !ok {
			return Outcome{
				Kind:        KindNotFound,
				RequestPath: requestPath,
				Message:     fmt.Sprintf("%s does not exist, and no index document available", fsys.RequestPathComponent(requestPath)),
			}
		}
		r.log.Info("Using fallback index document", logger.LogFields{
			"request_path": requestPath,
			"index":        index,
		})
		resolved = index
	}

	return r.open(root, resolved, requestPath)
}

// fallbackIndex looks for an index document in the directory resolved
// names, then one level up, never leaving the serving root.
func (r *Resolver) fallbackIndex(root fsys.Root, resolved string) (string, bool) {
	dir := impliedDir(resolved)
	if !fsys.Within(root, dir) {
		dir = root.Dir()
	}
	if index, ok := r.findIndex(root, dir); ok {
		return index, true
	}
	if filepath.Clean(dir) == root.Dir() {
		return "", false
	}
	parent := filepath.Dir(filepath.Clean(dir))
	if !fsys.Within(root, parent) {
		return "", false
	}
	return r.findIndex(root, parent)
}

func (r *Resolver) findIndex(root fsys.Root, dir string) (string, bool) {
	for _, name := range r.indexFiles {
		candidate := filepath.Join(dir, name)
		if fsys.IsRegular(root, candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) open(root fsys.Root, name, requestPath string) Outcome {
	f, err := root.Open(name)
	if err != nil {
		r.log.Error("Unable to open file", logger.LogFields{
			"request_path": requestPath,
			"path":         name,
			"error":        err.Error(),
		})
		return Outcome{
			Kind:        KindServerError,
			RequestPath: requestPath,
			Message:     "Unable to retrieve file",
			Err:         fmt.Errorf("open %s: %w", name, err),
		}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		r.log.Error("Unable to stat opened file", logger.LogFields{
			"request_path": requestPath,
			"path":         name,
			"error":        err.Error(),
		})
		return Outcome{
			Kind:        KindServerError,
			RequestPath: requestPath,
			Message:     "Unable to retrieve file",
			Err:         fmt.Errorf("stat %s: %w", name, err),
		}
	}

	modTime := fi.ModTime().UTC()
	return Outcome{
		Kind:         KindServeFile,
		RequestPath:  requestPath,
		Path:         name,
		ContentType:  r.mime.GetMimeType(name),
		Size:         fi.Size(),
		ModTime:      modTime,
		LastModified: modTime.Format(http.TimeFormat),
		File:         f,
	}
}

// splitTarget cuts a raw request target into its path component and the
// verbatim remainder starting at the first '?' or '#'.
func splitTarget(requestPath string) (pathPart, rest string) {
	if i := strings.IndexAny(requestPath, "?#"); i >= 0 {
		return requestPath[:i], requestPath[i:]
	}
	return requestPath, ""
}

// redirectPath is the path component of requestPath with any leading run of
// slashes or backslashes collapsed to one slash, so Location never names a host.
func redirectPath(requestPath string) string {
	return "/" + strings.TrimLeft(fsys.RequestPathComponent(requestPath), `/\`)
}

// impliedDir is resolved itself when it names a directory (trailing
// separator), otherwise its parent.
func impliedDir(resolved string) string {
	sep := string(filepath.Separator)
	if strings.HasSuffix(resolved, sep) {
		trimmed := strings.TrimRight(resolved, sep)
		if trimmed == "" {
			return sep
		}
		return trimmed
	}
	return filepath.Dir(resolved)
}
