package resolver

import (
	"mime"
	"path/filepath"
	"strings"
)

const defaultOctetStreamMimeType = "application/octet-stream"

// defaultMimeTypes covers what a front-end build emits. The platform's
// mime tables vary between hosts (and may be missing entirely in
// containers), so these take precedence over mime.TypeByExtension.
var defaultMimeTypes = map[string]string{
	".avif":        "image/avif",
	".css":         "text/css; charset=utf-8",
	".csv":         "text/csv; charset=utf-8",
	".gif":         "image/gif",
	".htm":         "text/html; charset=utf-8",
	".html":        "text/html; charset=utf-8",
	".ico":         "image/vnd.microsoft.icon",
	".jpeg":        "image/jpeg",
	".jpg":         "image/jpeg",
	".js":          "text/javascript; charset=utf-8",
	".json":        "application/json; charset=utf-8",
	".jsonld":      "application/ld+json; charset=utf-8",
	".map":         "application/json; charset=utf-8",
	".md":          "text/markdown; charset=utf-8",
	".mjs":         "text/javascript; charset=utf-8",
	".mp3":         "audio/mpeg",
	".mp4":         "video/mp4",
	".otf":         "font/otf",
	".pdf":         "application/pdf",
	".png":         "image/png",
	".svg":         "image/svg+xml",
	".ts":          "video/mp2t",
	".ttf":         "font/ttf",
	".txt":         "text/plain; charset=utf-8",
	".wasm":        "application/wasm",
	".webm":        "video/webm",
	".webmanifest": "application/manifest+json",
	".webp":        "image/webp",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".xml":         "application/xml; charset=utf-8",
	".zip":         "application/zip",
}

// MimeTypeResolver guesses a Content-Type from a file name.
type MimeTypeResolver struct {
	customMimeTypes map[string]string
}

// NewMimeTypeResolver returns a resolver whose custom mappings override the built-in ones.
// Keys are extensions with a leading dot; matching is case-insensitive.
func NewMimeTypeResolver(custom map[string]string) *MimeTypeResolver {
	r := &MimeTypeResolver{customMimeTypes: make(map[string]string, len(custom))}
	for ext, mimeType := range custom {
		r.customMimeTypes[strings.ToLower(ext)] = mimeType
	}
	return r
}

// GetMimeType returns the MIME type for filePath's extension.
func (r *MimeTypeResolver) GetMimeType(filePath string) string {
	var custom map[string]string
	if r != nil {
		custom = r.customMimeTypes
	}
	return ResolveMimeType(filepath.Ext(filePath), custom)
}

// ResolveMimeType determines the MIME type for extension (".html").
// Order: custom mappings, built-in defaults, mime.TypeByExtension,
// then application/octet-stream.
func ResolveMimeType(extension string, customUserMappings map[string]string) string {
	if extension == "" {
		return defaultOctetStreamMimeType
	}
	ext := strings.ToLower(extension)

	if mimeType, ok := customUserMappings[ext]; ok {
		return mimeType
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return defaultOctetStreamMimeType
}
