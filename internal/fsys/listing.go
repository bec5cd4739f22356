package fsys

import (
	"fmt"
	"html"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

const listingTimeFormat = "02-Jan-2006 15:04"

type listingEntry struct {
	name string
	info fs.FileInfo
}

// RenderListing produces an HTML index page for dirPath. webPath is the
// request path of the directory and is used for the title and links.
// Directories sort first, then names case-insensitively.
func RenderListing(root Root, dirPath, webPath string) ([]byte, error) {
	dirEntries, err := root.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %s: %w", dirPath, err)
	}

	entries := make([]listingEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		entries = append(entries, listingEntry{name: de.Name(), info: info})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].info.IsDir() != entries[j].info.IsDir() {
			return entries[i].info.IsDir()
		}
		return strings.ToLower(entries[i].name) < strings.ToLower(entries[j].name)
	})

	if webPath == "" {
		webPath = "/"
	}
	if decoded, err := url.PathUnescape(webPath); err == nil {
		webPath = decoded
	}
	title := html.EscapeString("Directory listing for " + webPath)

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n</head>\n<body>\n<h1>%s</h1>\n<hr>\n<pre>\n", title, title)

	if webPath != "/" {
		parent := path.Dir(strings.TrimSuffix(webPath, "/"))
		if !strings.HasSuffix(parent, "/") {
			parent += "/"
		}
		fmt.Fprintf(&sb, "<a href=\"%s\">../</a>\n", html.EscapeString((&url.URL{Path: parent}).EscapedPath()))
	}

	for _, e := range entries {
		display := e.name
		href := (&url.URL{Path: e.name}).EscapedPath()
		if strings.Contains(e.name, ":") {
			// Keep "a:b" from being read as a scheme.
			href = "./" + href
		}
		size := humanize.Bytes(uint64(e.info.Size()))
		if e.info.IsDir() {
			display += "/"
			href += "/"
			size = "-"
		}
		pad := 50 - len(display)
		if pad < 1 {
			pad = 1
		}
		fmt.Fprintf(&sb, "<a href=\"%s\">%s</a>%*s %s %10s\n",
			html.EscapeString(href), html.EscapeString(display), pad, "",
			e.info.ModTime().Format(listingTimeFormat), size)
	}

	sb.WriteString("</pre>\n<hr>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}
