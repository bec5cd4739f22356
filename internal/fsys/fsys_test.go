package fsys

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPathComponent(t *testing.T) {
	testCases := map[string]string{
		"/":                        "/",
		"/docs":                    "/docs",
		"/docs?x=1":                "/docs",
		"/docs#frag":               "/docs",
		"/docs#frag?notquery":      "/docs",
		"/a/b/?q=1#f":              "/a/b/",
		"http://example.test/x?y":  "/x",
		"http://example.test":      "/",
		"/path/with://inside?q=1":  "/path/with://inside",
		"/percent%20encoded?x=%20": "/percent%20encoded",
	}
	for in, want := range testCases {
		assert.Equal(t, want, RequestPathComponent(in), "input %q", in)
	}
}

func TestTranslatePath(t *testing.T) {
	root := filepath.FromSlash("/srv/www")
	testCases := []struct {
		in   string
		want string
	}{
		{"/", "/srv/www/"},
		{"/index.html", "/srv/www/index.html"},
		{"/docs/", "/srv/www/docs/"},
		{"/docs?x=1", "/srv/www/docs"},
		{"/a%20b/c.txt", "/srv/www/a b/c.txt"},
		{"/../../etc/passwd", "/srv/www/etc/passwd"},
		{"/a/../../b", "/srv/www/b"},
		{"/%2e%2e/%2e%2e/etc/passwd", "/srv/www/etc/passwd"},
		{"/./a/./b/", "/srv/www/a/b/"},
		{"//double//slash", "/srv/www/double/slash"},
		{"/bad%zzescape", "/srv/www/bad%zzescape"},
	}
	for _, tc := range testCases {
		assert.Equal(t, filepath.FromSlash(tc.want), TranslatePath(root, tc.in), "input %q", tc.in)
	}
}

func TestTranslatePath_NeverEscapesRoot(t *testing.T) {
	dir := t.TempDir()
	root := NewDirRoot(dir)
	for _, p := range []string{"/..", "/../", "/../../..", "/%2e%2e%2f%2e%2e%2f", "/x/../../../y"} {
		got := root.Translate(p)
		assert.True(t, Within(root, got), "%q translated to %q outside %q", p, got, dir)
	}
}

func TestPredicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644))
	root := NewDirRoot(dir)

	assert.True(t, Exists(root, filepath.Join(dir, "sub")))
	assert.True(t, Exists(root, filepath.Join(dir, "f.txt")))
	assert.False(t, Exists(root, filepath.Join(dir, "nope")))

	assert.True(t, IsDir(root, filepath.Join(dir, "sub")))
	assert.False(t, IsDir(root, filepath.Join(dir, "f.txt")))

	assert.True(t, IsRegular(root, filepath.Join(dir, "f.txt")))
	assert.False(t, IsRegular(root, filepath.Join(dir, "sub")))
	assert.False(t, IsRegular(root, filepath.Join(dir, "nope")))

	assert.True(t, Within(root, dir))
	assert.True(t, Within(root, filepath.Join(dir, "sub", "x")))
	assert.False(t, Within(root, filepath.Dir(dir)))
	assert.False(t, Within(root, dir+"-sibling"))
}

func TestDirRoot_Open(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello"), 0644))
	root := NewDirRoot(dir)

	f, err := root.Open(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	defer f.Close()
	fi, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 5, fi.Size())

	_, err = root.Open(filepath.Join(dir, "missing.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Zeta"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "alpha"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b file.txt"), make([]byte, 2048), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "<script>.html"), []byte("x"), 0644))
	root := NewDirRoot(dir)

	body, err := RenderListing(root, dir, "/assets/")
	require.NoError(t, err)
	page := string(body)

	assert.Contains(t, page, "<title>Directory listing for /assets/</title>")
	assert.Contains(t, page, `<a href="/">../</a>`)
	assert.Contains(t, page, `<a href="alpha/">alpha/</a>`)
	assert.Contains(t, page, `<a href="b%20file.txt">b file.txt</a>`)
	assert.Contains(t, page, "2.0 kB")
	assert.Contains(t, page, "&lt;script&gt;.html")
	assert.NotContains(t, page, "<script>")

	// Directories first, then case-insensitive names.
	order := []string{"alpha/", "Zeta/", "&lt;script&gt;.html", "A.js", "b file.txt"}
	last := -1
	for _, name := range order {
		idx := strings.Index(page, ">"+name+"</a>")
		require.GreaterOrEqual(t, idx, 0, "missing %s", name)
		assert.Greater(t, idx, last, "%s out of order", name)
		last = idx
	}
}

func TestRenderListing_RootHasNoParentLink(t *testing.T) {
	dir := t.TempDir()
	body, err := RenderListing(NewDirRoot(dir), dir, "/")
	require.NoError(t, err)
	assert.NotContains(t, string(body), "../")
}

func TestRenderListing_MissingDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := RenderListing(NewDirRoot(dir), filepath.Join(dir, "gone"), "/gone/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not read directory")
}
