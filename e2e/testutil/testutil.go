// Package testutil runs the full server stack in-process on a real
// socket and drives it with plain HTTP/1.1 clients.
package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"example.com/spaserve/internal/config"
	"example.com/spaserve/internal/handlers/staticfileserver"
	"example.com/spaserve/internal/logger"
	"example.com/spaserve/internal/router"
	"example.com/spaserve/internal/server"
	"example.com/spaserve/internal/workdir"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // sent verbatim as the request target, query included
	Headers http.Header
}

// HeaderMatcher maps header names to exact expected values.
type HeaderMatcher map[string]string

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // Returns match status and a description of mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

// Match implements BodyMatcher for ExactBodyMatcher.
func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

// Match implements BodyMatcher for StringContainsBodyMatcher.
func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of an HTTP request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      HeaderMatcher
	BodyMatcher  BodyMatcher
	ExpectNoBody bool // body must be empty; BodyMatcher is ignored
}

// ActualResponse stores the actual outcome of an HTTP request.
type ActualResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Check compares a response with an expectation and returns every mismatch.
func (e ExpectedResponse) Check(actual ActualResponse) []string {
	var problems []string
	if e.StatusCode != 0 && actual.StatusCode != e.StatusCode {
		problems = append(problems, fmt.Sprintf("status: expected %d, got %d", e.StatusCode, actual.StatusCode))
	}
	for name, want := range e.Headers {
		if got := actual.Headers.Get(name); got != want {
			problems = append(problems, fmt.Sprintf("header %s: expected %q, got %q", name, want, got))
		}
	}
	if e.ExpectNoBody {
		if len(actual.Body) != 0 {
			problems = append(problems, fmt.Sprintf("expected no body, got %d bytes", len(actual.Body)))
		}
	} else if e.BodyMatcher != nil {
		if ok, msg := e.BodyMatcher.Match(actual.Body); !ok {
			problems = append(problems, msg)
		}
	}
	return problems
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ServerInstance is a server running in this process.
type ServerInstance struct {
	Config  *config.Config
	Address string // host:port the server listens on

	logs   *syncBuffer
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
	err    error
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WriteTempConfig writes configData to a temporary JSON, TOML or YAML file
// and returns its path and a cleanup function.
func WriteTempConfig(configData interface{}, format string) (filePath string, cleanupFunc func(), err error) {
	var data []byte
	var ext string

	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
		ext = ".json"
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
		ext = ".toml"
	case "yaml", "yml":
		data, err = yaml.Marshal(configData)
		ext = ".yaml"
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	dir, err := os.MkdirTemp("", "testconfig-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp config dir: %w", err)
	}
	filePath = filepath.Join(dir, "config"+ext)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("failed to write temp config file: %w", err)
	}
	return filePath, func() { os.RemoveAll(dir) }, nil
}

// StartServer builds the same handler chain as the server binary from cfg
// and serves it on 127.0.0.1. An unset port picks a free one. Handler
// options (for example a fixed root) are passed through.
func StartServer(cfg *config.Config, opts ...staticfileserver.Option) (*ServerInstance, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Server == nil {
		cfg.Server = &config.ServerConfig{}
	}
	if cfg.Server.Port == nil {
		port := 0
		cfg.Server.Port = &port
	}
	config.ApplyDefaults(cfg)
	host := "127.0.0.1"
	cfg.Server.Host = &host
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs := &syncBuffer{}
	lg := logger.NewTestLogger(logs)

	handler, err := staticfileserver.New(cfg, lg, workdir.New(lg), opts...)
	if err != nil {
		return nil, err
	}
	srv, err := server.NewServer(cfg, lg, router.New(handler, lg))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := srv.Listen(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	inst := &ServerInstance{
		Config:  cfg,
		Address: ln.Addr().String(),
		logs:    logs,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { inst.done <- srv.Serve(ctx, ln) }()
	return inst, nil
}

// URL returns an absolute URL for path on this server.
func (s *ServerInstance) URL(path string) string {
	return "http://" + s.Address + path
}

// SafeGetLogs returns everything the server has logged so far.
func (s *ServerInstance) SafeGetLogs() string {
	return s.logs.String()
}

// Stop shuts the server down gracefully and waits for it. It is safe to call more than once.
func (s *ServerInstance) Stop() error {
	s.once.Do(func() {
		s.cancel()
		select {
		case s.err = <-s.done:
		case <-time.After(10 * time.Second):
			s.err = fmt.Errorf("server at %s did not stop", s.Address)
		}
	})
	return s.err
}

// HTTPTestClient executes test requests against a server.
type HTTPTestClient interface {
	Do(serverAddr string, request TestRequest) (ActualResponse, error)
}

// GoNetHTTPClient uses net/http and never follows redirects.
type GoNetHTTPClient struct {
	client *http.Client
}

// NewGoNetHTTPClient returns a client with keep-alives disabled.
func NewGoNetHTTPClient() *GoNetHTTPClient {
	return &GoNetHTTPClient{client: &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Do implements HTTPTestClient.
func (c *GoNetHTTPClient) Do(serverAddr string, request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, "http://"+serverAddr+request.Path, nil)
	if err != nil {
		return ActualResponse{}, err
	}
	for k, vv := range request.Headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, err
	}
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// RawHTTPClient writes the request line byte for byte, so targets that
// net/url would normalise (dot segments, odd escapes) reach the server unchanged.
type RawHTTPClient struct{}

// Do implements HTTPTestClient.
func (RawHTTPClient) Do(serverAddr string, request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	conn, err := net.DialTimeout("tcp", serverAddr, 5*time.Second)
	if err != nil {
		return ActualResponse{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n", method, request.Path, serverAddr)
	for k, vv := range request.Headers {
		for _, v := range vv {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	if _, err := io.WriteString(conn, b.String()); err != nil {
		return ActualResponse{}, err
	}

	req, _ := http.NewRequest(method, "/", nil)
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, err
	}
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}
