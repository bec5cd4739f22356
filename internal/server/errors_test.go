package server_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	isserver "example.com/spaserve/internal/server"
)

func TestPrefersJSON(t *testing.T) {
	tests := []struct {
		name         string
		acceptHeader string
		expected     bool
	}{
		{"Empty Accept", "", false},
		{"Exact JSON", "application/json", true},
		{"JSON first, with HTML", "application/json, text/html", true},
		{"HTML first, JSON second, equal q", "text/html, application/json", false},
		{"HTML lower q than JSON", "text/html;q=0.5, application/json", true},
		{"JSON lower q than HTML", "application/json;q=0.5, text/html", false},
		{"JSON preferred over wildcard", "*/*, application/json", true},
		{"Wildcard only", "*/*", false},
		{"application/* only", "application/*", false},
		{"JSON q=0", "application/json;q=0", false},
		{"HTML, JSON q=0", "text/html, application/json;q=0", false},
		{"Malformed q", "application/json;q=foo", false},
		{"q above 1 rejected", "application/json;q=2", false},
		{"Params before q", "application/json;charset=utf-8;q=0.9, text/html;q=0.8", true},
		{"Case-insensitive media type", "Application/JSON", true},
		{"Browser default", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", false},
		{"fetch() default with JSON", "application/json, text/plain, */*", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isserver.PrefersJSON(tt.acceptHeader); got != tt.expected {
				t.Errorf("PrefersJSON(%q) = %v, want %v", tt.acceptHeader, got, tt.expected)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	originalJSONMarshal := isserver.TestingOnlySetJSONMarshal(json.Marshal)
	defer isserver.TestingOnlySetJSONMarshal(originalJSONMarshal)

	tests := []struct {
		name                 string
		method               string
		acceptHeader         string
		statusCode           int
		detailMessage        string
		mockJsonMarshalError bool
		expectedContentType  string
		bodyChecker          func(t *testing.T, body []byte, statusCode int, detail string)
	}{
		{
			name:                "JSON response for 404",
			acceptHeader:        "application/json",
			statusCode:          http.StatusNotFound,
			detailMessage:       "/missing/x does not exist, and no index document available",
			expectedContentType: "application/json; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				var resp isserver.ErrorResponseJSON
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("Failed to unmarshal JSON body: %v. Body: %s", err, string(body))
				}
				if resp.Error.StatusCode != statusCode {
					t.Errorf("Expected status code %d in JSON, got %d", statusCode, resp.Error.StatusCode)
				}
				if resp.Error.Message != http.StatusText(statusCode) {
					t.Errorf("Expected message %q in JSON, got %q", http.StatusText(statusCode), resp.Error.Message)
				}
				if resp.Error.Detail != detail {
					t.Errorf("Expected detail %q in JSON, got %q", detail, resp.Error.Detail)
				}
			},
		},
		{
			name:                "HTML response for 500",
			acceptHeader:        "text/html",
			statusCode:          http.StatusInternalServerError,
			detailMessage:       "Unable to retrieve file",
			expectedContentType: "text/html; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				bodyStr := string(body)
				info, _ := isserver.GetDefaultHTMLMessageInfo(statusCode)
				if !strings.Contains(bodyStr, "<title>"+html.EscapeString(info.Title)+"</title>") {
					t.Errorf("HTML body does not contain title %q. Body: %s", info.Title, bodyStr)
				}
				if !strings.Contains(bodyStr, info.Message+" "+detail) {
					t.Errorf("HTML body does not contain message and detail. Body: %s", bodyStr)
				}
			},
		},
		{
			name:                "HTML detail is escaped",
			statusCode:          http.StatusNotFound,
			detailMessage:       "/<script>alert(1)</script> does not exist",
			expectedContentType: "text/html; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				bodyStr := string(body)
				if strings.Contains(bodyStr, "<script>") {
					t.Errorf("HTML body contains unescaped detail: %s", bodyStr)
				}
				if !strings.Contains(bodyStr, html.EscapeString(detail)) {
					t.Errorf("HTML body does not contain escaped detail. Body: %s", bodyStr)
				}
			},
		},
		{
			name:                "HTML response for unknown status 599",
			statusCode:          599,
			detailMessage:       "Very weird error",
			expectedContentType: "text/html; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				bodyStr := string(body)
				if !strings.Contains(bodyStr, "<title>599 Error</title>") {
					t.Errorf("HTML body does not contain fallback title. Body: %s", bodyStr)
				}
				if !strings.Contains(bodyStr, fmt.Sprintf("<p>%s</p>", detail)) {
					t.Errorf("HTML body does not use detail as message. Body: %s", bodyStr)
				}
			},
		},
		{
			name:                 "JSON marshal error falls back to HTML",
			acceptHeader:         "application/json",
			statusCode:           http.StatusForbidden,
			detailMessage:        "nope",
			mockJsonMarshalError: true,
			expectedContentType:  "text/html; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				if !strings.Contains(string(body), "403 Forbidden") {
					t.Errorf("Fallback HTML body missing title. Body: %s", string(body))
				}
			},
		},
		{
			name:                "JSON response omits empty detail",
			acceptHeader:        "application/json, */*;q=0.8",
			statusCode:          http.StatusBadRequest,
			expectedContentType: "application/json; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				if strings.Contains(string(body), `"detail"`) {
					t.Errorf("Expected detail to be omitted. Body: %s", string(body))
				}
			},
		},
		{
			name:                "HEAD gets headers only",
			method:              http.MethodHead,
			statusCode:          http.StatusNotFound,
			detailMessage:       "gone",
			expectedContentType: "text/html; charset=utf-8",
			bodyChecker: func(t *testing.T, body []byte, statusCode int, detail string) {
				if len(body) != 0 {
					t.Errorf("Expected empty body for HEAD, got %q", string(body))
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.mockJsonMarshalError {
				prev := isserver.TestingOnlySetJSONMarshal(func(v interface{}) ([]byte, error) {
					return nil, errors.New("mock marshal failure")
				})
				defer isserver.TestingOnlySetJSONMarshal(prev)
			}

			method := tc.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, "/x", nil)
			if tc.acceptHeader != "" {
				req.Header.Set("Accept", tc.acceptHeader)
			}
			rec := httptest.NewRecorder()

			if err := isserver.WriteErrorResponse(rec, req, tc.statusCode, tc.detailMessage, nil); err != nil {
				t.Fatalf("WriteErrorResponse returned error: %v", err)
			}

			if rec.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != tc.expectedContentType {
				t.Errorf("Expected Content-Type %q, got %q", tc.expectedContentType, ct)
			}
			if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
				t.Errorf("Unexpected Cache-Control %q", cc)
			}
			if rec.Header().Get("Content-Length") == "" {
				t.Error("Expected Content-Length to be set")
			}
			tc.bodyChecker(t, rec.Body.Bytes(), tc.statusCode, tc.detailMessage)
		})
	}
}

type failingWriter struct {
	header http.Header
	status int
}

func (f *failingWriter) Header() http.Header       { return f.header }
func (f *failingWriter) WriteHeader(status int)    { f.status = status }
func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteErrorResponse_WriteFailure(t *testing.T) {
	w := &failingWriter{header: make(http.Header)}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	err := isserver.WriteErrorResponse(w, req, http.StatusNotFound, "", nil)
	if err == nil {
		t.Fatal("Expected an error from a failing writer")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Error %q does not mention the status", err)
	}
	if w.status != http.StatusNotFound {
		t.Errorf("Expected status 404 to be written, got %d", w.status)
	}
}

func TestGenerateHTMLResponseBody(t *testing.T) {
	body := string(isserver.GenerateHTMLResponseBody("a<b", "h&h", "<em>ok</em>"))
	want := `<html><head><title>a&lt;b</title></head><body><h1>h&amp;h</h1><p><em>ok</em></p></body></html>`
	if body != want {
		t.Errorf("GenerateHTMLResponseBody() = %q, want %q", body, want)
	}
}
