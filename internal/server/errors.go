package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/spaserve/internal/logger"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

// defaultHTMLMessages maps HTTP status codes to their default HTML messages.
var defaultHTMLMessages = map[int]struct {
	Title   string
	Heading string
	Message string
}{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusForbidden: {
		Title:   "403 Forbidden",
		Heading: "Forbidden",
		Message: "You do not have permission to access this resource.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The method specified in the Request-Line is not allowed for the resource identified by the Request-URI.",
	},
	http.StatusBadRequest: {
		Title:   "400 Bad Request",
		Heading: "Bad Request",
		Message: "The server cannot or will not process the request due to an apparent client error.",
	},
}

// PrefersJSON checks if the client prefers application/json based on the Accept header.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool // false for application/* and */*
		order     int
	}
	var offers []offer

	for i, partStr := range strings.Split(acceptHeaderValue, ",") {
		partStr = strings.TrimSpace(partStr)
		mediaType := partStr
		qValue := 1.0

		if idx := strings.Index(partStr, ";"); idx != -1 {
			mediaType = strings.TrimSpace(partStr[:idx])
			for _, param := range strings.Split(partStr[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				if q, err := strconv.ParseFloat(param[2:], 64); err == nil && q >= 0 && q <= 1 {
					qValue = q
				} else {
					qValue = 0
				}
				break
			}
		}

		// RFC 7231 5.3.2: q=0 means "not acceptable".
		if qValue > 0 {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         qValue,
				specific:  !strings.HasSuffix(mediaType, "/*") && mediaType != "*/*",
				order:     i,
			})
		}
	}

	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})

	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends a short diagnostic response for statusCode.
// The body is JSON when the request's Accept header prefers it and HTML
// otherwise. HEAD requests get the headers only.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, detailMessage string, log *logger.Logger) error {
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	acceptHeaderValue := ""
	if r != nil {
		acceptHeaderValue = r.Header.Get("Accept")
	}

	var body []byte
	var contentType string
	jsonMarshalFailed := false

	shouldSendJSON := PrefersJSON(acceptHeaderValue)
	if shouldSendJSON {
		contentType = "application/json; charset=utf-8"
		var marshalErr error
		body, marshalErr = jsonMarshalFunc(ErrorResponseJSON{
			Error: ErrorDetail{
				StatusCode: statusCode,
				Message:    statusText,
				Detail:     detailMessage,
			},
		})
		if marshalErr != nil {
			if log != nil {
				log.Error("Failed to marshal JSON error response, falling back to HTML.", logger.LogFields{"error": marshalErr.Error(), "status_code": statusCode})
			}
			jsonMarshalFailed = true
		}
	}

	if !shouldSendJSON || jsonMarshalFailed {
		contentType = "text/html; charset=utf-8"
		var finalTitle, finalHeading, baseMessage string
		defaultMsgData, isKnownCode := defaultHTMLMessages[statusCode]
		if isKnownCode {
			finalTitle = defaultMsgData.Title
			finalHeading = defaultMsgData.Heading
			baseMessage = defaultMsgData.Message
		} else {
			finalTitle = fmt.Sprintf("%d %s", statusCode, statusText)
			finalHeading = statusText
			baseMessage = "The server encountered an error processing your request."
		}

		htmlSafeMessageBody := baseMessage
		if detailMessage != "" {
			escapedDetail := html.EscapeString(detailMessage)
			if isKnownCode {
				htmlSafeMessageBody = baseMessage + " " + escapedDetail
			} else {
				htmlSafeMessageBody = escapedDetail
			}
		}
		body = GenerateHTMLResponseBody(finalTitle, finalHeading, htmlSafeMessageBody)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(statusCode)

	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		if log != nil {
			log.Debug("Failed to send error response body.", logger.LogFields{"error": err.Error(), "status_code": statusCode})
		}
		return fmt.Errorf("failed to send error response body (status %d): %w", statusCode, err)
	}
	return nil
}

// GenerateHTMLResponseBody creates a simple HTML error page. message is
// inserted as-is and must already be escaped.
func GenerateHTMLResponseBody(title, heading, message string) []byte {
	titleEsc := html.EscapeString(title)
	headingEsc := html.EscapeString(heading)
	body := fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`, titleEsc, headingEsc, message)
	return []byte(body)
}

// TestingOnlySetJSONMarshal is used by tests to mock json.Marshal behavior.
func TestingOnlySetJSONMarshal(fn func(v interface{}) ([]byte, error)) func(v interface{}) ([]byte, error) {
	original := jsonMarshalFunc
	jsonMarshalFunc = fn
	return original
}

// GetDefaultHTMLMessageInfo is used by tests to access default HTML message components.
func GetDefaultHTMLMessageInfo(statusCode int) (info struct {
	Title   string
	Heading string
	Message string
}, found bool) {
	info, found = defaultHTMLMessages[statusCode]
	return
}
