package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/whookdev/sharedrelay/internal/models"
)

const (
	defaultMethod = http.MethodGet

	contentTypeHeader = "content-type"
	jsonContentType   = "application/json"
	formContentType   = "application/x-www-form-urlencoded"

	ModeCORS       = "cors"
	RedirectFollow = "follow"
)

// FetchRequest is a normalized outgoing call. Body is nil or a non-plain
// payload; plain values have already been serialized into a text body.
type FetchRequest struct {
	URL         string
	Method      string
	Headers     map[string]string
	Body        *models.Body
	Credentials *string
	Mode        string
	Redirect    string
}

// NormalizeRequest resolves method, headers, body and credentials for a
// single envelope. The caller's header map is never modified. Credentials
// set on the options take precedence over the request-level value.
func NormalizeRequest(opts *models.FetchOptions, credentials *string, logger *slog.Logger) (*FetchRequest, error) {
	method := opts.Method
	if method == "" {
		method = defaultMethod
	}

	if opts.HeadersErr != nil {
		logger.Warn("ignoring malformed headers", "error", opts.HeadersErr)
	}
	headers := resolveHeaders(opts.Headers, logger)

	body := opts.Body
	if body != nil && body.Kind == models.BodyNone {
		body = nil
	}
	if body != nil && body.Kind == models.BodyInvalid {
		return nil, fmt.Errorf("request body: %w", body.Err)
	}
	if body.IsPlain() {
		encoded, err := json.Marshal(body.Value)
		if err != nil {
			return nil, fmt.Errorf("serializing request body: %w", err)
		}
		body = models.TextBody(string(encoded))
		if !hasHeader(headers, contentTypeHeader) {
			headers[contentTypeHeader] = jsonContentType
		}
	}

	if opts.Credentials != nil {
		credentials = opts.Credentials
	}

	return &FetchRequest{
		URL:         opts.URL,
		Method:      method,
		Headers:     headers,
		Body:        body,
		Credentials: credentials,
		Mode:        ModeCORS,
		Redirect:    RedirectFollow,
	}, nil
}

// resolveHeaders copies the caller's headers into a new map of strings.
// Values that cannot be represented as a header are logged and skipped.
func resolveHeaders(in map[string]any, logger *slog.Logger) map[string]string {
	out := make(map[string]string, len(in)+1)
	for name, value := range in {
		s, ok := headerValue(value)
		if !ok {
			logger.Warn("skipping unsupported header value",
				"header", name,
				"type", fmt.Sprintf("%T", value))
			continue
		}
		out[name] = s
	}
	return out
}

func headerValue(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := headerValue(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), true
	}
	return "", false
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// NewHTTPRequest builds the net/http request for this call.
func (r *FetchRequest) NewHTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		switch r.Body.Kind {
		case models.BodyText:
			body = strings.NewReader(r.Body.Text)
		case models.BodyBinary:
			body = bytes.NewReader(r.Body.Binary)
		case models.BodyForm:
			body = strings.NewReader(r.Body.Form.Encode())
		case models.BodyStream:
			body = r.Body.Stream
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}

	// Sorted so repeated names differing only in case resolve deterministically.
	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.Header.Set(name, r.Headers[name])
	}

	if r.Body != nil && r.Body.Kind == models.BodyForm && req.Header.Get(contentTypeHeader) == "" {
		req.Header.Set(contentTypeHeader, formContentType)
	}

	return req, nil
}
