package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/whookdev/sharedrelay/internal/models"
)

// NormalizeResponse converts the upstream response into the envelope
// payload and closes its body. A body that cannot be read is reported as
// nil; the response itself still counts as a success.
func NormalizeResponse(req *FetchRequest, resp *http.Response, logger *slog.Logger) *models.Response {
	headers := flattenHeaders(resp.Header)
	headers[models.MarkerHeader] = models.MarkerValue

	return &models.Response{
		URL:           req.URL,
		Method:        req.Method,
		Headers:       headers,
		Body:          readBody(resp, logger),
		StatusCode:    resp.StatusCode,
		StatusMessage: statusMessage(resp),
	}
}

func readBody(resp *http.Response, logger *slog.Logger) any {
	if resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("failed to read response body", "error", err)
		return nil
	}

	if isJSON(resp.Header.Get(contentTypeHeader)) {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			return parsed
		}
		logger.Debug("response declared json but did not parse, using text")
	}

	return string(data)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mediaType == jsonContentType || strings.HasSuffix(mediaType, "+json")
}

// flattenHeaders lowercases names and joins repeated values, matching how
// the fetch Headers object enumerates them.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h)+1)
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

func statusMessage(resp *http.Response) string {
	if msg, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)); ok {
		if msg = strings.TrimSpace(msg); msg != "" {
			return msg
		}
	}
	return http.StatusText(resp.StatusCode)
}
