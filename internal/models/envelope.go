package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	TypeInterceptResponse = "interceptResponse"

	// MarkerHeader is added to every relayed response so callers can tell
	// relayed responses apart from direct ones.
	MarkerHeader = "x-relay-intercepted"
	MarkerValue  = "true"
)

// RequestEnvelope is the message a port sends to the relay.
type RequestEnvelope struct {
	ID      *string  `json:"id,omitempty"`
	Request *Request `json:"request,omitempty"`
}

type Request struct {
	Context     *RequestContext `json:"context,omitempty"`
	Credentials *string         `json:"credentials,omitempty"`
}

type RequestContext struct {
	Options *FetchOptions `json:"options,omitempty"`
}

// FetchOptions describes the outgoing HTTP call. Header names are matched
// case-insensitively; values are usually strings but numbers and booleans
// are tolerated.
type FetchOptions struct {
	URL         string         `json:"url,omitempty"`
	Method      string         `json:"method,omitempty"`
	Headers     map[string]any `json:"headers,omitempty"`
	Body        *Body          `json:"body,omitempty"`
	Credentials *string        `json:"credentials,omitempty"`

	// HeadersErr is set when the wire headers were not an object of
	// name/value pairs. Headers is then left empty.
	HeadersErr error `json:"-"`
}

// UnmarshalJSON decodes headers leniently: a malformed headers value is
// recorded on HeadersErr rather than failing the envelope. Numeric header
// values are kept as json.Number so large integers survive intact.
func (o *FetchOptions) UnmarshalJSON(data []byte) error {
	type plain FetchOptions
	var wire struct {
		*plain
		Headers json.RawMessage `json:"headers,omitempty"`
	}
	wire.plain = (*plain)(o)
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	o.Headers = nil
	o.HeadersErr = nil
	if len(wire.Headers) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(wire.Headers))
	dec.UseNumber()
	var headers map[string]any
	if err := dec.Decode(&headers); err != nil {
		o.HeadersErr = fmt.Errorf("decoding headers: %w", err)
		return nil
	}
	o.Headers = headers
	return nil
}

// Options returns the nested fetch options, or nil when any level is missing.
func (e *RequestEnvelope) Options() *FetchOptions {
	if e == nil || e.Request == nil || e.Request.Context == nil {
		return nil
	}
	return e.Request.Context.Options
}

// ResponseEnvelope is the message the relay posts back on the port the
// request arrived on. Response is always serialized, as null on failure.
type ResponseEnvelope struct {
	Type     string    `json:"type"`
	ID       *string   `json:"id,omitempty"`
	Response *Response `json:"response"`
	Error    *string   `json:"error,omitempty"`
}

type Response struct {
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage"`
}

func NewSuccess(id *string, resp *Response) *ResponseEnvelope {
	return &ResponseEnvelope{
		Type:     TypeInterceptResponse,
		ID:       id,
		Response: resp,
	}
}

func NewFailure(id *string, msg string) *ResponseEnvelope {
	return &ResponseEnvelope{
		Type:  TypeInterceptResponse,
		ID:    id,
		Error: &msg,
	}
}

// Failed reports whether the envelope carries an error.
func (e *ResponseEnvelope) Failed() bool {
	return e.Error != nil
}
