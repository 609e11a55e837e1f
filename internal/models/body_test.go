package models

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/go-playground/assert/v2"
)

func decodeOptions(t *testing.T, raw string) *FetchOptions {
	t.Helper()
	var env RequestEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env.Options()
}

func TestBodyDecodeKinds(t *testing.T) {
	opts := decodeOptions(t, `{"request":{"context":{"options":{"url":"u","body":{"a":1}}}}}`)
	assert.Equal(t, BodyPlain, opts.Body.Kind)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, opts.Body.Value)

	opts = decodeOptions(t, `{"request":{"context":{"options":{"url":"u","body":[1,2]}}}}`)
	assert.Equal(t, BodyPlain, opts.Body.Kind)

	opts = decodeOptions(t, `{"request":{"context":{"options":{"url":"u","body":"raw text"}}}}`)
	assert.Equal(t, BodyText, opts.Body.Kind)
	assert.Equal(t, "raw text", opts.Body.Text)

	opts = decodeOptions(t, `{"request":{"context":{"options":{"url":"u","body":{"$binary":"AAEC"}}}}}`)
	assert.Equal(t, BodyBinary, opts.Body.Kind)
	assert.Equal(t, []byte{0, 1, 2}, opts.Body.Binary)

	opts = decodeOptions(t, `{"request":{"context":{"options":{"url":"u","body":{"$form":{"a":"1","b":["2","3"]}}}}}}`)
	assert.Equal(t, BodyForm, opts.Body.Kind)
	assert.Equal(t, url.Values{"a": {"1"}, "b": {"2", "3"}}, opts.Body.Form)

	opts = decodeOptions(t, `{"request":{"context":{"options":{"url":"u"}}}}`)
	assert.Equal(t, true, opts.Body == nil)
}

func TestBodyReservedKeyWithSiblingsIsPlain(t *testing.T) {
	opts := decodeOptions(t, `{"request":{"context":{"options":{"url":"u","body":{"$binary":"AAEC","other":true}}}}}`)
	assert.Equal(t, BodyPlain, opts.Body.Kind)
}

func TestBodyBadPayloadDecodesAsInvalid(t *testing.T) {
	for _, raw := range []string{`{"$binary":"%%%"}`, `{"$binary":7}`, `{"$form":{"k":{"nested":1}}}`, `{"$form":"x"}`} {
		var b Body
		err := json.Unmarshal([]byte(raw), &b)
		assert.Equal(t, nil, err)
		assert.Equal(t, BodyInvalid, b.Kind)
		assert.NotEqual(t, nil, b.Err)

		_, err = json.Marshal(b)
		assert.NotEqual(t, nil, err)
	}
}

func TestEnvelopeSurvivesInvalidBody(t *testing.T) {
	var env RequestEnvelope
	err := json.Unmarshal([]byte(`{"id":"7","request":{"context":{"options":{"url":"u","body":{"$binary":"!!notbase64"}}}}}`), &env)
	assert.Equal(t, nil, err)
	assert.Equal(t, "7", *env.ID)
	assert.Equal(t, "u", env.Options().URL)
	assert.Equal(t, BodyInvalid, env.Options().Body.Kind)
}

func TestFetchOptionsMalformedHeaders(t *testing.T) {
	for _, headers := range []string{`"bogus"`, `["a","b"]`, `42`} {
		opts := decodeOptions(t, `{"request":{"context":{"options":{"url":"u","method":"PUT","headers":`+headers+`}}}}`)
		assert.Equal(t, "u", opts.URL)
		assert.Equal(t, "PUT", opts.Method)
		assert.Equal(t, 0, len(opts.Headers))
		assert.NotEqual(t, nil, opts.HeadersErr)
	}
}

func TestFetchOptionsHeadersKeepNumbers(t *testing.T) {
	opts := decodeOptions(t, `{"request":{"context":{"options":{"url":"u","headers":{"X-Big":12345678901234567890,"X-Name":"a"}}}}}`)
	assert.Equal(t, nil, opts.HeadersErr)
	assert.Equal(t, map[string]any{"X-Big": json.Number("12345678901234567890"), "X-Name": "a"}, opts.Headers)

	opts = decodeOptions(t, `{"request":{"context":{"options":{"url":"u","headers":null}}}}`)
	assert.Equal(t, nil, opts.HeadersErr)
	assert.Equal(t, 0, len(opts.Headers))
}

func TestBodyEncodeRoundTripsWireShape(t *testing.T) {
	out, err := json.Marshal(FormBody(url.Values{"k": {"v"}}))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"$form":{"k":["v"]}}`, string(out))

	out, err = json.Marshal(BinaryBody([]byte{0, 1, 2}))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"$binary":"AAEC"}`, string(out))

	_, err = json.Marshal(StreamBody(nil))
	assert.NotEqual(t, nil, err)
}

func TestEnvelopeOptionsMissingLevels(t *testing.T) {
	var env *RequestEnvelope
	assert.Equal(t, true, env.Options() == nil)
	assert.Equal(t, true, (&RequestEnvelope{}).Options() == nil)
	assert.Equal(t, true, (&RequestEnvelope{Request: &Request{}}).Options() == nil)
}

func TestResponseEnvelopeEncoding(t *testing.T) {
	id := "abc"
	out, err := json.Marshal(NewFailure(&id, "network down"))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"type":"interceptResponse","id":"abc","response":null,"error":"network down"}`, string(out))

	out, err = json.Marshal(NewFailure(nil, "boom"))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"type":"interceptResponse","response":null,"error":"boom"}`, string(out))
}
