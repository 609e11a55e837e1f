package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

type BodyKind int

const (
	BodyNone BodyKind = iota
	// BodyPlain is a structured value that gets serialized as JSON.
	BodyPlain
	BodyText
	BodyBinary
	BodyForm
	BodyStream
	// BodyInvalid marks a payload that could not be decoded. Err holds the
	// reason; the relay reports it instead of fetching.
	BodyInvalid
)

func (k BodyKind) String() string {
	switch k {
	case BodyNone:
		return "none"
	case BodyPlain:
		return "plain"
	case BodyText:
		return "text"
	case BodyBinary:
		return "binary"
	case BodyForm:
		return "form"
	case BodyStream:
		return "stream"
	case BodyInvalid:
		return "invalid"
	}
	return fmt.Sprintf("BodyKind(%d)", int(k))
}

// Wire keys for the non-plain payload types. A JSON object consisting of
// exactly one of these keys is decoded as that payload type.
const (
	binaryKey = "$binary"
	formKey   = "$form"
)

// Body is the request payload carried in FetchOptions. Only plain bodies are
// rewritten by the relay; every other kind is forwarded untouched.
type Body struct {
	Kind   BodyKind
	Value  any
	Text   string
	Binary []byte
	Form   url.Values
	Stream io.Reader
	Err    error
}

func PlainBody(v any) *Body { return &Body{Kind: BodyPlain, Value: v} }
func TextBody(s string) *Body { return &Body{Kind: BodyText, Text: s} }
func BinaryBody(b []byte) *Body { return &Body{Kind: BodyBinary, Binary: b} }
func FormBody(v url.Values) *Body { return &Body{Kind: BodyForm, Form: v} }
func StreamBody(r io.Reader) *Body { return &Body{Kind: BodyStream, Stream: r} }

func (b *Body) IsPlain() bool {
	return b != nil && b.Kind == BodyPlain
}

// UnmarshalJSON never fails on well-formed JSON: a payload that does not
// match its declared type decodes as BodyInvalid so the rest of the
// envelope survives.
func (b *Body) UnmarshalJSON(data []byte) error {
	if err := b.decode(data); err != nil {
		*b = Body{Kind: BodyInvalid, Err: err}
	}
	return nil
}

func (b *Body) decode(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = Body{Kind: BodyNone}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding text body: %w", err)
		}
		*b = Body{Kind: BodyText, Text: s}
		return nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("decoding body: %w", err)
		}
		if len(fields) == 1 {
			if raw, ok := fields[binaryKey]; ok {
				return b.decodeBinary(raw)
			}
			if raw, ok := fields[formKey]; ok {
				return b.decodeForm(raw)
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	*b = Body{Kind: BodyPlain, Value: v}
	return nil
}

func (b *Body) decodeBinary(raw json.RawMessage) error {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return fmt.Errorf("decoding binary body: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decoding binary body: %w", err)
	}
	*b = Body{Kind: BodyBinary, Binary: data}
	return nil
}

func (b *Body) decodeForm(raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decoding form body: %w", err)
	}

	form := url.Values{}
	for key, value := range fields {
		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			form.Add(key, single)
			continue
		}
		var multi []string
		if err := json.Unmarshal(value, &multi); err != nil {
			return fmt.Errorf("decoding form field %q: %w", key, err)
		}
		for _, v := range multi {
			form.Add(key, v)
		}
	}
	*b = Body{Kind: BodyForm, Form: form}
	return nil
}

func (b Body) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BodyNone:
		return []byte("null"), nil
	case BodyPlain:
		return json.Marshal(b.Value)
	case BodyText:
		return json.Marshal(b.Text)
	case BodyBinary:
		return json.Marshal(map[string]string{
			binaryKey: base64.StdEncoding.EncodeToString(b.Binary),
		})
	case BodyForm:
		return json.Marshal(map[string]any{formKey: map[string][]string(b.Form)})
	case BodyInvalid:
		return nil, fmt.Errorf("invalid body: %w", b.Err)
	}
	return nil, fmt.Errorf("body of kind %s cannot be encoded", b.Kind)
}
