package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	VersionProbing = "1.0"
	VersionDevices = "2.0"

	// EventDevicesSeen is the only v2 event type whose observations are stored.
	EventDevicesSeen = "DevicesSeen"
)

var (
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrSecretMismatch     = errors.New("secret mismatch")
	ErrUnsupportedVersion = errors.New("unsupported version")
)

// Envelope holds the top-level fields of a post. Keys are matched exactly;
// values stay raw until the declared version says how to read them.
type Envelope struct {
	Secret  json.RawMessage
	Version json.RawMessage
	Type    json.RawMessage
	Probing json.RawMessage
	Data    json.RawMessage
}

// DecodeEnvelope parses raw as a JSON object. Anything else, including
// null, is a malformed payload.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: null document", ErrMalformedPayload)
	}
	return Envelope{
		Secret:  fields["secret"],
		Version: fields["version"],
		Type:    fields["type"],
		Probing: fields["probing"],
		Data:    fields["data"],
	}, nil
}

// OfferedSecret returns the secret as a string; ok is false when it is
// missing or not a JSON string.
func (e Envelope) OfferedSecret() (string, bool) {
	return jsonString(e.Secret)
}

// Classify picks the payload variant for the declared version. Only the JSON
// strings "1.0" and "2.0" are recognized.
func (e Envelope) Classify() Payload {
	if v, ok := jsonString(e.Version); ok {
		switch v {
		case VersionProbing:
			return ProbingPayload{Probing: e.Probing}
		case VersionDevices:
			typ, _ := jsonString(e.Type)
			return DevicesPayload{Type: typ, Data: e.Data}
		}
	}
	return unknownVersion(e.Version)
}

// Payload is one of ProbingPayload, DevicesPayload or UnknownVersion.
type Payload interface {
	// Version is the declared protocol version.
	Version() string
	// Content is the data section as JSON text.
	Content() string
}

// ProbingPayload is a version 1.0 post; its data lives under "probing".
type ProbingPayload struct {
	Probing json.RawMessage
}

func (ProbingPayload) Version() string   { return VersionProbing }
func (p ProbingPayload) Content() string { return string(p.Probing) }

// DevicesPayload is a version 2.0 post; its data lives under "data".
type DevicesPayload struct {
	Type string
	Data json.RawMessage
}

func (DevicesPayload) Version() string   { return VersionDevices }
func (p DevicesPayload) Content() string { return string(p.Data) }

// DevicesSeen reports whether the post carries device observations.
func (p DevicesPayload) DevicesSeen() bool {
	return p.Type == EventDevicesSeen
}

// UnknownVersion is any post whose version is not recognized. Raw is the
// supplied value: the string itself for JSON strings, the JSON text
// otherwise. Present is false when the field was missing or null.
type UnknownVersion struct {
	Raw     string
	Present bool
}

func (u UnknownVersion) Version() string { return u.Raw }
func (UnknownVersion) Content() string   { return "" }

func unknownVersion(raw json.RawMessage) UnknownVersion {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return UnknownVersion{}
	}
	if s, ok := jsonString(trimmed); ok {
		return UnknownVersion{Raw: s, Present: true}
	}
	return UnknownVersion{Raw: string(trimmed), Present: true}
}

func jsonString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// DevicesSeenData is the "data" section of a v2 DevicesSeen post.
type DevicesSeenData struct {
	APFloors     json.RawMessage   `json:"apFloors"`
	Observations []json.RawMessage `json:"observations"`
}

// DecodeDevicesSeen reads the observation list out of a v2 data section.
func DecodeDevicesSeen(data json.RawMessage) (DevicesSeenData, error) {
	var d DevicesSeenData
	if len(bytes.TrimSpace(data)) == 0 {
		return d, fmt.Errorf("%w: missing data section", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("%w: data section: %v", ErrMalformedPayload, err)
	}
	return d, nil
}
