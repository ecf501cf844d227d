package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrNoLocation marks an entry without a location object. Such entries
	// are not stored.
	ErrNoLocation = errors.New("observation has no location")
	ErrNoMac      = errors.New("observation has no clientMac")
)

// Observation is one located device entry of a DevicesSeen post.
type Observation struct {
	ClientMac    string
	Lat          float64
	Lng          float64
	Unc          float64
	SeenTime     string
	SeenEpoch    int64
	Manufacturer string
	OS           string
	SSID         string
}

// DecodeObservation reads one DevicesSeen entry. Only clientMac and the
// presence of a location object decide whether the entry is usable. Numeric
// fields of the wrong type fall back to zero and are named in coerced;
// descriptive fields that are not strings keep their JSON text.
func DecodeObservation(raw json.RawMessage) (o Observation, coerced []string, err error) {
	fields, ok := jsonObject(raw)
	if !ok {
		return o, nil, fmt.Errorf("%w: observation is not an object", ErrMalformedPayload)
	}

	loc, ok := jsonObject(fields["location"])
	if !ok {
		return o, nil, ErrNoLocation
	}
	mac, ok := jsonString(fields["clientMac"])
	if !ok || mac == "" {
		return o, nil, ErrNoMac
	}
	o.ClientMac = mac

	floats := []struct {
		name string
		raw  json.RawMessage
		dst  *float64
	}{
		{"location.lat", loc["lat"], &o.Lat},
		{"location.lng", loc["lng"], &o.Lng},
		{"unc", fields["unc"], &o.Unc},
	}
	for _, f := range floats {
		v, ok := looseFloat(f.raw)
		if !ok {
			coerced = append(coerced, f.name)
		}
		*f.dst = v
	}

	epoch, ok := looseInt64(fields["seenEpoch"])
	if !ok {
		coerced = append(coerced, "seenEpoch")
	}
	o.SeenEpoch = epoch

	o.SeenTime = verbatim(fields["seenTime"])
	o.Manufacturer = verbatim(fields["manufacturer"])
	o.OS = verbatim(fields["os"])
	o.SSID = verbatim(fields["ssid"])
	return o, coerced, nil
}

func jsonObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, false
	}
	return m, true
}

func isNull(trimmed []byte) bool {
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// numberText returns the text of a JSON number, or the contents of a JSON
// string that may hold one.
func numberText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if s, ok := jsonString(trimmed); ok {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

// looseFloat reads a number or numeric string. Missing and null read as zero.
func looseFloat(raw json.RawMessage) (float64, bool) {
	if isNull(bytes.TrimSpace(raw)) {
		return 0, true
	}
	text, ok := numberText(raw)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// looseInt64 reads an integer, truncating fractions. Values outside the
// int64 range are rejected.
func looseInt64(raw json.RawMessage) (int64, bool) {
	if isNull(bytes.TrimSpace(raw)) {
		return 0, true
	}
	text, ok := numberText(raw)
	if !ok {
		return 0, false
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// verbatim returns a JSON string's contents, or the JSON text of any other
// value. Missing and null read as empty.
func verbatim(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) {
		return ""
	}
	if s, ok := jsonString(trimmed); ok {
		return s
	}
	return string(trimmed)
}
