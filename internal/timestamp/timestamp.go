// Package timestamp converts the timestamp shapes found in stored and
// imported gallery data into time.Time through a single path.
package timestamp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindFirestore    Kind = "firestoreTimestamp"
	KindEpochSeconds Kind = "epochSeconds"
	KindISOString    Kind = "isoString"
	KindDate         Kind = "date"
)

// FirestoreTimestamp mirrors the {seconds, nanoseconds} export format.
type FirestoreTimestamp struct {
	Seconds     int64 `json:"seconds" yaml:"seconds"`
	Nanoseconds int64 `json:"nanoseconds" yaml:"nanoseconds"`
}

type Value struct {
	Kind  Kind
	Value any
}

var ErrUnsupported = errors.New("unsupported timestamp")

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize returns v as UTC.
func Normalize(v Value) (time.Time, error) {
	switch v.Kind {
	case KindFirestore:
		switch ts := v.Value.(type) {
		case FirestoreTimestamp:
			return time.Unix(ts.Seconds, ts.Nanoseconds).UTC(), nil
		case *FirestoreTimestamp:
			if ts == nil {
				break
			}
			return time.Unix(ts.Seconds, ts.Nanoseconds).UTC(), nil
		}
	case KindEpochSeconds:
		switch n := v.Value.(type) {
		case int64:
			return time.Unix(n, 0).UTC(), nil
		case int:
			return time.Unix(int64(n), 0).UTC(), nil
		case float64:
			sec := int64(n)
			return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC(), nil
		case string:
			sec, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupported, n)
			}
			return time.Unix(sec, 0).UTC(), nil
		}
	case KindISOString:
		var s string
		switch raw := v.Value.(type) {
		case string:
			s = raw
		case []byte:
			s = string(raw)
		}
		s = strings.TrimSpace(s)
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupported, s)
	case KindDate:
		if t, ok := v.Value.(time.Time); ok {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: kind=%s type=%T", ErrUnsupported, v.Kind, v.Value)
}

// Detect tags a raw value by its dynamic type, as returned by database
// drivers or decoded from YAML/JSON.
func Detect(raw any) Value {
	switch x := raw.(type) {
	case time.Time:
		return Value{Kind: KindDate, Value: x}
	case FirestoreTimestamp, *FirestoreTimestamp:
		return Value{Kind: KindFirestore, Value: x}
	case map[string]any:
		return Value{Kind: KindFirestore, Value: firestoreFromMap(x)}
	case int64, int, float64:
		return Value{Kind: KindEpochSeconds, Value: x}
	case []byte:
		return Value{Kind: KindISOString, Value: string(x)}
	case string:
		return Value{Kind: KindISOString, Value: x}
	}
	return Value{Kind: Kind(fmt.Sprintf("%T", raw)), Value: raw}
}

// Parse is Normalize(Detect(raw)).
func Parse(raw any) (time.Time, error) {
	return Normalize(Detect(raw))
}

func firestoreFromMap(m map[string]any) FirestoreTimestamp {
	var ts FirestoreTimestamp
	ts.Seconds = toInt64(m["seconds"])
	if v, ok := m["nanoseconds"]; ok {
		ts.Nanoseconds = toInt64(v)
	} else {
		ts.Nanoseconds = toInt64(m["nanos"])
	}
	return ts
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
