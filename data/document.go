package data

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fields is the content of a document. Values are strings, integers, bools, time.Time,
// lists and nested maps.
type Fields map[string]interface{}

// Document is a single stored document and its path
type Document struct {
	Path   string
	Fields Fields
}

// ID returns the last segment of the document path
func (d Document) ID() string {
	i := strings.LastIndex(d.Path, "/")
	return d.Path[i+1:]
}

// Copy returns a copy of f including nested lists and maps
func (f Fields) Copy() Fields {
	if f == nil {
		return Fields{}
	}

	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[k] = copyValue(vv)
		}
		return m
	case Fields:
		return t.Copy()
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	case []map[string]interface{}:
		s := make([]interface{}, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	default:
		return v
	}
}

// String returns the field as a string. Numbers are formatted, anything else missing returns "".
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int, int64, int32, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Int returns an integer field or 0
func (f Fields) Int(key string) int64 {
	switch v := f[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			fl, _ := v.Float64()
			return int64(fl)
		}
		return i
	case string:
		i, _ := strconv.ParseInt(v, 10, 64)
		return i
	default:
		return 0
	}
}

// Bool returns a boolean field or false
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}
// Time returns a time field. Besides time.Time it accepts RFC3339 strings, zoneless date
// times (read as UTC) and unix timestamps in seconds or milliseconds. ok is false when the field
// is absent, empty or unreadable.
func (f Fields) Time(key string) (t time.Time, ok bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case int:
		return unixTime(int64(v)), true
	case int32:
		return unixTime(int64(v)), true
	case int64:
		return unixTime(v), true
	case float64:
		return unixTime(int64(v)), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			fl, err := v.Float64()
			if err != nil {
				return time.Time{}, false
			}
			i = int64(fl)
		}
		return unixTime(i), true
	case string:
		return parseTime(v)
	default:
		return time.Time{}, false
	}
}

// HasValue reports whether key holds something other than nil or an empty string
func (f Fields) HasValue(key string) bool {
	switch v := f[key].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case *time.Time:
		return v != nil
	default:
		return true
	}
}

// timestamps above this are milliseconds, as seconds it would be past the year 33000
const maxUnixSeconds = 1e12

func unixTime(n int64) time.Time {
	if n > maxUnixSeconds || n < -maxUnixSeconds {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}

	for _, l := range zonelessLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, true
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixTime(n), true
	}

	return time.Time{}, false
}

// Maps returns a list of nested maps, skipping entries of any other type
func (f Fields) Maps(key string) []map[string]interface{} {
	switch v := f[key].(type) {
	case []map[string]interface{}:
		return v
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, e := range v {
			switch m := e.(type) {
			case map[string]interface{}:
				out = append(out, m)
			case Fields:
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Merge copies src over dst, replacing fields present in both
func Merge(dst, src Fields) Fields {
	out := dst.Copy()
	for k, v := range src {
		out[k] = copyValue(v)
	}
	return out
}

// EncodeFields serialises fields for backends that store documents as text
func EncodeFields(f Fields) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(b), nil
}

// DecodeFields parses text produced by EncodeFields. Numbers are kept as json.Number.
func DecodeFields(s string) (Fields, error) {
	f := Fields{}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return f, nil
}
