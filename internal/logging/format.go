package logging

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
)

// FormatEventLine renders event as one plain line; JSON fields follow the
// inline ones.
func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Level, event.Fields) {
		fmt.Fprintf(&b, " %s=%s", key, formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if block, ok := jsonFieldBlock(value); ok {
		return block
	}
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return fmt.Sprintf("%v", value)
}

// jsonFieldBlock renders value as indented JSON with credentials masked. It
// accepts structured values and strings that hold a whole JSON object or
// array; text with JSON embedded in it is left alone.
func jsonFieldBlock(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case error:
		return jsonFieldBlock(v.Error())
	case string:
		return decodeJSONText(v)
	case []byte:
		return decodeJSONText(string(v))
	case encoding.TextMarshaler:
		if text, err := v.MarshalText(); err == nil {
			return decodeJSONText(string(text))
		}
		return "", false
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
	default:
		return "", false
	}
	raw, err := json.Marshal(rv.Interface())
	if err != nil {
		return "", false
	}
	return decodeJSONText(string(raw))
}

func decodeJSONText(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", false
	}
	out, err := indentJSON(maskCredentials(decoded))
	if err != nil {
		return "", false
	}
	return out, true
}

func indentJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// orderedFieldKeys sorts inline fields first, then JSON fields, with API
// and broker bodies last.
func orderedFieldKeys(_ slog.Level, fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	rank := func(key string) int {
		if _, ok := jsonFieldBlock(fields[key]); !ok {
			return 0
		}
		if isPayloadFieldKey(key) {
			return 2
		}
		return 1
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "request", "response", "body", "frame":
		return true
	default:
		return false
	}
}
