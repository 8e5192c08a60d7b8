package logging

import (
	"encoding/json"
	"strings"
)

// credentialKeys are JSON keys whose values never reach a log line. Matching
// ignores case.
var credentialKeys = map[string]bool{
	"accesstoken":     true,
	"token":           true,
	"refreshtoken":    true,
	"password":        true,
	"newpassword":     true,
	"confirmpassword": true,
	"passcode":        true,
}

// FormatHTTPPayload renders an API or broker payload for log output. JSON is
// pretty-printed with credential fields masked; anything else is returned
// trimmed.
func FormatHTTPPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}

	// A bare JSON string may itself wrap a JSON document.
	var quoted string
	if err := json.Unmarshal([]byte(trimmed), &quoted); err == nil {
		trimmed = strings.TrimSpace(quoted)
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return trimmed
	}
	out, err := indentJSON(maskCredentials(value))
	if err != nil {
		return trimmed
	}
	return out
}

func maskCredentials(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, inner := range v {
			if credentialKeys[strings.ToLower(key)] {
				if s, ok := inner.(string); ok {
					v[key] = redact(s)
				} else {
					v[key] = "****"
				}
				continue
			}
			v[key] = maskCredentials(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = maskCredentials(inner)
		}
		return v
	default:
		return value
	}
}
