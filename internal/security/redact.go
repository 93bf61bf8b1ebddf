package security

import "strings"

var sensitiveSubstrings = []string{
	"token",
	"password",
	"passwd",
	"authorization",
	"apikey",
	"api_key",
	"access_key",
	"private_key",
	"credential",
	"cookie",
	"session",
	"jwt",
	"bearer",
	"pwd",
	"passphrase",
	"secret_value",
}

var allowList = map[string]struct{}{
	"secret_name": {},
}

// RedactArguments returns a copy of arguments with sensitive values replaced.
func RedactArguments(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	redacted := make(map[string]any, len(values))
	for key, value := range values {
		if isSensitiveKey(key) {
			redacted[key] = "***"
			continue
		}
		redacted[key] = value
	}
	return redacted
}

// RedactTypedText hides the text typed into an element whose description
// looks like a credential field, e.g. "Password field".
func RedactTypedText(values map[string]any) map[string]any {
	redacted := RedactArguments(values)
	if redacted == nil {
		return nil
	}
	element, _ := redacted["element"].(string)
	if _, ok := redacted["text"]; ok && isSensitiveKey(element) {
		redacted["text"] = "***"
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if _, ok := allowList[lower]; ok {
		return false
	}
	if strings.Contains(lower, "secret") && strings.Contains(lower, "name") {
		return false
	}
	for _, part := range sensitiveSubstrings {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
