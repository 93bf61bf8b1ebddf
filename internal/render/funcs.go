package render

import (
	"os"
	"strings"
	"text/template"
)

func funcMap(tracker *envTracker) template.FuncMap {
	return template.FuncMap{
		"env": func(key string) string {
			return os.Getenv(key)
		},
		"envOr": func(key, def string) string {
			if value, ok := os.LookupEnv(key); ok && value != "" {
				return value
			}
			return def
		},
		"required": func(key string) string {
			value, ok := os.LookupEnv(key)
			if !ok || value == "" {
				tracker.markMissing(key)
				return ""
			}
			return value
		},
		"default": func(def, value string) string {
			if value == "" {
				return def
			}
			return value
		},
		"quote": func(value string) string {
			return `"` + strings.ReplaceAll(strings.ReplaceAll(value, `\`, `\\`), `"`, `\"`) + `"`
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}
}
