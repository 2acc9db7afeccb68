package runbook

import (
	"os"
	"regexp"

	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// varPattern matches ${VAR} and its escaped form $${VAR}. The escape
// group is captured so substitute can tell the two apart without
// re-scanning.
var varPattern = regexp.MustCompile(`(\$?)\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces every ${VAR} token in raw with the value of the
// corresponding process environment variable. $${VAR} is unescaped to the
// literal string ${VAR} without substitution. An undefined VAR is a
// ConfigError.
func substituteEnv(raw string) (string, error) {
	var firstErr error
	result := varPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := varPattern.FindStringSubmatch(match)
		escape, name := groups[1], groups[2]
		if escape == "$" {
			return "${" + name + "}"
		}
		value, ok := os.LookupEnv(name)
		if !ok {
			firstErr = waivernerr.New(waivernerr.KindConfig, "undefined environment variable: "+name, nil).
				WithCode(waivernerr.CodeConfig)
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// substituteEnvDeep walks a decoded YAML value (map[string]any,
// []any, or scalar) and applies substituteEnv to every string scalar.
func substituteEnvDeep(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return substituteEnv(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			substituted, err := substituteEnvDeep(elem)
			if err != nil {
				return nil, err
			}
			out[k] = substituted
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			substituted, err := substituteEnvDeep(elem)
			if err != nil {
				return nil, err
			}
			out[i] = substituted
		}
		return out, nil
	default:
		return v, nil
	}
}
