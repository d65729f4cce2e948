package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	fieldPattern       = regexp.MustCompile(`\S+`)
)

// sensitiveFragments mark a flag or variable name as carrying a secret. Names
// are compared lower-cased with dashes folded to underscores.
var sensitiveFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"access_key",
	"private_key",
	"credential",
}

// RedactSecrets masks secret values in launch parameters and messages that
// echo them. It understands the shapes launch parameters take:
//
//	--password hunter2    --token=abc    DB_PASSWORD="x y"    secret: abc
//
// ${VAR} references are masked as well. Whitespace outside masked values is
// preserved.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	message = templateVarPattern.ReplaceAllString(message, "${"+redactedPlaceholder+"}")

	var b strings.Builder
	b.Grow(len(message))
	last := 0
	valueNext := false
	var openQuote byte
	for _, span := range fieldPattern.FindAllStringIndex(message, -1) {
		field := message[span[0]:span[1]]
		if openQuote != 0 {
			// Inside a masked quoted value that spans several fields.
			last = span[1]
			if strings.IndexByte(field, openQuote) >= 0 {
				b.WriteByte(openQuote)
				openQuote = 0
			}
			continue
		}
		b.WriteString(message[last:span[0]])
		last = span[1]

		if valueNext {
			valueNext = false
			if !strings.HasPrefix(field, "-") {
				var masked string
				masked, openQuote = maskValue(field)
				b.WriteString(masked)
				continue
			}
		}
		var masked string
		masked, openQuote, valueNext = redactField(field)
		b.WriteString(masked)
	}
	if openQuote == 0 {
		b.WriteString(message[last:])
	}
	return b.String()
}

// redactField masks the value of an inline assignment. It reports whether the
// field is a bare secret flag or key whose value is the following field.
func redactField(field string) (out string, openQuote byte, valueNext bool) {
	if idx := strings.IndexAny(field, "=:"); idx > 0 && idx < len(field)-1 {
		if !isSensitiveName(field[:idx]) {
			return field, 0, false
		}
		masked, quote := maskValue(field[idx+1:])
		return field[:idx+1] + masked, quote, false
	}
	if name, ok := strings.CutSuffix(field, ":"); ok && isSensitiveName(name) {
		return field, 0, true
	}
	if name, ok := strings.CutSuffix(field, "="); ok && isSensitiveName(name) {
		return field, 0, true
	}
	if strings.HasPrefix(field, "-") && isSensitiveName(field) {
		return field, 0, true
	}
	return field, 0, false
}

// maskValue replaces value, keeping its quotes. A quote left open is returned
// so the caller can swallow the rest of the quoted value.
func maskValue(value string) (string, byte) {
	if value == "" {
		return value, 0
	}
	q := value[0]
	if q != '"' && q != '\'' {
		return redactedPlaceholder, 0
	}
	if end := strings.IndexByte(value[1:], q); end >= 0 {
		return string(q) + redactedPlaceholder + string(q) + value[end+2:], 0
	}
	return string(q) + redactedPlaceholder, q
}

func isSensitiveName(name string) bool {
	name = strings.TrimLeft(strings.Trim(name, `"'`), "-")
	if name == "" {
		return false
	}
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	for _, fragment := range sensitiveFragments {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}
