// Package validate checks tool-call arguments against the downstream
// server's declared JSON schema and applies operator restrictions: a string
// length cap, disallow patterns over every string leaf, and recursive field
// redaction before the arguments are routed anywhere.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mcpambassador/server/internal/apierror"
)

// RedactedSentinel replaces redacted argument values. It is also the only
// form in which a redacted value may appear in audit records.
const RedactedSentinel = "[REDACTED]"

// DefaultMaxStringLength caps every string leaf unless
// Restrictions.MaxStringLength replaces it. A schema maxLength is checked in
// addition and does not lift this cap.
const DefaultMaxStringLength = 10000

// Restrictions are optional operator-level constraints layered on top of
// the declared schema.
type Restrictions struct {
	// MaxStringLength overrides DefaultMaxStringLength when positive.
	MaxStringLength int
	// DisallowPatterns are regular expressions matched against every
	// string leaf. Go's regexp is RE2 and therefore linear-time; no other
	// engine is permitted here.
	DisallowPatterns []string
	// RedactFields are field names whose values are replaced with the
	// redaction sentinel, recursively, before routing.
	RedactFields []string
}

// Result is the outcome of validation.
type Result struct {
	Valid bool
	// Error is a single-line cause, safe to return to the caller.
	Error string
	// SanitizedArgs is the argument map after redaction; only set when
	// Valid.
	SanitizedArgs map[string]interface{}
}

// Validator compiles schemas and applies restrictions.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate checks args against schemaJSON (a JSON-schema document; empty
// means no schema) and the restrictions. On success, SanitizedArgs carries
// the redacted copy to route downstream.
func (v *Validator) Validate(args map[string]interface{}, schemaJSON []byte, restrictions *Restrictions) (*Result, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	if len(schemaJSON) > 0 && !bytes.Equal(bytes.TrimSpace(schemaJSON), []byte("{}")) {
		if err := validateSchema(args, schemaJSON); err != nil {
			return &Result{Valid: false, Error: singleLine(err.Error())}, nil
		}
	}

	maxLen := DefaultMaxStringLength
	var disallow []*regexp.Regexp
	var redact map[string]bool
	if restrictions != nil {
		if restrictions.MaxStringLength > 0 {
			maxLen = restrictions.MaxStringLength
		}
		for _, pat := range restrictions.DisallowPatterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, apierror.Wrap(apierror.KindInternal, err, "invalid disallow pattern %q", pat)
			}
			disallow = append(disallow, re)
		}
		if len(restrictions.RedactFields) > 0 {
			redact = make(map[string]bool, len(restrictions.RedactFields))
			for _, f := range restrictions.RedactFields {
				redact[f] = true
			}
		}
	}

	if err := checkStrings(args, maxLen, disallow); err != "" {
		return &Result{Valid: false, Error: err}, nil
	}

	sanitized := redactValue(args, redact).(map[string]interface{})
	return &Result{Valid: true, SanitizedArgs: sanitized}, nil
}

func validateSchema(args map[string]interface{}, schemaJSON []byte) error {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("schema is not valid JSON: %w", err)
	}
	if err := compiler.AddResource("tool-schema.json", doc); err != nil {
		return fmt.Errorf("schema rejected: %w", err)
	}
	sch, err := compiler.Compile("tool-schema.json")
	if err != nil {
		return fmt.Errorf("schema failed to compile: %w", err)
	}

	// Round-trip the arguments through JSON so numeric types match what
	// the schema library expects.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not serializable: %w", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return err
	}

	return sch.Validate(decoded)
}

// checkStrings walks every string leaf applying the length cap and
// disallow patterns. Returns a single-line error string, or "".
func checkStrings(value interface{}, maxLen int, disallow []*regexp.Regexp) string {
	switch val := value.(type) {
	case string:
		if len(val) > maxLen {
			return fmt.Sprintf("string value exceeds maximum length %d", maxLen)
		}
		for _, re := range disallow {
			if re.MatchString(val) {
				return fmt.Sprintf("string value matches disallowed pattern %s", re.String())
			}
		}
	case map[string]interface{}:
		for _, child := range val {
			if msg := checkStrings(child, maxLen, disallow); msg != "" {
				return msg
			}
		}
	case []interface{}:
		for _, child := range val {
			if msg := checkStrings(child, maxLen, disallow); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// redactValue deep-copies value, replacing any field named in redact with
// the sentinel at every nesting level.
func redactValue(value interface{}, redact map[string]bool) interface{} {
	switch val := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if redact[k] {
				out[k] = RedactedSentinel
				continue
			}
			out[k] = redactValue(child, redact)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = redactValue(child, redact)
		}
		return out
	default:
		return value
	}
}

func singleLine(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
