package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issueSchema = `{
	"type": "object",
	"properties": {
		"title":    {"type": "string", "minLength": 1, "maxLength": 80},
		"body":     {"type": "string"},
		"priority": {"type": "integer", "minimum": 1, "maximum": 5},
		"labels":   {"type": "array", "items": {"type": "string"}},
		"kind":     {"enum": ["bug", "feature"]}
	},
	"required": ["title"],
	"additionalProperties": false
}`

func TestValidateAgainstSchema(t *testing.T) {
	v := New()

	t.Run("valid args pass through", func(t *testing.T) {
		res, err := v.Validate(map[string]interface{}{
			"title":    "crash on start",
			"priority": 2,
			"labels":   []interface{}{"urgent"},
			"kind":     "bug",
		}, []byte(issueSchema), nil)
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "crash on start", res.SanitizedArgs["title"])
	})

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing required", map[string]interface{}{"body": "no title"}},
		{"wrong type", map[string]interface{}{"title": 42}},
		{"below minimum", map[string]interface{}{"title": "t", "priority": 0}},
		{"enum violation", map[string]interface{}{"title": "t", "kind": "chore"}},
		{"additional property", map[string]interface{}{"title": "t", "extra": true}},
		{"bad array element", map[string]interface{}{"title": "t", "labels": []interface{}{7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(tt.args, []byte(issueSchema), nil)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Error)
			assert.NotContains(t, res.Error, "\n", "cause must be single-line")
		})
	}
}

func TestStringLengthCap(t *testing.T) {
	v := New()

	res, err := v.Validate(map[string]interface{}{
		"msg": strings.Repeat("x", DefaultMaxStringLength+1),
	}, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = v.Validate(map[string]interface{}{
		"nested": map[string]interface{}{"deep": strings.Repeat("x", 200)},
	}, nil, &Restrictions{MaxStringLength: 100})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestDisallowPatterns(t *testing.T) {
	v := New()
	r := &Restrictions{DisallowPatterns: []string{`(?i)drop\s+table`}}

	res, err := v.Validate(map[string]interface{}{
		"query": "DROP TABLE users",
	}, nil, r)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = v.Validate(map[string]interface{}{
		"list": []interface{}{map[string]interface{}{"q": "drop table x"}},
	}, nil, r)
	require.NoError(t, err)
	assert.False(t, res.Valid, "patterns apply to nested string leaves")

	res, err = v.Validate(map[string]interface{}{"query": "SELECT 1"}, nil, r)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestRedaction(t *testing.T) {
	v := New()
	r := &Restrictions{RedactFields: []string{"password", "token"}}

	args := map[string]interface{}{
		"username": "alice",
		"password": "hunter2",
		"nested": map[string]interface{}{
			"token": "tok-123",
			"note":  "keep",
		},
	}

	res, err := v.Validate(args, nil, r)
	require.NoError(t, err)
	require.True(t, res.Valid)

	assert.Equal(t, "alice", res.SanitizedArgs["username"])
	assert.Equal(t, RedactedSentinel, res.SanitizedArgs["password"])
	nested := res.SanitizedArgs["nested"].(map[string]interface{})
	assert.Equal(t, RedactedSentinel, nested["token"])
	assert.Equal(t, "keep", nested["note"])

	// The original map is untouched.
	assert.Equal(t, "hunter2", args["password"])
}

func TestInvalidDisallowPatternErrors(t *testing.T) {
	v := New()
	_, err := v.Validate(map[string]interface{}{}, nil, &Restrictions{DisallowPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestEmptySchemaSkipsSchemaValidation(t *testing.T) {
	v := New()
	res, err := v.Validate(map[string]interface{}{"anything": true}, []byte("{}"), nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
