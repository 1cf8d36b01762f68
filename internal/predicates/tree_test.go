package predicates

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, raw string) *Compiled {
	t.Helper()
	nodes, err := ParsePredicates(json.RawMessage(raw))
	require.NoError(t, err)
	c, err := Compile(nodes)
	require.NoError(t, err)
	return c
}

func reqFields(method, path, rawQuery string, headers map[string][]string, body string) *Fields {
	return NewFields(method, path, rawQuery, headers, body, "127.0.0.1:53412")
}

func TestParsePredicates(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		check   func(t *testing.T, nodes []*Node)
	}{
		{
			name: "single leaf",
			raw:  `[{"equals":{"path":"/a"}}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, OpEquals, nodes[0].Op)
				require.Len(t, nodes[0].Terms, 1)
				assert.Equal(t, "path", nodes[0].Terms[0].Field)
				assert.Equal(t, "/a", nodes[0].Terms[0].Value)
				assert.True(t, nodes[0].CaseSensitive)
			},
		},
		{
			name: "first operator key wins",
			raw:  `[{"equals":{"path":"/a"},"contains":{"path":"x"}}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, OpEquals, nodes[0].Op)
			},
		},
		{
			name: "first combinator key wins over later operator",
			raw:  `[{"or":[{"equals":{"path":"/a"}}],"equals":{"path":"/b"}}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.False(t, nodes[0].IsLeaf())
				require.Len(t, nodes[0].Children, 1)
			},
		},
		{
			name: "modifiers apply regardless of position",
			raw:  `[{"caseSensitive":false,"equals":{"method":"get"},"except":"\\d+"}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.False(t, nodes[0].CaseSensitive)
				assert.Equal(t, `\d+`, nodes[0].Except)
			},
		},
		{
			name: "jsonpath and xpath selectors",
			raw:  `[{"equals":{"body":"v"},"jsonpath":{"selector":"$.k"},"xpath":{"selector":"/root/k"}}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, "$.k", nodes[0].JSONPath)
				assert.Equal(t, "/root/k", nodes[0].XPath)
			},
		},
		{
			name: "numbers normalize to float64",
			raw:  `[{"equals":{"body":123}}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, float64(123), nodes[0].Terms[0].Value)
			},
		},
		{
			name: "unknown keys tolerated",
			raw:  `[{"equals":{"path":"/a"},"comment":"ignored"}]`,
			check: func(t *testing.T, nodes []*Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, OpEquals, nodes[0].Op)
			},
		},
		{
			name:    "object with no operator",
			raw:     `[{"caseSensitive":false}]`,
			wantErr: "no operator",
		},
		{
			name:    "predicate must be object",
			raw:     `["equals"]`,
			wantErr: "predicate must be an object",
		},
		{
			name:    "predicates must be array",
			raw:     `{"equals":{"path":"/a"}}`,
			wantErr: "must be an array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := ParsePredicates(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, nodes)
		})
	}
}

func TestParsePredicatesEmpty(t *testing.T) {
	nodes, err := ParsePredicates(nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestCompileDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad matches regex", `[{"matches":{"path":"("}}]`},
		{"bad except regex", `[{"equals":{"body":"x"},"except":"["}]`},
		{"bad jsonpath selector", `[{"equals":{"body":"x"},"jsonpath":{"selector":"$[?"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := ParsePredicates(json.RawMessage(tt.raw))
			require.NoError(t, err)
			_, err = Compile(nodes)
			assert.Error(t, err)
		})
	}
}

func TestFieldsMalformedQueryKeepsValidPairs(t *testing.T) {
	f := reqFields("GET", "/", "a=1&bad=%zz&b=2", nil, "")

	assert.Equal(t, []string{"1"}, f.Query["a"])
	assert.Equal(t, []string{"2"}, f.Query["b"])
	_, present := f.Query["bad"]
	assert.False(t, present)

	c := mustCompile(t, `[{"equals":{"query":{"a":"1"}}}]`)
	assert.True(t, evalBoth(t, c, f))
}
