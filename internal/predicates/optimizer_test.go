package predicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileGrouping(t *testing.T) {
	c := mustCompile(t, `[
		{"equals":{"method":"GET","path":"/a"}},
		{"contains":{"body":"x"}},
		{"matches":{"path":"^/a"}}
	]`)

	assert.False(t, c.never)
	assert.Empty(t, c.residual)
	require.Len(t, c.groups, 3)

	byField := map[fieldKey]*fieldGroup{}
	for _, g := range c.groups {
		byField[g.key] = g
	}

	method := byField[fieldKey{field: FieldMethod}]
	require.NotNil(t, method)
	require.NotNil(t, method.equals)
	assert.Equal(t, "GET", method.equals.value)

	path := byField[fieldKey{field: FieldPath}]
	require.NotNil(t, path)
	require.NotNil(t, path.equals)
	require.NotNil(t, path.regexes)
	assert.Equal(t, []string{"^/a"}, path.regexes.exprs)

	body := byField[fieldKey{field: FieldBody}]
	require.NotNil(t, body)
	require.Len(t, body.contains, 1)
}

func TestCompileFlattensNestedAnd(t *testing.T) {
	c := mustCompile(t, `[
		{"and":[
			{"equals":{"method":"GET"}},
			{"and":[{"equals":{"path":"/a"}}]}
		]}
	]`)
	assert.Empty(t, c.residual)
	assert.Len(t, c.groups, 2)
}

func TestCompileResidualRouting(t *testing.T) {
	tests := []struct {
		name  string
		preds string
	}{
		{"or combinator", `[{"or":[{"equals":{"path":"/a"}}]}]`},
		{"not combinator", `[{"not":{"equals":{"path":"/a"}}}]`},
		{"deepEquals", `[{"deepEquals":{"body":{"a":1}}}]`},
		{"exists", `[{"exists":{"query":{"q":true}}}]`},
		{"except modifier", `[{"equals":{"path":"/a"},"except":"x"}]`},
		{"jsonpath modifier", `[{"equals":{"body":"v"},"jsonpath":{"selector":"$.k"}}]`},
		{"structured body value", `[{"equals":{"body":{"a":1}}}]`},
		{"sequence query value", `[{"equals":{"query":{"a":["1","2"]}}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCompile(t, tt.preds)
			assert.Empty(t, c.groups)
			assert.Len(t, c.residual, 1)
		})
	}
}

func TestCompileEqualsConflicts(t *testing.T) {
	t.Run("identical targets fold", func(t *testing.T) {
		c := mustCompile(t, `[{"equals":{"path":"/a"}},{"equals":{"path":"/a"}}]`)
		assert.False(t, c.never)
		require.Len(t, c.groups, 1)
		assert.True(t, evalBoth(t, c, reqFields("GET", "/a", "", nil, "")))
	})

	t.Run("conflicting targets on a scalar field never match", func(t *testing.T) {
		c := mustCompile(t, `[{"equals":{"path":"/a"}},{"equals":{"path":"/b"}}]`)
		assert.True(t, c.never)
		assert.False(t, evalBoth(t, c, reqFields("GET", "/a", "", nil, "")))
		assert.False(t, evalBoth(t, c, reqFields("GET", "/b", "", nil, "")))
	})

	t.Run("sensitive target subsumes compatible insensitive one", func(t *testing.T) {
		c := mustCompile(t, `[
			{"equals":{"path":"/Api"}},
			{"equals":{"path":"/api"},"caseSensitive":false}
		]`)
		assert.False(t, c.never)
		assert.True(t, evalBoth(t, c, reqFields("GET", "/Api", "", nil, "")))
		assert.False(t, evalBoth(t, c, reqFields("GET", "/api", "", nil, "")))
	})

	t.Run("incompatible mixed sensitivity never matches", func(t *testing.T) {
		c := mustCompile(t, `[
			{"equals":{"path":"/Api"}},
			{"equals":{"path":"/other"},"caseSensitive":false}
		]`)
		assert.True(t, c.never)
	})

	t.Run("repeated query key keeps both targets", func(t *testing.T) {
		c := mustCompile(t, `[
			{"equals":{"query":{"a":"1"}}},
			{"equals":{"query":{"a":"2"}}}
		]`)
		assert.False(t, c.never)
		assert.True(t, evalBoth(t, c, reqFields("GET", "/", "a=1&a=2", nil, "")))
		assert.False(t, evalBoth(t, c, reqFields("GET", "/", "a=1", nil, "")))
	})
}

func TestCompileAnchoredOverflow(t *testing.T) {
	t.Run("second prefix becomes an anchored regex", func(t *testing.T) {
		c := mustCompile(t, `[
			{"startsWith":{"path":"/api"}},
			{"startsWith":{"path":"/api/v1"}}
		]`)
		assert.False(t, c.never)
		require.Len(t, c.groups, 1)
		require.NotNil(t, c.groups[0].regexes)
		assert.True(t, evalBoth(t, c, reqFields("GET", "/api/v1/users", "", nil, "")))
		assert.False(t, evalBoth(t, c, reqFields("GET", "/api/v2/users", "", nil, "")))
	})

	t.Run("second suffix becomes an anchored regex", func(t *testing.T) {
		c := mustCompile(t, `[
			{"endsWith":{"path":"users"}},
			{"endsWith":{"path":"/users"}}
		]`)
		assert.True(t, evalBoth(t, c, reqFields("GET", "/v1/users", "", nil, "")))
		assert.False(t, evalBoth(t, c, reqFields("GET", "/v1/xusers", "", nil, "")))
	})

	t.Run("anchored regex escapes metacharacters", func(t *testing.T) {
		c := mustCompile(t, `[
			{"startsWith":{"path":"/a.b"}},
			{"startsWith":{"path":"/a.b/c"}}
		]`)
		assert.True(t, evalBoth(t, c, reqFields("GET", "/a.b/c/d", "", nil, "")))
		assert.False(t, evalBoth(t, c, reqFields("GET", "/aXb/c/d", "", nil, "")))
	})
}

func TestCompileIdempotent(t *testing.T) {
	const preds = `[
		{"equals":{"method":"GET"}},
		{"startsWith":{"path":"/api"}},
		{"not":{"equals":{"query":{"debug":"1"}}}}
	]`
	a := mustCompile(t, preds)
	b := mustCompile(t, preds)

	requests := []*Fields{
		reqFields("GET", "/api/users", "", nil, ""),
		reqFields("GET", "/api/users", "debug=1", nil, ""),
		reqFields("POST", "/api/users", "", nil, ""),
		reqFields("GET", "/other", "", nil, ""),
	}
	for _, f := range requests {
		assert.Equal(t, a.Matches(f), b.Matches(f))
	}
}

func TestRegexSetMatchAll(t *testing.T) {
	set, err := newRegexSet([]string{"^a", "b$"})
	require.NoError(t, err)

	assert.True(t, set.matchAll([]string{"ab"}))
	assert.True(t, set.matchAll([]string{"ax", "xb"}))
	assert.False(t, set.matchAll([]string{"xb"}))
	assert.False(t, set.matchAll(nil))

	_, err = newRegexSet([]string{"("})
	assert.Error(t, err)
}

func TestFieldGroupAbsentField(t *testing.T) {
	c := mustCompile(t, `[{"equals":{"query":{"missing":"1"}}}]`)
	require.Len(t, c.groups, 1)
	assert.False(t, evalBoth(t, c, reqFields("GET", "/", "other=2", nil, "")))
}
