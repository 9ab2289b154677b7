package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "counter", "counter"},
		{"surrounding whitespace", "  counter\t", "counter"},
		{"trailing separator", "counter/", "counter"},
		{"trailing separators and spaces", "counter// ", "counter"},
		{"interior separator", "app/counter", "app.counter"},
		{"full width", "ｃｏｕｎｔｅｒ", "counter"},
		{"decomposed accent", "café", "café"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Canonicalize(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "canonicalize must be idempotent")
		})
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "/", " // "} {
		_, err := Canonicalize(in)
		require.Error(t, err, "input %q", in)

		var ine *InvalidNamespaceError
		require.ErrorAs(t, err, &ine)
		assert.Equal(t, in, ine.Namespace)
		assert.Equal(t, ErrCodeInvalidNamespace, CodeOf(err))
	}
}

func TestQualify_RoundTrip(t *testing.T) {
	for _, ns := range []string{"counter", "app.counter", "@@storeweave"} {
		for _, name := range []string{"increment", "fetchSucceed", "a/b"} {
			id := Qualify(ns, name)
			gotNS, gotName, ok := SplitType(id)
			require.True(t, ok)
			assert.Equal(t, ns, gotNS)
			assert.Equal(t, name, gotName)
		}
	}
}

func TestQualifyWithCallback(t *testing.T) {
	assert.Equal(t, "counter/fetchSucceed", QualifyWithCallback("counter", "fetch", "succeed"))
	assert.Equal(t, "counter/fetchFailed", QualifyWithCallback("counter", "fetch", "failed"))
	assert.Equal(t, "counter/fetch", QualifyWithCallback("counter", "fetch", PrepareCallback))
	assert.Equal(t, "counter/fetch", QualifyWithCallback("counter", "fetch", ""))
	assert.Equal(t, "counter/fetchÉchec", QualifyWithCallback("counter", "fetch", "échec"))
}

func TestSplitType_NoNamespace(t *testing.T) {
	ns, name, ok := SplitType("increment")
	assert.False(t, ok)
	assert.Equal(t, "", ns)
	assert.Equal(t, "increment", name)
}

func TestIsCancel(t *testing.T) {
	ns, ok := IsCancel(CancelType("counter"))
	require.True(t, ok)
	assert.Equal(t, "counter", ns)

	_, ok = IsCancel("counter/increment")
	assert.False(t, ok)

	_, ok = IsCancel(CancelEffects)
	assert.False(t, ok)
}

func TestPrefixKeys(t *testing.T) {
	got := PrefixKeys("todo", map[string]int{"add": 1, "remove": 2})
	assert.Equal(t, map[string]int{"todo/add": 1, "todo/remove": 2}, got)
}

func TestAction_WithMeta_DoesNotMutate(t *testing.T) {
	a := NewAction("counter/increment", 1).WithMeta("origin", "test")
	b := a.WithMeta(MetaSeq, int64(7))

	assert.NotContains(t, a.Meta, MetaSeq)
	assert.Equal(t, int64(7), b.Seq())
	assert.Equal(t, "test", b.Meta["origin"])
	assert.Equal(t, int64(0), a.Seq())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyEvery, p)

	p, err = ParsePolicy("latest")
	require.NoError(t, err)
	assert.Equal(t, PolicyLatest, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
