package pattern_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aipartnerup/apcore-go/pattern"
)

func TestMatchExact(t *testing.T) {
	assert.True(t, pattern.Match("math.add", "math.add"))
	assert.False(t, pattern.Match("math.add", "math.sub"))
}

func TestMatchWildcardAll(t *testing.T) {
	assert.True(t, pattern.Match("*", "anything.at.all"))
}

func TestMatchPrefixWildcard(t *testing.T) {
	assert.True(t, pattern.Match("math.*", "math.add"))
	assert.True(t, pattern.Match("math.*", "math.add.positive"))
	assert.False(t, pattern.Match("math.*", "billing.invoice"))
}

func TestMatchSuffixWildcard(t *testing.T) {
	assert.True(t, pattern.Match("*.internal", "billing.invoice.internal"))
	assert.False(t, pattern.Match("*.internal", "billing.invoice.external"))
}

func TestMatchMiddleWildcard(t *testing.T) {
	assert.True(t, pattern.Match("billing.*.internal", "billing.invoice.internal"))
	assert.True(t, pattern.Match("billing.*.internal", "billing.a.b.c.internal"))
	assert.False(t, pattern.Match("billing.*.internal", "billing.invoice.external"))
}

func TestMatchNoWildcardMismatch(t *testing.T) {
	assert.False(t, pattern.Match("math.add", "math.addition"))
}
