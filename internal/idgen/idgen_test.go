package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixOrder)
	assert.True(t, strings.HasPrefix(id, "po_"))
	assert.Len(t, id, len("po_")+24)
	assert.NotEqual(t, id, WithPrefix(PrefixOrder))
}

func TestReference(t *testing.T) {
	ref := Reference()
	assert.True(t, IsReference(ref))
	assert.False(t, IsReference("po_123"))
	assert.NotEqual(t, ref, Reference())
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(16), 32)
}
