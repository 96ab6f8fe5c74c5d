package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJCS_SortsKeys(t *testing.T) {
	out, err := JCS(map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
		"mango": 3,
	})
	assert.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mango":3,"zebra":1}`, string(out))
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	h1, err := CanonicalHash(map[string]interface{}{"b": "two", "a": 1})
	assert.NoError(t, err)
	h2, err := CanonicalHash(map[string]interface{}{"a": 1, "b": "two"})
	assert.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCanonicalHash_DistinguishesValues(t *testing.T) {
	h1, err := CanonicalHash(map[string]interface{}{"balance": 100})
	assert.NoError(t, err)
	h2, err := CanonicalHash(map[string]interface{}{"balance": 101})
	assert.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
