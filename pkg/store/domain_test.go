package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeVerbKeysRewritesLegacyFields(t *testing.T) {
	raw := map[string]any{
		"sourceId": "n1",
		"targetId": "n2",
	}
	out := CanonicalizeVerbKeys(raw)
	assert.Equal(t, "n1", out["source"])
	assert.Equal(t, "n2", out["target"])
	_, hasLegacy := out["sourceId"]
	assert.False(t, hasLegacy)
}

func TestCanonicalizeVerbKeysIsIdempotent(t *testing.T) {
	raw := map[string]any{"source": "n1", "target": "n2"}
	out := CanonicalizeVerbKeys(raw)
	assert.Equal(t, "n1", out["source"])
	assert.Equal(t, "n2", out["target"])
}

func TestCanonicalizeVerbKeysPrefersExistingCanonical(t *testing.T) {
	raw := map[string]any{"source": "n1", "sourceId": "legacy"}
	out := CanonicalizeVerbKeys(raw)
	assert.Equal(t, "n1", out["source"])
}
