package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidAndMonotonic(t *testing.T) {
	generated := make([]string, 100)
	for i := range generated {
		generated[i] = New()
	}

	seen := make(map[string]struct{}, len(generated))
	for i, id := range generated {
		_, err := ulid.Parse(id)
		require.NoError(t, err, "id %d should parse as ULID", i)

		_, dup := seen[id]
		assert.False(t, dup, "id %d duplicated", i)
		seen[id] = struct{}{}

		if i > 0 {
			assert.LessOrEqual(t, generated[i-1], id, "ids should sort by generation order")
		}
	}
}
