package watchlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	entries := []Entry{
		{Token: 30, SortOrder: 2},
		{Token: 10, SortOrder: 0},
		{Token: 20, SortOrder: 1},
		{Token: 10, SortOrder: 5},
		{Token: 40, SortOrder: 1},
	}
	assert.Equal(t, []int64{10, 20, 40, 30}, Tokens(entries))
	assert.Empty(t, Tokens(nil))

	// The input is left alone.
	assert.Equal(t, int64(30), entries[0].Token)
}
