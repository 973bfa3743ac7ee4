package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/store"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, "0", Tokens(0))
	assert.Equal(t, "1000000000000000000", Tokens(1))
	assert.Equal(t, "777777000000000000000000", Tokens(777777))
	assert.Equal(t, Tokens(42), TokensBig(42).String())
}

func TestOpenStore_PinsGenesis(t *testing.T) {
	ctx := context.Background()
	s := OpenStore(t, store.MemoryPath)

	require.NoError(t, s.PutGenesis(ctx, Genesis()))
	got, ok, err := s.Genesis(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Genesis(), got)
}
