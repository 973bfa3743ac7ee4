// Package testutil holds fixtures shared by package tests: token amounts,
// the default genesis, journals and operation times.
package testutil

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/store"
)

// Default genesis accounts.
const (
	Admin   = "admin"
	Manager = "allotment-manager"
)

// Tokens returns n whole tokens at 18 decimals as a base-unit string.
func Tokens(n int64) string {
	return TokensBig(n).String()
}

// TokensBig is Tokens as a big.Int.
func TokensBig(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

// Genesis is the default mint-funded genesis: cap 7777778 tokens at 18
// decimals.
func Genesis() store.Genesis {
	return store.Genesis{
		Admin:    Admin,
		Manager:  Manager,
		Cap:      Tokens(7777778),
		Decimals: 18,
		Funding:  "mint",
	}
}

// OpenStore opens a journal at path and closes it when the test ends.
// Pass store.MemoryPath for an in-memory journal.
func OpenStore(t testing.TB, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
