package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	db := tempDB(t)
	id := setupAllotment(t, db)
	_, err := runCLI(t, "--db", db, "--as", "ops", "--at", "1600000200", "allot", "bob", "1630000000", "0.25")
	require.NoError(t, err)

	out, err := runCLI(t, "--db", db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "BENEFICIARY")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "2021-05-03T00:00:00Z")
	assert.Contains(t, out, "0.25")

	out, err = runCLI(t, "--db", db, "--format", "json", "list", "--beneficiary", "alice")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "alice", data["beneficiary"])
	list := data["allotments"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, id, first["id"])
	assert.Equal(t, "100", first["amount"])
	assert.Equal(t, false, first["released"])
}

func TestList_Empty(t *testing.T) {
	out, err := runCLI(t, "--db", tempDB(t), "list")
	require.NoError(t, err)
	assert.Equal(t, "No allotments found.\n", out)

	out, err = runCLI(t, "--db", tempDB(t), "--format", "json", "list")
	require.NoError(t, err)
	data := decodeResponse(t, out).Data.(map[string]any)
	assert.Empty(t, data["allotments"])
}

func TestShow(t *testing.T) {
	db := tempDB(t)
	id := setupAllotment(t, db)

	out, err := runCLI(t, "--db", db, "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Allotment "+id)
	assert.Contains(t, out, "beneficiary:  alice")
	assert.Contains(t, out, "status:       locked")

	out, err = runCLI(t, "--db", db, "show", "0xmissing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

func TestSummary(t *testing.T) {
	db := tempDB(t)
	setupAllotment(t, db)

	out, err := runCLI(t, "--db", db, "--format", "json", "summary")
	require.NoError(t, err)
	data := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, "allotment-manager", data["manager"])
	assert.Equal(t, "mint", data["funding"])
	assert.EqualValues(t, 1, data["schedules"])
	assert.EqualValues(t, 1, data["unreleased"])
	assert.Equal(t, "100", data["locked"])
	assert.Equal(t, "0", data["disbursed"])
	assert.Equal(t, "100", data["total_supply"])
	assert.Equal(t, "7777778", data["cap"])
	assert.EqualValues(t, 3, data["records"])
	assert.Equal(t, "admin", data["admin"])
	assert.Contains(t, data["alloters"], "ops")

	out, err = runCLI(t, "--db", db, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "total supply:  100 of 7777778")
	assert.Contains(t, out, "journal:       3 records")
}
