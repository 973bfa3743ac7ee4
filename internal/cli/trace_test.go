package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/testutil"
)

func TestTraceTimeline(t *testing.T) {
	db := tempDB(t)
	setupAllotment(t, db)

	out, err := runCLI(t, "--db", db, "trace")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] INV grantMinterRole by admin at 2020-09-13T12:26:40Z")
	assert.Contains(t, out, "[3] COMP Success")
	assert.Contains(t, out, "EVT AllotmentCreated")
	assert.Contains(t, out, "Operations:    3 (0 failed)")
}

func TestTraceFilters(t *testing.T) {
	db := tempDB(t)
	id := setupAllotment(t, db)
	_, err := runCLI(t, "--db", db, "--as", "ops", "--at", "1600000200", "allot", "bob", "1630000000", "1")
	require.NoError(t, err)
	_, err = runCLI(t, "--db", db, "--as", "ops", "--at", "1600000300", "extend", id, "1625000000")
	require.NoError(t, err)

	t.Run("action", func(t *testing.T) {
		out, err := runCLI(t, "--db", db, "--format", "json", "trace", "--action", "allotTokens")
		require.NoError(t, err)
		result := decodeTrace(t, out)
		assert.EqualValues(t, 2, result["invocations"])
	})

	t.Run("schedule", func(t *testing.T) {
		out, err := runCLI(t, "--db", db, "--format", "json", "trace", "--schedule", id)
		require.NoError(t, err)
		result := decodeTrace(t, out)
		// The allotment that created it and the extension.
		assert.EqualValues(t, 2, result["invocations"])
	})

	t.Run("caller", func(t *testing.T) {
		out, err := runCLI(t, "--db", db, "--format", "json", "trace", "--caller", "ops")
		require.NoError(t, err)
		assert.EqualValues(t, 3, decodeTrace(t, out)["invocations"])
	})

	t.Run("time window", func(t *testing.T) {
		out, err := runCLI(t, "--db", db, "--format", "json", "trace",
			"--since", "1600000100", "--until", "2020-09-13T12:30:00Z")
		require.NoError(t, err)
		// 1600000100 and 1600000200; the extension at 1600000300 is after 12:30.
		assert.EqualValues(t, 2, decodeTrace(t, out)["invocations"])
	})

	t.Run("inverted window", func(t *testing.T) {
		_, err := runCLI(t, "--db", db, "trace", "--since", "1600000300", "--until", "1600000000")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("no match", func(t *testing.T) {
		out, err := runCLI(t, "--db", db, "trace", "--action", "mint")
		require.NoError(t, err)
		assert.Equal(t, "No records found.\n", out)
	})
}

func TestTraceFailed(t *testing.T) {
	db := tempDB(t)
	setupAllotment(t, db)
	_, err := runCLI(t, "--db", db, "--as", "alice", "--at", "1610000000", "release")
	require.Error(t, err)

	out, err := runCLI(t, "--db", db, "trace", "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "[4] INV release by alice")
	assert.Contains(t, out, "[4] COMP TOO_EARLY")
	assert.NotContains(t, out, "[1] INV")
	assert.Contains(t, out, "Operations:    1 (1 failed)")
}

func TestTraceRequest(t *testing.T) {
	db := tempDB(t)
	_, err := runCLI(t, "--db", db, "--as", "admin", "--at", "1600000000",
		"invoke", "grantAlloter", "--args", `{"account":"ops"}`)
	require.NoError(t, err)

	records := readRecords(t, db)
	require.Len(t, records, 1)
	requestID := records[0].Invocation.RequestID

	out, err := runCLI(t, "--db", db, "-v", "trace", "--request", requestID)
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for Request: "+requestID)
	assert.Contains(t, out, "Args: {account=ops}")
	assert.Contains(t, out, "EVT RoleGranted")
}

func decodeTrace(t *testing.T, out string) map[string]any {
	t.Helper()
	data := decodeResponse(t, out).Data.(map[string]any)
	return data["stats"].(map[string]any)
}

func readRecords(t *testing.T, db string) []ir.Record {
	t.Helper()
	st := testutil.OpenStore(t, db)
	records, err := st.ReadRecords(t.Context())
	require.NoError(t, err)
	return records
}
