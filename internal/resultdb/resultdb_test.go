package resultdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planthopper/planthopper/internal/control"
)

// The dispatcher records through this interface; keep the db compatible.
var _ control.SessionRecorder = (*ResultDB)(nil)

func openTestDB(t *testing.T) *ResultDB {
	t.Helper()
	rdb, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRecordAndFetchSession(t *testing.T) {
	rdb := openTestDB(t)

	started := time.Now()
	finished := started.Add(3 * time.Second)
	out := control.Outcome{Success: true, Reason: "fire complete"}
	require.NoError(t, rdb.RecordSession("sess-1", "plant2", 2, out, started, finished))

	row, err := rdb.Session("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", row.SessionID)
	assert.Equal(t, "plant2", row.PlantID)
	assert.Equal(t, 2, row.MarkerID)
	assert.True(t, row.Success)
	assert.Equal(t, "fire complete", row.Reason)
}

func TestDuplicateSessionIDRejected(t *testing.T) {
	rdb := openTestDB(t)

	out := control.Outcome{Success: false, Reason: "scan timeout"}
	now := time.Now()
	require.NoError(t, rdb.RecordSession("sess-1", "plant1", 1, out, now, now))
	assert.Error(t, rdb.RecordSession("sess-1", "plant1", 1, out, now, now))
}

func TestSessionCommandsReturnSendOrder(t *testing.T) {
	rdb := openTestDB(t)

	now := time.Now()
	out := control.Outcome{Success: true, Reason: "fire complete"}
	require.NoError(t, rdb.RecordSession("sess-1", "plant3", 3, out, now, now))

	lines := []string{
		"cmd:WATER;found:false;dx:0.000;dz:0.000;pitch:9;sweep:2;\n",
		"cmd:WATER;found:true;dx:0.120;dz:0.800;pitch:9;\n",
		"cmd:WATER;found:true;dx:0.118;dz:0.800;pitch:9;\n",
	}
	for i, line := range lines {
		require.NoError(t, rdb.RecordCommand("sess-1", line, now.Add(time.Duration(i)*100*time.Millisecond)))
	}

	got, err := rdb.SessionCommands("sess-1")
	require.NoError(t, err)
	assert.Equal(t, lines, got)
}

func TestMoistureLatestWins(t *testing.T) {
	rdb := openTestDB(t)

	now := time.Now()
	require.NoError(t, rdb.RecordMoisture("plant1", 0.31, now))
	require.NoError(t, rdb.RecordMoisture("plant1", 0.62, now.Add(time.Minute)))
	require.NoError(t, rdb.RecordMoisture("plant2", 0.45, now))

	got, err := rdb.LatestMoisture("plant1")
	require.NoError(t, err)
	assert.InDelta(t, 0.62, got, 1e-9)

	_, err = rdb.LatestMoisture("plant9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
