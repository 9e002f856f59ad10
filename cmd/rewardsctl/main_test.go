package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardskit/analytics"
	"rewardskit/core"
	"rewardskit/engine"
)

func run(t *testing.T, store string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--store", store, "--user", "Alice", "--tz", "UTC"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRecordShowAndRedeem(t *testing.T) {
	store := filepath.Join(t.TempDir(), "rewards.json")

	out, err := run(t, store, "record", "question_bloom_4", "--meta", "resourceId=lectura-1:q1")
	require.NoError(t, err)
	var res engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Rejected)
	assert.Positive(t, res.PointsAwarded)

	out, err = run(t, store, "record", "QUESTION_BLOOM_4", "--meta", "resourceId=lectura-1:q1")
	require.NoError(t, err)
	var dup engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &dup))
	assert.NotEmpty(t, dup.Rejected, "same resource must not award twice")

	out, err = run(t, store, "show")
	require.NoError(t, err)
	var st core.Ledger
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, res.PointsAwarded, st.TotalPoints)
	assert.Len(t, st.History, 1)

	_, err = run(t, store, "redeem", "100000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient points")

	out, err = run(t, store, "redeem", "1", "--reason", "pista")
	require.NoError(t, err)
	assert.Contains(t, out, "redeemed 1 points")

	_, err = run(t, store, "redeem", "abc")
	assert.Error(t, err)
}

func TestExportResetImport(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "rewards.json")
	snapshot := filepath.Join(dir, "backup.json")

	_, err := run(t, store, "record", "NOTE_CREATED")
	require.NoError(t, err)
	_, err = run(t, store, "export", "-o", snapshot)
	require.NoError(t, err)

	_, err = run(t, store, "reset")
	require.Error(t, err, "reset requires confirmation")

	out, err := run(t, store, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")

	out, err = run(t, store, "import", snapshot, "--merge=false")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "replaced"), out)

	_, err = run(t, store, "import", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCSVAnalyticsAndKinds(t *testing.T) {
	store := filepath.Join(t.TempDir(), "rewards.json")
	_, err := run(t, store, "record", "QUESTION_BLOOM_4", "-m", "resourceId=doc:q", "-m", "bloomLevel=4")
	require.NoError(t, err)

	out, err := run(t, store, "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "\ufeff"), "csv must start with a BOM")
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(out, "\ufeff")), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(analytics.CSVHeader, ","), strings.TrimRight(lines[0], "\r"))

	out, err = run(t, store, "analytics")
	require.NoError(t, err)
	var rep analytics.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Engagement.TotalInteractions)

	out, err = run(t, store, "kinds")
	require.NoError(t, err)
	assert.Contains(t, out, "QUESTION_BLOOM_1")
	assert.Contains(t, out, "WEB_SEARCH_USED")
}

func TestParseMeta(t *testing.T) {
	md, err := parseMeta([]string{"resourceId=doc1", "bloomLevel=5", "score=8.5", "webSearch=true"})
	require.NoError(t, err)
	assert.Equal(t, "doc1", md["resourceId"])
	assert.Equal(t, int64(5), md["bloomLevel"])
	assert.Equal(t, 8.5, md["score"])
	assert.Equal(t, true, md["webSearch"])

	_, err = parseMeta([]string{"novalue"})
	assert.Error(t, err)
}

func TestInvalidTimezone(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--store", filepath.Join(t.TempDir(), "s.json"), "--tz", "Mars/Olympus", "show"})
	assert.Error(t, root.Execute())
}
