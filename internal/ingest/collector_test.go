package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triangulate/internal/ir"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCollectSkipsBlankCommentAndMalformed(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "meta-a.jsonl", `{"name":"A","prong":"p1"}

# comment line
{not json}
{"name":"B","ratio":0.5}
{"schema":"v1"}
{"name":"C","prong":"p1"}
`)
	writeLog(t, dir, "other.jsonl", `{"name":"Z"}`)

	c := NewCollector(Options{Prefix: "meta-"}, nil)
	batch, err := c.Collect(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, batch.Files, 1)
	assert.Equal(t, 5, batch.LinesTotal)

	obs := batch.Observations()
	require.Len(t, obs, 3)
	assert.Equal(t, "A", obs[0].Key)
	assert.Equal(t, "B", obs[1].Key)
	assert.Equal(t, ir.Number("0.5"), obs[1].Fields["ratio"])
	assert.Equal(t, "C", obs[2].Key)
	assert.Equal(t, 7, obs[2].Source.Line)

	require.Len(t, batch.Malformed, 2)
	assert.Equal(t, 4, batch.Malformed[0].Source.Line)
	assert.True(t, batch.Malformed[1].MissingKey)
	assert.Equal(t, 1, batch.DroppedCount())
}

func TestCollectObservationLogsKeepEveryLine(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "meta-a.jsonl", `{"name":"OrderPlaced","kind":"event","prong":"p1"}
{"name":"Checkout","kind":"component","prong":"p1"}
{"name":"orders","kind":"domain","prong":"p1"}
{"name":"Refund","prong":"p1","score":0.8}
`)

	batch, err := NewCollector(Options{Prefix: "meta-", DefaultKind: KindObservation}, nil).
		Collect(context.Background(), dir)
	require.NoError(t, err)

	assert.Empty(t, batch.Malformed)
	require.Len(t, batch.Records, 4)
	obs := batch.Observations()
	require.Len(t, obs, 4)
	assert.Equal(t, ir.String("event"), obs[0].Fields["kind"])
	assert.Equal(t, ir.String("component"), obs[1].Fields["kind"])
	assert.Equal(t, ir.String("domain"), obs[2].Fields["kind"])
	assert.Equal(t, ir.Number("0.8"), obs[3].Fields["score"])
}

func TestCollectCountsInferredOrigins(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "meta-semantic.jsonl", `{"name":"A"}
{"name":"B","prong":"explicit"}`)

	batch, err := NewCollector(Options{Prefix: "meta-"}, nil).Collect(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.InferredOrigins)
	obs := batch.Observations()
	assert.Equal(t, "semantic", obs[0].Origin)
	assert.Equal(t, "explicit", obs[1].Origin)
}

func TestCollectOrderIndependentOfSchedule(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"meta-c.jsonl", "meta-a.jsonl", "meta-b.jsonl", "meta-d.jsonl"} {
		writeLog(t, dir, name, `{"name":"`+name+`","prong":"`+name+`"}
{"name":"shared","prong":"`+name+`"}`)
	}

	forward, err := NewCollector(Options{Prefix: "meta-", Concurrency: 1}, nil).Collect(context.Background(), dir)
	require.NoError(t, err)
	reversed, err := NewCollector(Options{Prefix: "meta-", Concurrency: 3, Reverse: true}, nil).Collect(context.Background(), dir)
	require.NoError(t, err)

	if diff := cmp.Diff(forward, reversed); diff != "" {
		t.Errorf("batch depends on read order (-forward +reversed):\n%s", diff)
	}
	assert.Equal(t, filepath.Join(dir, "meta-a.jsonl"), forward.Files[0])
}

func TestCollectNoInput(t *testing.T) {
	_, err := NewCollector(Options{Prefix: "meta-"}, nil).Collect(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, IsNoInput(err))
}

func TestCollectMissingDir(t *testing.T) {
	_, err := NewCollector(Options{}, nil).Collect(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.False(t, IsNoInput(err))
}

func TestCollectStagedDefaultKind(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "link-staged-a.jsonl", `{"command":"link","from":"a","toDomain":"d","toModule":"m","toType":"Event","toName":"E"}
{"command":"link-external","from":"a","targetName":"T"}`)

	batch, err := NewCollector(Options{Prefix: "link-staged-", DefaultKind: KindLink}, nil).Collect(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, KindLink, batch.Records[0].Kind())
	assert.Equal(t, KindLinkExternal, batch.Records[1].Kind())
}
