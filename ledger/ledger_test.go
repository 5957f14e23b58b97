package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func seedRuns(t *testing.T, l *Ledger) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, l.Record(ctx, Run{
		ID:                  "baseline",
		CreatedAt:           base,
		Input:               "piano.wav",
		OutputDir:           "results/baseline",
		Threshold:           0.6,
		Seed:                42,
		Renderer:            "sine",
		TranscriptionStatus: "success",
		RenderStatus:        "success",
		MetricsStatus:       "success",
		Metrics:             map[string]float64{"spectral_mse": 1.5, "sdr_proxy": 12},
	}))
	require.NoError(t, l.Record(ctx, Run{
		ID:        "high-threshold",
		CreatedAt: base.Add(time.Minute),
		Input:     "piano.wav",
		OutputDir: "results/a1",
		Threshold: 0.9,
		Humanize:  true,
		Seed:      42,
		Metrics:   map[string]float64{"spectral_mse": 2.25, "mfcc_dist": 3},
	}))
}

func TestRecordAndLoadRuns(t *testing.T) {
	l := openTestLedger(t)
	seedRuns(t, l)

	runs, err := l.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "baseline", runs[0].ID)
	assert.Equal(t, 0.6, runs[0].Threshold)
	assert.False(t, runs[0].Humanize)
	assert.Equal(t, int64(42), runs[0].Seed)
	assert.Equal(t, "sine", runs[0].Renderer)
	assert.Equal(t, map[string]float64{"spectral_mse": 1.5, "sdr_proxy": 12}, runs[0].Metrics)

	assert.Equal(t, "high-threshold", runs[1].ID)
	assert.True(t, runs[1].Humanize)
	assert.Empty(t, runs[1].Renderer)
}

func TestRecordReplacesMetrics(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	run := Run{ID: "r1", Input: "a.wav", OutputDir: "out", Metrics: map[string]float64{"a": 1, "b": 2}}
	require.NoError(t, l.Record(ctx, run))
	run.Metrics = map[string]float64{"a": 5}
	require.NoError(t, l.Record(ctx, run))

	runs, err := l.Runs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, map[string]float64{"a": 5}, runs[0].Metrics)
}

func TestRecordRequiresID(t *testing.T) {
	l := openTestLedger(t)
	assert.Error(t, l.Record(context.Background(), Run{}))
}

func TestRunsReportsMissingIDs(t *testing.T) {
	l := openTestLedger(t)
	seedRuns(t, l)

	runs, err := l.Runs(context.Background(), "baseline", "nope")
	assert.Error(t, err)
	assert.Len(t, runs, 1)
}

func TestCompare(t *testing.T) {
	l := openTestLedger(t)
	seedRuns(t, l)

	cmp, err := l.Compare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mfcc_dist", "sdr_proxy", "spectral_mse"}, cmp.Columns)

	var buf bytes.Buffer
	require.NoError(t, cmp.WriteCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"run", "threshold", "humanize", "seed", "mfcc_dist", "sdr_proxy", "spectral_mse"},
		{"baseline", "0.6", "false", "42", "", "12", "1.5"},
		{"high-threshold", "0.9", "true", "42", "3", "", "2.25"},
	}, records)

	var table bytes.Buffer
	require.NoError(t, cmp.WriteTable(&table))
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "run"))
	assert.Contains(t, lines[1], "1.5000")
}

func TestCompareSubset(t *testing.T) {
	l := openTestLedger(t)
	seedRuns(t, l)

	cmp, err := l.Compare(context.Background(), "high-threshold")
	require.NoError(t, err)
	require.Len(t, cmp.Runs, 1)
	assert.Equal(t, []string{"mfcc_dist", "spectral_mse"}, cmp.Columns)
}
