package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gracecr/sacred/internal/cli/config"
	"github.com/Gracecr/sacred/internal/events"
	"github.com/Gracecr/sacred/internal/observer"
	"github.com/Gracecr/sacred/internal/state"
	"github.com/Gracecr/sacred/internal/testutil"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// loadTestConfig points the CLI configuration at statePath, as the root
// command would for --state and --output.
func loadTestConfig(t *testing.T, statePath, outputMode string) {
	t.Helper()
	t.Chdir(t.TempDir())
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("state", "", "")
	flags.StringP("output", "o", "", "")
	require.NoError(t, flags.Set("state", statePath))
	require.NoError(t, flags.Set("output", outputMode))

	_, err := config.LoadConfig("", flags)
	require.NoError(t, err)
}

// seedStore creates a store at path holding a completed run "run-ok" with
// a metric and an artifact, and a failed run "run-failed".
func seedStore(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Dir(path)

	store := state.NewStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(path))
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Migrate())

	artifact, _ := testutil.WriteFile(t, dir, "model.txt", "weights")
	result := 0.25

	err := store.InSession(ctx, func(sess *state.Session) error {
		for i, token := range []string{"run-ok", "run-failed"} {
			obs := observer.New(sess)
			if _, err := obs.StartedEvent(ctx, core.StartedEvent{
				ExperimentInfo: core.ExperimentInfo{Name: "mnist", BaseDir: dir},
				Command:        "train",
				HostInfo:       core.HostInfo{Hostname: "box"},
				StartTime:      testStart.Add(time.Duration(i) * time.Hour),
				Token:          token,
			}); err != nil {
				return err
			}
			if token == "run-failed" {
				if err := obs.FailedEvent(ctx, core.FailedEvent{FailTime: testStart.Add(61 * time.Minute), FailTrace: []string{"Traceback", "ValueError"}}); err != nil {
					return err
				}
				continue
			}
			if err := obs.ArtifactEvent(ctx, core.ArtifactEvent{Name: "model.txt", Filename: artifact}); err != nil {
				return err
			}
			if err := obs.LogMetrics(ctx, map[string]core.MetricSeries{
				"loss": {Steps: []float64{0, 1, 2}, Values: []float64{0.9, 0.5, 0.25}, Timestamps: []time.Time{testStart, testStart, testStart}},
			}, nil); err != nil {
				return err
			}
			if err := obs.CompletedEvent(ctx, core.CompletedEvent{StopTime: testStart.Add(90 * time.Second), Result: &result}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// execute runs cmd with args and returns its standard output.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupSeeded(t *testing.T, outputMode string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	seedStore(t, path)
	loadTestConfig(t, path, outputMode)
	return path
}

func TestRunsList(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		tokens []string
	}{
		{"all newest first", []string{"list"}, []string{"run-failed", "run-ok"}},
		{"by status", []string{"list", "--status", "completed"}, []string{"run-ok"}},
		{"by experiment", []string{"list", "--experiment", "other"}, []string{}},
		{"limit", []string{"list", "-n", "1"}, []string{"run-failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupSeeded(t, "json")

			out, err := execute(t, NewRunsCommand(), tt.args...)
			require.NoError(t, err)

			var runs []core.RunSummary
			require.NoError(t, json.Unmarshal([]byte(out), &runs))
			tokens := make([]string, 0, len(runs))
			for _, r := range runs {
				tokens = append(tokens, r.Token)
			}
			assert.Equal(t, tt.tokens, tokens)
		})
	}
}

func TestRunsList_Markdown(t *testing.T) {
	setupSeeded(t, "markdown")

	out, err := execute(t, NewRunsCommand(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "## Runs (2)")
	assert.Contains(t, out, "| run-ok")
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "1 minute, 30 seconds")
}

func TestRunsList_InvalidStatus(t *testing.T) {
	setupSeeded(t, "json")

	_, err := execute(t, NewRunsCommand(), "list", "--status", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestRunsShow(t *testing.T) {
	setupSeeded(t, "json")

	out, err := execute(t, NewRunsCommand(), "show", "run-failed")
	require.NoError(t, err)

	var doc core.RunDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, core.RunStatusFailed, doc.Status)
	assert.Equal(t, "Traceback\nValueError", doc.FailTrace)
	assert.Equal(t, "mnist", doc.Experiment.Name)

	setupSeeded(t, "markdown")
	out, err = execute(t, NewRunsCommand(), "show", "run-ok")
	require.NoError(t, err)
	assert.Contains(t, out, "## Run run-ok")
	assert.Contains(t, out, "model.txt")
	assert.Contains(t, out, "loss")

	_, err = execute(t, NewRunsCommand(), "show", "missing")
	require.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestRunsDelete(t *testing.T) {
	setupSeeded(t, "json")

	_, err := execute(t, NewRunsCommand(), "delete", "run-ok")
	require.NoError(t, err)

	out, err := execute(t, NewRunsCommand(), "list")
	require.NoError(t, err)
	var runs []core.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-failed", runs[0].Token)

	_, err = execute(t, NewRunsCommand(), "delete", "run-failed", "missing")
	require.ErrorIs(t, err, core.ErrRunNotFound)

	// the failing delete rolled back the whole batch
	out, err = execute(t, NewRunsCommand(), "list")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 1)
}

func TestMetricsCommand(t *testing.T) {
	setupSeeded(t, "json")

	out, err := execute(t, NewMetricsCommand(), "run-ok")
	require.NoError(t, err)
	var series []core.MetricDocument
	require.NoError(t, json.Unmarshal([]byte(out), &series))
	require.Len(t, series, 1)
	assert.Equal(t, []float64{0.9, 0.5, 0.25}, series[0].Values)

	out, err = execute(t, NewMetricsCommand(), "run-failed")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestMetricRow(t *testing.T) {
	row := metricRow(core.MetricDocument{
		Name:      "acc",
		Units:     "meter",
		Values:    []float64{0.1, 0.75},
		Steps:     []float64{0, 10},
		DependsOn: []string{"loss", "lr"},
	})
	assert.Equal(t, []string{"acc", "meter", "2", "10", "0.75", "loss, lr"}, row)

	assert.Equal(t, []string{"empty", "", "0", "", "", ""}, metricRow(core.MetricDocument{Name: "empty"}))
}

func TestStatsCommand(t *testing.T) {
	setupSeeded(t, "json")

	out, err := execute(t, NewStatsCommand())
	require.NoError(t, err)
	var stats core.StoreStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.Runs)
	assert.Equal(t, int64(1), stats.Experiments)
	assert.Equal(t, int64(1), stats.Hosts)
	assert.Equal(t, int64(1), stats.Artifacts)
	assert.Equal(t, int64(1), stats.Metrics)

	setupSeeded(t, "markdown")
	out, err = execute(t, NewStatsCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "Driver")
	assert.Contains(t, out, "sqlite")
}

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	loadTestConfig(t, path, "markdown")

	out, err := execute(t, NewMigrateCommand(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, FormatVersion(0))

	out, err = execute(t, NewMigrateCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "version 4")

	out, err = execute(t, NewMigrateCommand(), "down")
	require.NoError(t, err)
	assert.Contains(t, out, "version 3")

	out, err = execute(t, NewMigrateCommand(), "up")
	require.NoError(t, err)
	assert.Contains(t, out, "version 4")
}

func writeEventLog(t *testing.T, dir, name, token string) string {
	t.Helper()
	result := 1.5

	var evs []events.Event
	for _, v := range []any{
		core.StartedEvent{
			ExperimentInfo: core.ExperimentInfo{Name: "replayed", BaseDir: dir},
			Command:        "main",
			HostInfo:       core.HostInfo{Hostname: "worker"},
			StartTime:      testStart,
			Token:          token,
		},
		core.CompletedEvent{StopTime: testStart.Add(time.Minute), Result: &result},
	} {
		ev, err := events.Encode(v)
		require.NoError(t, err)
		evs = append(evs, ev)
	}

	format, err := events.FormatForPath(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, events.EncodeAll(&buf, format, evs))

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestIngestCommand(t *testing.T) {
	logs := t.TempDir()
	single := writeEventLog(t, logs, "a.jsonl", "ingested-a")
	writeEventLog(t, logs, filepath.Join("more", "b.yaml"), "ingested-b")

	statePath := filepath.Join(t.TempDir(), "runs.db")
	loadTestConfig(t, statePath, "json")

	out, err := execute(t, NewIngestCommand(), single, filepath.Join(logs, "more"))
	require.NoError(t, err)

	var results []struct {
		Token   string `json:"run_token"`
		Events  int    `json:"events"`
		Skipped bool   `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "ingested-a", results[0].Token)
	assert.Equal(t, 2, results[0].Events)
	assert.Equal(t, "ingested-b", results[1].Token)

	// the whole tree again: a.jsonl and b.yaml are skipped
	out, err = execute(t, NewIngestCommand(), logs)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Skipped)
	}

	out, err = execute(t, NewRunsCommand(), "list")
	require.NoError(t, err)
	var runs []core.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 2)
}

func TestIngestCommand_TestRail(t *testing.T) {
	var mu sync.Mutex
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.RawQuery {
		case "/api/v2/get_current_user/0":
			_, _ = io.WriteString(w, `{"id":3}`)
		case "/api/v2/get_run/8":
			_, _ = io.WriteString(w, `{"id":8}`)
		case "/api/v2/add_result_for_case/8/21":
			posted = append(posted, r.URL.RawQuery)
			_, _ = io.WriteString(w, `{"id":1}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"unknown"}`)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Chdir(dir)
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	cfgFile := filepath.Join(dir, "sacred.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`state_path: runs.db
output: json
testrail:
  url: `+srv.URL+`
  user: ci
  api_key: key
  case_id: 21
  run_id: 8
`), 0o600))
	_, err := config.LoadConfig(cfgFile, nil)
	require.NoError(t, err)

	logPath := writeEventLog(t, t.TempDir(), "a.jsonl", "posted-a")
	_, err = execute(t, NewIngestCommand(), logPath)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/v2/add_result_for_case/8/21"}, posted)
}

func TestIngestCommand_Errors(t *testing.T) {
	loadTestConfig(t, filepath.Join(t.TempDir(), "runs.db"), "json")

	_, err := execute(t, NewIngestCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch")

	_, err = execute(t, NewIngestCommand(), filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewRunsCommand(), "runs", nil},
		{NewMetricsCommand(), "metrics <token>", nil},
		{NewStatsCommand(), "stats", nil},
		{NewMigrateCommand(), "migrate", nil},
		{NewIngestCommand(), "ingest [path]...", []string{"watch"}},
		{NewServeCommand(), "serve", []string{"port", "watch"}},
		{NewQueryCommand(), "query [SQL]", []string{"input"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short)
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}

	runs := NewRunsCommand()
	names := make([]string, 0)
	for _, sub := range runs.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show", "delete"}, names)
}
