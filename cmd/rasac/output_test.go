package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/insights"
	"github.com/fyrsmithlabs/rasac/internal/trainqueue"
)

func TestWriteModelTable(t *testing.T) {
	list := &botstore.ModelList{
		Latest: "20240102-030405.tar.gz",
		Models: []botstore.ModelSummary{
			{
				ModelID:  "20240102-030405.tar.gz",
				TestAcc:  botstore.Metric{Value: 0.9, Valid: true},
				TrainAcc: botstore.Metric{Value: 0.95, Valid: true},
				Epochs:   40,
			},
			{ModelID: "20231231-235959.tar.gz"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeModelTable(&buf, list))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "MODEL")
	assert.Contains(t, lines[1], "20240102-030405.tar.gz *")
	assert.Contains(t, lines[1], "2024-01-02 03:04:05")
	assert.Contains(t, lines[1], "0.9000")
	assert.Contains(t, lines[1], "40")
	assert.NotContains(t, lines[2], "*")
	assert.Contains(t, lines[2], "-")
}

func TestWriteQueueTable(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	finished := now.Add(-50 * time.Minute)
	entries := []*trainqueue.Entry{
		{RequestID: "req-1", Status: trainqueue.StatusRunning, StartedAt: now.Add(-90 * time.Second)},
		{
			RequestID:  "req-2",
			Status:     trainqueue.StatusCompleted,
			ModelID:    "20240102-091000.tar.gz",
			StartedAt:  now.Add(-time.Hour),
			FinishedAt: &finished,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeQueueTable(&buf, entries, now))
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "req-1")
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[1], "1m 30s")
	assert.Contains(t, lines[2], "completed")
	assert.Contains(t, lines[2], "10m 0s")
	assert.Contains(t, lines[2], "20240102-091000.tar.gz")
}

func testSeries(n int) *curve.Series {
	s := &curve.Series{}
	for i := 0; i < n; i++ {
		s.Epochs = append(s.Epochs, i+1)
		s.TrainLoss = append(s.TrainLoss, 1/float64(i+1))
		s.TestLoss = append(s.TestLoss, 1/float64(i+1)+0.1)
		s.TrainAcc = append(s.TrainAcc, float64(i)/float64(n))
		s.TestAcc = append(s.TestAcc, float64(i)/float64(n)-0.05)
	}
	return s
}

func TestPrintCurve(t *testing.T) {
	t.Run("best epoch", func(t *testing.T) {
		loss := 0.1234
		resp := &insights.Response{
			ModelID:   "20240102-030405.tar.gz",
			Available: true,
			Patience:  10,
			BestEpoch: 17,
			Insights:  &curve.Insights{BestTestLoss: &loss},
		}

		var buf bytes.Buffer
		printCurve(&buf, testSeries(20), resp)
		out := buf.String()

		assert.Contains(t, out, "20240102-030405.tar.gz  20 epochs")
		assert.Contains(t, out, "train loss")
		assert.Contains(t, out, "test acc")
		assert.Contains(t, out, "best epoch 17 (patience 10), test loss 0.1234")
	})

	t.Run("unavailable", func(t *testing.T) {
		resp := &insights.Response{
			ModelID:  "20240102-030405.tar.gz",
			Patience: 10,
			Reason:   "not enough epochs",
		}

		var buf bytes.Buffer
		printCurve(&buf, testSeries(5), resp)

		assert.Contains(t, buf.String(), "not enough epochs")
		assert.NotContains(t, buf.String(), "best epoch")
	})
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader(tt.input))
		var out bytes.Buffer
		cmd.SetOut(&out)

		assert.Equal(t, tt.want, confirm(cmd, "Delete?"), "input %q", tt.input)
		assert.Equal(t, "Delete? [y/N] ", out.String())
	}
}

func TestRootCommandTree(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"models", "curve", "train", "abort", "queue", "nlu", "console", "serve", "cache", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestDescribeComponents(t *testing.T) {
	cfg := map[string]any{
		"pipeline": []any{
			map[string]any{"name": "WhitespaceTokenizer"},
			map[string]any{"name": "DIETClassifier", "epochs": 100},
		},
		"policies": []any{
			map[string]any{"name": "TEDPolicy", "epochs": 40},
		},
	}
	assert.Equal(t, "WhitespaceTokenizer, DIETClassifier (100 epochs), TEDPolicy (40 epochs)", describeComponents(cfg))
	assert.Empty(t, describeComponents(map[string]any{}))
}

func TestApplyFlags(t *testing.T) {
	t.Cleanup(func() { apiURL, logLevel = "", "" })

	cfg := config.NewDefaultConfig()
	cfg.Logging.Level = "error"
	wantURL := cfg.API.BaseURL
	applyFlags(cfg)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, wantURL, cfg.API.BaseURL)

	apiURL, logLevel = "http://rasa.internal:5002", "debug"
	applyFlags(cfg)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://rasa.internal:5002", cfg.API.BaseURL)
}

func TestNewLogger_OTELNeedsTelemetry(t *testing.T) {
	_, err := newLogger(config.LoggingConfig{OTEL: true}, outputServer, nil)
	assert.ErrorIs(t, err, errOTELLogsUnavailable)

	logger, err := newLogger(config.LoggingConfig{Level: "error"}, outputServer, nil)
	require.NoError(t, err)
	_ = logger.Close()
}
