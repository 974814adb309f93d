package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog/lifelog/internal/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a config for a SQLite store in a temporary directory
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`store:
  backend: sqlite
  path: %s
  migrate_on_start: true
logging:
  level: error
  format: json
  output_path: stderr
`, filepath.Join(dir, "data", "lifelog.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFormulaCheck(t *testing.T) {
	out, err := run(t, "formula", "check", `series "steps"/1000`)
	require.NoError(t, err)
	assert.Contains(t, out, `formula: series "steps" / 1000`)
	assert.Contains(t, out, `reads:   series "steps"`)

	out, err = run(t, "formula", "check", "2", "*", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "(no series)")

	_, err = run(t, "formula", "check", `series "steps" +`)
	assert.Error(t, err)
}

// stamp renders an RFC3339 time the way the period command prints it
func stamp(t *testing.T, rfc string) string {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, rfc)
	require.NoError(t, err)
	return fmt.Sprintf("%d (%s)", parsed.Unix(), rfc)
}

func TestPeriod(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name  string
		args  []string
		start string
		end   string
		next  string
	}{
		{
			name:  "week from monday",
			args:  []string{"2024-03-06T10:00:00Z", "--period", "week"},
			start: "2024-03-04T00:00:00Z",
			end:   "2024-03-10T23:59:59Z",
			next:  "2024-03-11T00:00:00Z",
		},
		{
			name:  "week from sunday",
			args:  []string{"1709719200", "--period", "week", "--first-day", "sunday"},
			start: "2024-03-03T00:00:00Z",
			end:   "2024-03-09T23:59:59Z",
			next:  "2024-03-10T00:00:00Z",
		},
		{
			name:  "month in an offset zone",
			args:  []string{"2024-02-29T20:00:00Z", "--period", "month", "--timezone", "+09:00"},
			start: "2024-03-01T00:00:00+09:00",
			end:   "2024-03-31T23:59:59+09:00",
			next:  "2024-04-01T00:00:00+09:00",
		},
		{
			name:  "hour",
			args:  []string{"1709719230", "--period", "3600"},
			start: "2024-03-06T10:00:00Z",
			end:   "2024-03-06T10:59:59Z",
			next:  "2024-03-06T11:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"--config", cfg, "period"}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, "start:  "+stamp(t, tt.start))
			assert.Contains(t, out, "end:    "+stamp(t, tt.end))
			assert.Contains(t, out, "next:   "+stamp(t, tt.next))
		})
	}

	_, err := run(t, "--config", cfg, "period", "yesterday")
	assert.Error(t, err)
	_, err = run(t, "--config", cfg, "period", "0", "--period", "fortnight")
	assert.Error(t, err)
	_, err = run(t, "--config", cfg, "period", "0", "--timezone", "Mars/Olympus")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version 1")

	out, err = run(t, "--config", cfg, "migrate", "--version", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version 0")
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := writeConfig(t)

	a, err := (&options{configPath: src}).openApp(ctx)
	require.NoError(t, err)
	steps := models.NewSeries("steps")
	steps.Period = 86400
	steps, err = a.Engine.CreateSeries(ctx, steps)
	require.NoError(t, err)
	_, err = a.Engine.CreateSeries(ctx, &models.Series{Name: "km", Kind: models.KindSynthetic, Formula: `series "steps" / 1000`, Alpha: 0.5, History: 7})
	require.NoError(t, err)
	_, err = a.Engine.InsertDatapoint(ctx, steps.ID, 1709510400, 1709510400, 4000, 1)
	require.NoError(t, err)
	_, err = a.Engine.InsertDatapoint(ctx, steps.ID, 1709596800, 1709596800, 6000, 1)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	file := filepath.Join(t.TempDir(), "backup.snappy")
	_, err = run(t, "--config", src, "export", file)
	require.NoError(t, err)

	dst := writeConfig(t)
	out, err := run(t, "--config", dst, "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "datapoints")

	out, err = run(t, "--config", dst, "series", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "steps")
	assert.Contains(t, out, "km")
	assert.Contains(t, out, "synthetic")

	out, err = run(t, "--config", dst, "recompute", "steps")
	require.NoError(t, err)
	assert.Contains(t, out, "recomputed steps")

	out, err = run(t, "--config", dst, "recompute", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "recomputed km")

	_, err = run(t, "--config", dst, "recompute", "missing")
	assert.Error(t, err)
	_, err = run(t, "--config", dst, "recompute")
	assert.Error(t, err)

	out, err = run(t, "--config", dst, "zerofill")
	require.NoError(t, err)
	assert.Contains(t, out, "visited 0 series")
}
