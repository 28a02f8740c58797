package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/testutil"
)

// useConfig points the global viper at a fresh config file for one test.
func useConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tally.db")
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  path: " + dbPath + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	viper.Reset()
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())
	t.Cleanup(viper.Reset)
	return dbPath
}

const threeBoxConfig = `
report:
  expected_boxes: 3
  page_count: 3
extraction:
  expected_signatures: 0
pipeline:
  workers: 2
`

func writeLayouts(t *testing.T, pages ...*layout.Page) string {
	t.Helper()
	dir := t.TempDir()
	for _, p := range pages {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		name := filepath.Join(dir, fmt.Sprintf("page_%03d.json", p.Number))
		require.NoError(t, os.WriteFile(name, data, 0o600))
	}
	return dir
}

func threeBoxLayouts(t *testing.T) string {
	t.Helper()
	return writeLayouts(t,
		testutil.NewPage(1).Row("1", "50", "50").Row("2", "20", "20").Row("4", "30", "30").Row("5", "7", "7").Row("8", "5", "5").Build(),
		testutil.NewPage(2).Row("1", "100", "105").Row("2", "12", "12").Row("4", "18", "18").Row("5", "7", "7").Row("8", "2", "2").Build(),
		testutil.NewPage(3).Row("1", "11", "11").Row("2", "10", "10").Row("4", "15", "15").Row("5", "40", "").Row("8", "3", "3").Build(),
	)
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReconcileCmd_ThreeBoxes(t *testing.T) {
	useConfig(t, threeBoxConfig)
	layouts := threeBoxLayouts(t)
	outPath := filepath.Join(t.TempDir(), "run.json")

	out, err := execute(t, reconcileCmd(), "--layouts", layouts, "--no-progress", "--out", outPath)
	require.NoError(t, err)

	assert.Contains(t, out, "C1 이재명")
	assert.Contains(t, out, "166")
	assert.Contains(t, out, "3 of 3")
	assert.Contains(t, out, "box-003 C5")
	assert.Contains(t, out, "Every expected box is included in the totals")
	assert.Contains(t, out, "Wrote "+outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var doc struct {
		Report struct {
			Totals           map[string]int64 `json:"totals"`
			DiscrepancyCount int              `json:"discrepancy_count"`
		} `json:"report"`
		Run struct {
			Status string `json:"status"`
		} `json:"run"`
		Discrepancies []struct {
			BoxID     string `json:"box_id"`
			Direction string `json:"direction"`
		} `json:"discrepancies"`
		Audit []json.RawMessage `json:"audit"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]int64{"1": 166, "2": 42, "4": 63, "5": 54, "8": 10}, doc.Report.Totals)
	assert.Equal(t, 1, doc.Report.DiscrepancyCount)
	assert.Equal(t, "completed", doc.Run.Status)
	require.Len(t, doc.Discrepancies, 1)
	assert.Equal(t, "box-002", doc.Discrepancies[0].BoxID)
	assert.Equal(t, "human_higher", doc.Discrepancies[0].Direction)
	// extract, detect and reconcile per box plus one aggregate entry
	assert.Len(t, doc.Audit, 10)
}

func TestStoredRunCommands(t *testing.T) {
	useConfig(t, threeBoxConfig)
	_, err := execute(t, reconcileCmd(), "--layouts", threeBoxLayouts(t), "--no-progress")
	require.NoError(t, err)

	t.Run("report shows latest run", func(t *testing.T) {
		out, err := execute(t, reportCmd())
		require.NoError(t, err)
		assert.Contains(t, out, "completed")
		assert.Contains(t, out, "166")
	})

	t.Run("report for one box", func(t *testing.T) {
		out, err := execute(t, reportCmd(), "--box", "box-002")
		require.NoError(t, err)
		assert.Contains(t, out, "human verification supersedes machine count 100 (delta +5)")
	})

	t.Run("audit verifies and filters", func(t *testing.T) {
		out, err := execute(t, auditCmd(), "--verify", "--box", "box-003")
		require.NoError(t, err)
		assert.Contains(t, out, "Audit chain intact (10 entries)")
		assert.Contains(t, out, "box-003")
		assert.NotContains(t, out, "box-001")
	})

	t.Run("runs lists the run", func(t *testing.T) {
		out, err := execute(t, runsCmd())
		require.NoError(t, err)
		assert.Contains(t, out, "completed")
		assert.Contains(t, out, "override")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, reportCmd(), "--run", "no-such-run")
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestReconcileCmd_IncompleteRun(t *testing.T) {
	useConfig(t, threeBoxConfig)
	layouts := writeLayouts(t,
		testutil.NewPage(1).Row("1", "50", "50").Build(),
	)

	out, err := execute(t, reconcileCmd(), "--layouts", layouts, "--no-progress", "--no-store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "box-002, box-003")
	assert.Contains(t, out, "Report incomplete: 2 boxes were never accounted for")
}

func TestReconcileCmd_ExcludedBoxIsListed(t *testing.T) {
	useConfig(t, threeBoxConfig)
	layouts := writeLayouts(t,
		testutil.NewPage(1).Row("1", "50", "50").Build(),
		testutil.NewPage(2).Row("1", "10", "10").Row("6", "3", "3").Build(),
		testutil.NewPage(3).Row("1", "11", "11").Build(),
	)

	out, err := execute(t, reconcileCmd(), "--layouts", layouts, "--no-progress", "--no-store")
	require.NoError(t, err)
	assert.Contains(t, out, "1 boxes excluded from the totals")
	assert.Contains(t, out, "box-002 (page 2): unknown_candidate_id")
	assert.NotContains(t, out, "Every expected box")
}

func TestReconcileCmd_FlagErrors(t *testing.T) {
	useConfig(t, threeBoxConfig)

	tests := []struct {
		name   string
		errMsg string
		args   []string
	}{
		{name: "no source", args: []string{}, errMsg: "one of --layouts or --images is required"},
		{name: "both sources", args: []string{"--layouts", "a", "--images", "b"}, errMsg: "not both"},
		{name: "unknown engine", args: []string{"--images", "b", "--engine", "paddle"}, errMsg: `unknown recognition engine "paddle"`},
		{name: "bad strategy", args: []string{"--layouts", "a", "--strategy", "average"}, errMsg: "pipeline.strategy"},
		{name: "empty directory", args: []string{"--layouts", t.TempDir()}, errMsg: common.ErrNoPages.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, reconcileCmd(), append(tt.args, "--no-progress")...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMigrateCmd_Status(t *testing.T) {
	dbPath := useConfig(t, "")

	_, err := execute(t, migrateCmd())
	require.NoError(t, err)

	out, err := execute(t, migrateCmd(), "--status")
	require.NoError(t, err)
	assert.Contains(t, out, dbPath)
	assert.Contains(t, out, "Current version: 4")
}

func TestCandidatesCmd(t *testing.T) {
	useConfig(t, "")
	out, err := execute(t, candidatesCmd())
	require.NoError(t, err)
	assert.Contains(t, out, "C8 송진호")
	assert.NotContains(t, out, "C3")
}
