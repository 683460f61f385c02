package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	r := New()
	r.RuleApplied("replace_flag_call")
	r.RuleApplied("replace_flag_call")
	r.RuleApplied("remove_nested_block")
	r.ConstraintRejected("replace_flag_call")
	r.FileDone(StatusChanged)
	r.FileDone(StatusUnchanged)
	r.FileDone(StatusUnchanged)
	r.SetCompiledQueries(6)

	assert.InDelta(t, 2, testutil.ToFloat64(r.applied.WithLabelValues("replace_flag_call")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.applied.WithLabelValues("remove_nested_block")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.rejected.WithLabelValues("replace_flag_call")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.files.WithLabelValues(StatusUnchanged)), 0)
	assert.InDelta(t, 6, testutil.ToFloat64(r.compiledQueries), 0)

	want := `
# HELP prune_files_total Files processed, by outcome.
# TYPE prune_files_total counter
prune_files_total{status="changed"} 1
prune_files_total{status="unchanged"} 2
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(want), "prune_files_total"))
}

func TestRecordersAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.RuleApplied("r")
	assert.Equal(t, 1, testutil.CollectAndCount(a.applied))
	assert.Equal(t, 0, testutil.CollectAndCount(b.applied))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := New()
	r.RuleApplied("remove_nested_block")
	path := filepath.Join(t.TempDir(), "prune.prom")

	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `prune_rules_applied_total{rule="remove_nested_block"} 1`)
	assert.Contains(t, string(data), "prune_compiled_queries 0")
}

func TestWriteTextfileBadPath(t *testing.T) {
	t.Parallel()

	r := New()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "prune.prom"))
	assert.Error(t, err)
}
