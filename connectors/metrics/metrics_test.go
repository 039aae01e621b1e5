package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azcost/domain/cloudspending"
	"azcost/domain/hierarchy"
)

func TestRecorderCountsStrategies(t *testing.T) {
	r := NewRecorder()
	var _ cloudspending.StrategyObserver = r

	r.ObserveStrategy("hierarchy", hierarchy.StrategyAncestors, cloudspending.OutcomeError)
	r.ObserveStrategy("hierarchy", hierarchy.StrategyAncestors, cloudspending.OutcomeError)
	r.ObserveStrategy("hierarchy", hierarchy.StrategyDescendantTree, cloudspending.OutcomeHit)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Strategies.WithLabelValues("hierarchy", "ancestors", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Strategies.WithLabelValues("hierarchy", "descendant-tree", "hit")))
}

func TestObserveRun(t *testing.T) {
	r := NewRecorder()
	at := time.Unix(1711843200, 0)
	r.ObserveRun(12, 1, 90*time.Second, false, at)
	assert.Equal(t, 12.0, testutil.ToFloat64(r.Records))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Skipped))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.LastSuccess))

	r.ObserveRun(12, 0, 60*time.Second, true, at)
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.LastSuccess))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveDelivery("batch", "failed")
	r.ObserveDelivery("fallback", "delivered")

	path := filepath.Join(t.TempDir(), "azcost.prom")
	require.NoError(t, r.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `azcost_ingestion_posts_total{outcome="failed",payload="batch"} 1`)
	assert.Contains(t, out, `azcost_ingestion_posts_total{outcome="delivered",payload="fallback"} 1`)
	assert.Contains(t, out, "# TYPE azcost_run_records gauge")
}
