package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/cvd"
	"github.com/atlas-desktop/orderflow-engine/internal/legacymetrics"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

func TestTriggerThrottlesConsecutiveBroadcasts(t *testing.T) {
	bk := book.New("BTCUSDT", 100)
	bk.ApplySnapshot(types.Snapshot{LastUpdateID: 1})

	var emits int
	fakeNow := int64(0)
	g := New(250, func(types.MetricsEnvelope) { emits++ }, nil)
	g.nowFn = func() int64 { return fakeNow }

	in := Inputs{Book: bk, CvdEngine: cvd.New([]int{60, 300, 900}), Legacy: legacymetrics.NewComputer(60)}

	g.Trigger("BTCUSDT", ReasonTrade, in, 0)
	fakeNow = 100
	g.Trigger("BTCUSDT", ReasonTrade, in, 100) // within 250ms, suppressed
	fakeNow = 260
	g.Trigger("BTCUSDT", ReasonTrade, in, 260)

	require.Equal(t, 2, emits)
}

func TestTriggerLegacyMetricsNilWithoutBothSides(t *testing.T) {
	bk := book.New("BTCUSDT", 100)
	var captured types.MetricsEnvelope
	g := New(0, func(e types.MetricsEnvelope) { captured = e }, nil)

	in := Inputs{Book: bk, CvdEngine: cvd.New([]int{60, 300, 900}), Legacy: legacymetrics.NewComputer(60)}
	g.Trigger("BTCUSDT", ReasonDepth, in, 0)

	require.Nil(t, captured.LegacyMetrics)
}
