package sharder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/models"
)

// fakeCounter reports a fixed page count per range width, modelling a
// steady post rate so recursive splitting is exercised predictably.
type fakeCounter struct {
	pagesPerHour int
}

func (f *fakeCounter) CountPages(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange) (int, error) {
	hours := r.End.Sub(r.Start).Hours()
	return int(hours * float64(f.pagesPerHour)), nil
}

func utcHour(h int) time.Time {
	return time.Date(2026, 1, 1, h, 0, 0, 0, time.UTC)
}

func TestSharder_Plan_LeafWhenUnderCap(t *testing.T) {
	s := New(&fakeCounter{pagesPerHour: 1}, arbor.NewLogger())

	shard, err := s.Plan(context.Background(), nil, "golang", models.TimeRange{Start: utcHour(0), End: utcHour(10)})
	require.NoError(t, err)
	require.True(t, shard.IsLeaf())
	require.Equal(t, 10, shard.EstimatedPageCount)
}

func TestSharder_Plan_SplitsWhenOverCap(t *testing.T) {
	s := New(&fakeCounter{pagesPerHour: 10}, arbor.NewLogger())

	shard, err := s.Plan(context.Background(), nil, "golang", models.TimeRange{Start: utcHour(0), End: utcHour(24)})
	require.NoError(t, err)
	require.False(t, shard.IsLeaf())

	leaves := shard.Leaves()
	require.Greater(t, len(leaves), 1)

	for _, leaf := range leaves {
		width := leaf.Range.End.Sub(leaf.Range.Start)
		require.True(t, leaf.EstimatedPageCount <= CAP || width <= MinShardWidth)
	}
}

func TestSharder_Plan_LeavesPartitionOriginalRange(t *testing.T) {
	s := New(&fakeCounter{pagesPerHour: 10}, arbor.NewLogger())

	start, end := utcHour(0), utcHour(24)
	shard, err := s.Plan(context.Background(), nil, "golang", models.TimeRange{Start: start, End: end})
	require.NoError(t, err)

	leaves := shard.Leaves()
	require.Equal(t, start, leaves[0].Range.Start)
	require.Equal(t, end, leaves[len(leaves)-1].Range.End)

	for i := 1; i < len(leaves); i++ {
		require.Equal(t, leaves[i-1].Range.End, leaves[i].Range.Start)
	}
}

func TestSharder_Plan_OneHourRangeIsAlwaysLeaf(t *testing.T) {
	s := New(&fakeCounter{pagesPerHour: 1000}, arbor.NewLogger())

	shard, err := s.Plan(context.Background(), nil, "golang", models.TimeRange{Start: utcHour(0), End: utcHour(1)})
	require.NoError(t, err)
	require.True(t, shard.IsLeaf())
	require.Greater(t, shard.EstimatedPageCount, CAP)
}

func TestSharder_Plan_RejectsInvalidRange(t *testing.T) {
	s := New(&fakeCounter{pagesPerHour: 1}, arbor.NewLogger())

	_, err := s.Plan(context.Background(), nil, "golang", models.TimeRange{Start: utcHour(5), End: utcHour(1)})
	require.Error(t, err)
}

func TestMaxDepth_MatchesLogBound(t *testing.T) {
	require.Equal(t, 0, MaxDepth(time.Hour))
	require.Equal(t, 5, MaxDepth(24*time.Hour))
}
