package faulttrace

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/mmextents/core/addressspace"
	"github.com/sushant-115/mmextents/core/extents"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *addressspace.Manager {
	t.Helper()
	m := addressspace.NewManager(nil, zaptest.NewLogger(t), nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestReplay_CoalescesPerSpace(t *testing.T) {
	m := newTestManager(t)

	var b strings.Builder
	for i := 0; i < 32; i++ {
		fmt.Fprintf(&b, "0x%x 0x%x proc-a\n", 0x10000+i*0x1000, 0x70000000+i*0x1000)
		fmt.Fprintf(&b, "0x%x 0x%x proc-b\n", 0x10000+i*0x2000, 0x70000000+i*0x2000)
	}
	b.WriteString("0x10000 0x70000000 proc-a\n") // duplicate start
	faults, err := Parse(strings.NewReader(b.String()))
	require.NoError(t, err)

	r := NewReplayer(m, 0, 1, zaptest.NewLogger(t))
	stats, err := r.Replay(context.Background(), faults)
	require.NoError(t, err)
	require.Equal(t, int64(64), stats.Recorded)
	require.Equal(t, int64(1), stats.Failed)

	a, err := m.Find("proc-a")
	require.NoError(t, err)
	require.Equal(t, 1, a.Index().Count())

	bSpace, err := m.Find("proc-b")
	require.NoError(t, err)
	require.Equal(t, 32, bSpace.Index().Count())
}

func TestReplay_RateLimitedHonoursCancel(t *testing.T) {
	m := newTestManager(t)

	faults := make([]Fault, 100)
	for i := range faults {
		faults[i] = Fault{Line: i + 1, Phys: 0x1000, Virt: 0x1000}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewReplayer(m, 10, 1, nil)
	stats, err := r.Replay(ctx, faults)
	require.Error(t, err)
	require.Less(t, stats.Recorded+stats.Failed, int64(100))
}

func TestReplay_UnresolvableSpaceStartsNoWorkers(t *testing.T) {
	created := 0
	m := addressspace.NewManager(nil, zaptest.NewLogger(t), func() []extents.Option {
		created++
		if created > 1 {
			return []extents.Option{extents.WithPageSize(3)}
		}
		return nil
	})
	t.Cleanup(func() { _ = m.Close() })

	faults := []Fault{
		{Line: 1, Space: "alpha", Phys: 0x1000, Virt: 0x1000},
		{Line: 2, Space: "alpha", Phys: 0x2000, Virt: 0x2000},
		{Line: 3, Space: "beta", Phys: 0x1000, Virt: 0x1000},
	}

	r := NewReplayer(m, 0, 1, zaptest.NewLogger(t))
	stats, err := r.Replay(context.Background(), faults)
	require.ErrorIs(t, err, extents.ErrInvalidPageSize)
	require.Zero(t, stats.Recorded)
	require.Zero(t, stats.Failed)

	alpha, err := m.Find("alpha")
	require.NoError(t, err)
	require.Zero(t, alpha.Index().Count(), "no fault is replayed when a space cannot be resolved")
	require.Zero(t, alpha.Index().PagesRecorded())
}
