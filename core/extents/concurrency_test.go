package extents

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestRecordPage_ConcurrentDisjointRanges runs N writers over non-adjacent
// ranges in random order. Each range must end up as its own extent holding
// exactly its own pages.
func TestRecordPage_ConcurrentDisjointRanges(t *testing.T) {
	const (
		workers        = 16
		pagesPerWorker = 32
		stride         = (pagesPerWorker + 1) * ps // one page gap between ranges
	)

	for round := 0; round < 5; round++ {
		x := newTestIndex(t)
		rng := rand.New(rand.NewSource(int64(round)))

		orders := make([][]int, workers)
		for w := range orders {
			orders[w] = rng.Perm(pagesPerWorker)
		}

		var g errgroup.Group
		for w := 0; w < workers; w++ {
			base := uint64(w) * stride
			order := orders[w]
			g.Go(func() error {
				for _, p := range order {
					phys := PhysAddr(base + uint64(p)*ps)
					virt := VirtAddr(0x4000_0000 + base + uint64(p)*ps)
					if _, err := x.RecordPage(phys, virt); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		require.Equal(t, workers, x.Count())
		require.Equal(t, uint64(workers*pagesPerWorker), x.PagesRecorded())

		snap, err := x.Dump()
		require.NoError(t, err)
		require.Len(t, snap.Extents, workers)

		ids := make(map[uint64]bool)
		for w, e := range snap.Extents {
			base := PhysAddr(uint64(w) * stride)
			require.Equal(t, base, e.StartPhys)
			require.Equal(t, base+PhysAddr(pagesPerWorker*ps)-1, e.EndPhys)
			require.Equal(t, uint64(pagesPerWorker), e.NumPages)
			require.False(t, ids[e.ID], "extent ids must be distinct")
			ids[e.ID] = true

			seen := make(map[PhysAddr]bool)
			for _, p := range e.Pages {
				require.GreaterOrEqual(t, p.Phys, e.StartPhys)
				require.LessOrEqual(t, p.Phys, e.EndPhys)
				require.Equal(t, VirtAddr(0x4000_0000+uint64(p.Phys)), p.Virt)
				require.False(t, seen[p.Phys], "duplicate page %s", p.Phys)
				seen[p.Phys] = true
			}
		}
	}
}

// TestRecordPage_ConcurrentSharedRun has every writer record a slice of one
// contiguous run in shuffled order; whatever the interleaving, the run
// collapses into a single extent.
func TestRecordPage_ConcurrentSharedRun(t *testing.T) {
	const (
		workers = 8
		pages   = 512
	)
	x := newTestIndex(t)
	perm := rand.New(rand.NewSource(7)).Perm(pages)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < pages; i += workers {
				p := uint64(perm[i])
				if _, err := x.RecordPage(PhysAddr(0x100000+p*ps), VirtAddr(0x200000+p*ps)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, x.Count())
	ext, err := x.Floor(0x100000)
	require.NoError(t, err)
	requireBounds(t, ext, 0x100000, 0x100000+pages*ps-1, 0x200000, 0x200000+pages*ps-1, pages)
}

// TestRecordPage_ConcurrentReaders keeps readers querying while writers grow
// the index; readers must always see a consistent floor relation.
func TestRecordPage_ConcurrentReaders(t *testing.T) {
	x := newTestIndex(t)

	var g errgroup.Group
	g.Go(func() error {
		for i := uint64(0); i < 256; i++ {
			if _, err := x.RecordPage(PhysAddr(i*2*ps), VirtAddr(i*2*ps)); err != nil {
				return err
			}
		}
		return nil
	})
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := uint64(0); i < 512; i++ {
				addr := PhysAddr(i * ps)
				ext, err := x.Floor(addr)
				if err != nil {
					return err
				}
				if ext != nil && ext.StartPhys() > addr {
					t.Errorf("floor(%s) returned extent starting at %s", addr, ext.StartPhys())
				}
				if _, err := x.Dump(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 256, x.Count())
}
