package extents

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Snapshot is a read-only diagnostic copy of an index.
type Snapshot struct {
	Count         int              `json:"count"`
	PagesRecorded uint64           `json:"pages_recorded"`
	PageSize      uint64           `json:"page_size"`
	Policy        string           `json:"policy"`
	Extents       []ExtentSnapshot `json:"extents"`
}

// Dump copies every extent in ascending start order under the structural
// read lock. It never mutates the index.
func (x *ExtentIndex) Dump() (*Snapshot, error) {
	if x == nil {
		return nil, ErrInvalidIndex
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrIndexClosed
	}

	snap := &Snapshot{
		Count:         x.count,
		PagesRecorded: x.pagesRecorded,
		PageSize:      x.pageSize,
		Policy:        x.policy.String(),
		Extents:       make([]ExtentSnapshot, 0, x.tree.Len()),
	}
	x.tree.Ascend(func(e *Extent) bool {
		snap.Extents = append(snap.Extents, e.Snapshot())
		return true
	})
	return snap, nil
}

// TotalPages sums the pages over all extents in the snapshot.
func (s *Snapshot) TotalPages() uint64 {
	var n uint64
	for _, e := range s.Extents {
		n += e.NumPages
	}
	return n
}

// WriteTo renders the snapshot as a text table.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	fmt.Fprintf(cw, "extents: %d  pages recorded: %d  page size: %d  policy: %s\n",
		s.Count, s.PagesRecorded, s.PageSize, s.Policy)
	for i, e := range s.Extents {
		fmt.Fprintf(cw, "node %d: extent %d phys [%s-%s] virt [%s-%s] pages %d\n",
			i, e.ID, e.StartPhys, e.EndPhys, e.StartVirt, e.EndVirt, e.NumPages)
		for _, p := range e.Pages {
			fmt.Fprintf(cw, "\tphys %s virt %s\n", p.Phys, p.Virt)
		}
	}
	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, cw.w.Flush()
}

func (s *Snapshot) String() string {
	var b strings.Builder
	_, _ = s.WriteTo(&b)
	return b.String()
}

// LogDump writes a summary of every extent to the index logger at debug
// level.
func (x *ExtentIndex) LogDump() error {
	snap, err := x.Dump()
	if err != nil {
		return err
	}
	x.logger.Debug("extent table", zap.Int("count", snap.Count), zap.Uint64("pages_recorded", snap.PagesRecorded))
	for i, e := range snap.Extents {
		x.logger.Debug("extent",
			zap.Int("node", i),
			zap.Uint64("extent_id", e.ID),
			zap.Stringer("start_phys", e.StartPhys),
			zap.Stringer("end_phys", e.EndPhys),
			zap.Stringer("start_virt", e.StartVirt),
			zap.Stringer("end_virt", e.EndVirt),
			zap.Uint64("num_pages", e.NumPages),
		)
	}
	return nil
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
