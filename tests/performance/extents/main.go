package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/sushant-115/mmextents/core/addressspace"
	"github.com/sushant-115/mmextents/core/extents"
	"github.com/sushant-115/mmextents/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	runs := flag.Int("runs", 256, "number of disjoint contiguous runs")
	pagesPerRun := flag.Int("pages", 64, "pages per run")
	maxWorkers := flag.Int("workers", 20, "concurrent writers")
	flag.Parse()

	zlogger, _ := logger.New(logger.Config{Level: "error"})
	space, err := addressspace.New("perf", nil, zlogger)
	if err != nil {
		log.Fatalf("failed to create address space: %v", err)
	}
	defer space.Close()

	start := time.Now()
	write(space, *runs, *pagesPerRun, *maxWorkers)
	elapsed := time.Since(start)
	total := *runs * *pagesPerRun
	zlogger.Info("write phase done",
		zap.Int("pages", total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("pages_per_sec", float64(total)/elapsed.Seconds()),
	)
	log.Printf("recorded %d pages in %s (%.0f pages/s)", total, elapsed, float64(total)/elapsed.Seconds())

	read(space, *runs, *pagesPerRun, *maxWorkers)
}

// runBase leaves one page of gap between runs so they never coalesce.
func runBase(run, pagesPerRun int) uint64 {
	return uint64(run*(pagesPerRun+1)) * extents.DefaultPageSize
}

func write(space *addressspace.AddressSpace, runs, pagesPerRun, maxWorkers int) {
	ctx := context.Background()
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, maxWorkers)

	// Pages of all runs are shuffled together so writers interleave.
	order := rand.Perm(runs * pagesPerRun)
	for _, n := range order {
		sem <- struct{}{}
		run, page := n/pagesPerRun, n%pagesPerRun
		phys := runBase(run, pagesPerRun) + uint64(page)*extents.DefaultPageSize
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			_, err := space.RecordPage(ctx, extents.PhysAddr(phys), extents.VirtAddr(0x7f0000000000+phys))
			if err != nil {
				log.Println("record error: ", err)
			}
		}()
	}
	wg.Wait()
}

func read(space *addressspace.AddressSpace, runs, pagesPerRun, maxWorkers int) {
	ctx := context.Background()
	if got := space.Index().Count(); got != runs {
		log.Printf("MISMATCH: expected %d extents, found %d", runs, got)
	}

	wg := sync.WaitGroup{}
	sem := make(chan struct{}, maxWorkers)
	for run := 0; run < runs; run++ {
		sem <- struct{}{}
		base := extents.PhysAddr(runBase(run, pagesPerRun))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			probe := base + extents.PhysAddr(uint64(pagesPerRun/2)*extents.DefaultPageSize)
			ext, err := space.Lookup(ctx, probe)
			if err != nil {
				log.Println("lookup error: ", err)
				return
			}
			if ext == nil {
				log.Println("NOT FOUND: ", probe)
				return
			}
			if ext.StartPhys() != base || ext.NumPages() != uint64(pagesPerRun) {
				log.Printf("MISMATCH: run at %s has start %s and %d pages", base, ext.StartPhys(), ext.NumPages())
			}
		}()
	}
	wg.Wait()
}
