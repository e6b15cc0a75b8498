package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sushant-115/mmextents/core/addressspace"
	"github.com/sushant-115/mmextents/core/extents"
	"github.com/sushant-115/mmextents/core/faulttrace"
)

var errQuit = errors.New("quit")

const helpText = `Commands:
  new [label]            create an address space and switch to it
  use <label|id>         switch address space
  spaces                 list address spaces
  destroy <label|id>     tear down an address space
  record <phys> <virt>   record a mapped page
  floor <addr>           extent with greatest start <= addr
  ceiling <addr>         extent with least start >= addr
  lookup <addr>          extent covering addr
  remove <start>         remove the extent starting at start
  count                  number of extents
  dump                   print every extent and page
  replay <file>          replay a fault trace
  help                   show this text
  quit                   exit
`

// shell executes one command line at a time against a Manager.
type shell struct {
	manager  *addressspace.Manager
	replayer *faulttrace.Replayer
	current  *addressspace.AddressSpace
	out      io.Writer
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "new":
		label := ""
		if len(args) > 0 {
			label = args[0]
		}
		space, err := s.manager.Create(ctx, label)
		if err != nil {
			return err
		}
		s.current = space
		fmt.Fprintf(s.out, "created %s (%s)\n", space.Label(), space.ID())
		return nil
	case "use":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		space, err := s.manager.Find(args[0])
		if err != nil {
			return err
		}
		s.current = space
		fmt.Fprintf(s.out, "using %s\n", space.Label())
		return nil
	case "spaces":
		for _, space := range s.manager.List() {
			marker := " "
			if space == s.current {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %-20s %s extents=%d\n", marker, space.Label(), space.ID(), space.Index().Count())
		}
		return nil
	case "destroy":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		space, err := s.manager.Find(args[0])
		if err != nil {
			return err
		}
		if err := s.manager.Destroy(space.ID()); err != nil {
			return err
		}
		if space == s.current {
			s.current = nil
		}
		fmt.Fprintf(s.out, "destroyed %s\n", space.Label())
		return nil
	case "replay":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		return s.replay(ctx, args[0])
	}

	if s.current == nil {
		return errors.New("no address space selected; use 'new' or 'use'")
	}
	switch cmd {
	case "record":
		if err := wantArgs(cmd, args, 2); err != nil {
			return err
		}
		phys, err := faulttrace.ParseAddr(args[0])
		if err != nil {
			return err
		}
		virt, err := faulttrace.ParseAddr(args[1])
		if err != nil {
			return err
		}
		ext, err := s.current.RecordPage(ctx, extents.PhysAddr(phys), extents.VirtAddr(virt))
		if err != nil {
			return err
		}
		s.printExtent(ext)
	case "floor", "ceiling", "lookup":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		addr, err := faulttrace.ParseAddr(args[0])
		if err != nil {
			return err
		}
		var ext *extents.Extent
		switch cmd {
		case "floor":
			ext, err = s.current.Floor(ctx, extents.PhysAddr(addr))
		case "ceiling":
			ext, err = s.current.Ceiling(ctx, extents.PhysAddr(addr))
		default:
			ext, err = s.current.Lookup(ctx, extents.PhysAddr(addr))
		}
		if err != nil {
			return err
		}
		if ext == nil {
			fmt.Fprintln(s.out, "none")
			return nil
		}
		s.printExtent(ext)
	case "remove":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		start, err := faulttrace.ParseAddr(args[0])
		if err != nil {
			return err
		}
		if err := s.current.RemoveAt(ctx, extents.PhysAddr(start)); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "removed")
	case "count":
		fmt.Fprintf(s.out, "%d extents, %d pages recorded\n", s.current.Index().Count(), s.current.Index().PagesRecorded())
	case "dump":
		snap, err := s.current.Dump(ctx)
		if err != nil {
			return err
		}
		_, err = snap.WriteTo(s.out)
		return err
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	return nil
}

func (s *shell) replay(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	faults, err := faulttrace.Parse(f)
	if err != nil {
		return err
	}
	stats, err := s.replayer.Replay(ctx, faults)
	fmt.Fprintf(s.out, "replayed %d faults: %d recorded, %d failed\n", len(faults), stats.Recorded, stats.Failed)
	return err
}

func (s *shell) printExtent(ext *extents.Extent) {
	snap := ext.Snapshot()
	fmt.Fprintf(s.out, "extent %d phys [%s-%s] virt [%s-%s] pages %d\n",
		snap.ID, snap.StartPhys, snap.EndPhys, snap.StartVirt, snap.EndVirt, snap.NumPages)
}

func wantArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", cmd, n, len(args))
	}
	return nil
}
