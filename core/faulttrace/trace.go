// Package faulttrace parses recorded page mapping traces and replays them
// into address spaces.
package faulttrace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sushant-115/mmextents/core/extents"
)

// Fault is one recorded page mapping.
type Fault struct {
	Line  int
	Space string
	Phys  extents.PhysAddr
	Virt  extents.VirtAddr
}

// Parse reads one fault per line: "<phys> <virt> [space]". Addresses are
// decimal or 0x-prefixed hex. Blank lines and '#' comments are skipped.
func Parse(r io.Reader) ([]Fault, error) {
	var faults []Fault
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("line %d: want \"<phys> <virt> [space]\", got %d fields", lineNo, len(fields))
		}
		phys, err := ParseAddr(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: phys: %w", lineNo, err)
		}
		virt, err := ParseAddr(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: virt: %w", lineNo, err)
		}
		f := Fault{Line: lineNo, Phys: extents.PhysAddr(phys), Virt: extents.VirtAddr(virt)}
		if len(fields) == 3 {
			f.Space = fields[2]
		}
		faults = append(faults, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return faults, nil
}

// ParseAddr parses a decimal or 0x-prefixed hexadecimal address.
func ParseAddr(s string) (uint64, error) {
	s = strings.ReplaceAll(s, "_", "")
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseUint(rest, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// GroupBySpace splits faults by space label, keeping trace order within each
// group. Faults without a label go to defaultSpace.
func GroupBySpace(faults []Fault, defaultSpace string) map[string][]Fault {
	groups := make(map[string][]Fault)
	for _, f := range faults {
		label := f.Space
		if label == "" {
			label = defaultSpace
		}
		groups[label] = append(groups[label], f)
	}
	return groups
}
