package faulttrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/mmextents/core/extents"
)

func TestParse_FormatsAndComments(t *testing.T) {
	faults, err := Parse(strings.NewReader(`
# phys      virt
0x1000      0x2000
8192        12288   proc-a   # decimal
0x0000_3000 0x4000  proc-a
`))
	require.NoError(t, err)
	require.Equal(t, []Fault{
		{Line: 3, Phys: 0x1000, Virt: 0x2000},
		{Line: 4, Space: "proc-a", Phys: 0x2000, Virt: 0x3000},
		{Line: 5, Space: "proc-a", Phys: 0x3000, Virt: 0x4000},
	}, faults)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("0x1000\n"))
	require.ErrorContains(t, err, "line 1")

	_, err = Parse(strings.NewReader("0x1000 0x2000\n0xZZ 0x1000\n"))
	require.ErrorContains(t, err, "line 2: phys")

	_, err = Parse(strings.NewReader("1 2 a b\n"))
	require.Error(t, err)
}

func TestGroupBySpace(t *testing.T) {
	groups := GroupBySpace([]Fault{
		{Phys: 0x1000},
		{Phys: 0x2000, Space: "b"},
		{Phys: 0x3000},
	}, DefaultSpace)
	require.Len(t, groups, 2)
	require.Equal(t, []extents.PhysAddr{0x1000, 0x3000}, []extents.PhysAddr{groups[DefaultSpace][0].Phys, groups[DefaultSpace][1].Phys})
	require.Len(t, groups["b"], 1)
}
