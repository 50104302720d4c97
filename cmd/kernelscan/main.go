// kernelscan parses an external kernel source file and reports the mutation
// classification of its arguments: which buffers the kernel writes, which it
// only reads, and which it uses in ways the static analysis cannot classify
// (and therefore treats as mutated).
//
// Usage:
//
//	kernelscan [-args=name1,name2,...] <kernel_source_file>
//
// By default all kernel parameters are analyzed.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelwrap/kernels"
)

var flagArgs = flag.String("args", "",
	"Comma-separated argument names to analyze. Default: all kernel parameters.")

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			Padding(0, 1, 0, 1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			Padding(0, 1, 0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers(headers...)
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() != 1 {
		klog.Errorf("Missing kernel source file to scan. See 'kernelscan -help'.")
		os.Exit(1)
	}
	source := string(must.M1(os.ReadFile(flag.Arg(0))))
	kernel := must.M1(kernels.New(source))

	names := kernel.Params()
	if *flagArgs != "" {
		names = strings.Split(*flagArgs, ",")
	}
	infos := must.M1(kernels.AnalyzeMutations(kernel, names))

	fmt.Println(titleStyle.Render(fmt.Sprintf("Kernel %q (%s of source, %d parameters)",
		kernel.Name(), humanize.Bytes(uint64(len(source))), len(kernel.Params()))))
	table := newTable("Argument", "Mutated", "Opaque Use", "Treated As")
	numMutated := 0
	for _, name := range names {
		info := infos[name]
		treatedAs := "read-only"
		if info.Mutated || info.UsedOpaquely {
			treatedAs = "mutated"
			numMutated++
		}
		table.Row(name, yesNo(info.Mutated), yesNo(info.UsedOpaquely), treatedAs)
	}
	fmt.Println(table.Render())
	fmt.Printf("%d of %d arguments will be cloned under functionalization.\n",
		numMutated, len(names))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
