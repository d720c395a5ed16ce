package base

import (
	"flag"
	"fmt"
	"strings"
)

// FlagSet wraps the standard flag set with help rendering.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet returns a new flag set.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{FlagSet: f}
}

// Help renders the flag set as a help text block.
func (f *FlagSet) Help() string {
	var b strings.Builder
	b.WriteString("\n\nCommand Options:\n")
	f.VisitAll(func(fl *flag.Flag) {
		b.WriteString(fmt.Sprintf("  -%s\n", fl.Name))
		usage := strings.ReplaceAll(fl.Usage, "\n", "\n      ")
		b.WriteString(fmt.Sprintf("      %s", usage))
		if fl.DefValue != "" && fl.DefValue != "false" {
			b.WriteString(fmt.Sprintf(" The default is %q.", fl.DefValue))
		}
		b.WriteString("\n")
	})
	return strings.TrimSuffix(b.String(), "\n")
}
