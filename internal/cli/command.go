// Package cli implements pressctl, the maintenance tool for a press
// storage file.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command defines a pressctl subcommand.
type Command struct {
	// Usage is shown after "pressctl" in help; its first word is the name.
	Usage string
	Short string
	// Args is the exact number of positional arguments Exec expects.
	Args int
	// Exec runs with an open environment and the positional arguments.
	Exec func(ctx context.Context, env *Env, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-16s %s", c.Usage, c.Short)
}

func printUsage(w io.Writer, commands []*Command, flags *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: pressctl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintln(w, c.HelpLine())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	var buf strings.Builder
	flags.SetOutput(&buf)
	flags.PrintDefaults()
	fmt.Fprint(w, buf.String())
}
