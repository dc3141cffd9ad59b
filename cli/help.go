package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const maxWidth = 72

// SetStyledHelp applies the appshell help layout to a command and, through
// inheritance, to its subcommands.
func SetStyledHelp(cmd *cobra.Command) {
	cmd.SetHelpFunc(styledHelpFunc)
}

type helpStyle struct {
	out     *termenv.Output
	title   termenv.Color
	section termenv.Color
	command termenv.Color
	flag    termenv.Color
}

func newHelpStyle(w io.Writer) helpStyle {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()
	return helpStyle{
		out:     out,
		title:   p.Color("208"),
		section: p.Color("214"),
		command: p.Color("39"),
		flag:    p.Color("141"),
	}
}

func (s helpStyle) render(text string, c termenv.Color) string {
	return s.out.String(text).Foreground(c).String()
}

// wrapText wraps text to width, preserving existing line breaks.
func wrapText(text string, width int) string {
	var result []string
	for _, paragraph := range strings.Split(text, "\n") {
		if len(paragraph) <= width {
			result = append(result, paragraph)
			continue
		}
		var line string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case line == "":
				line = word
			case len(line)+1+len(word) <= width:
				line += " " + word
			default:
				result = append(result, line)
				line = word
			}
		}
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}

// parseDescription splits a long description into text and examples.
func parseDescription(long string) (description string, examples string) {
	for _, marker := range []string{"\nExamples:\n", "\nExample:\n"} {
		if idx := strings.Index(long, marker); idx != -1 {
			return strings.TrimSpace(long[:idx]), strings.TrimSpace(long[idx+len(marker):])
		}
	}
	return long, ""
}

func formatFlagName(f *pflag.Flag) string {
	if f.Shorthand != "" {
		return fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	}
	return fmt.Sprintf("    --%s", f.Name)
}

func styledHelpFunc(cmd *cobra.Command, args []string) {
	w := cmd.OutOrStdout()
	if w == nil {
		w = os.Stdout
	}
	writeHelp(w, cmd)
}

func writeHelp(w io.Writer, cmd *cobra.Command) {
	s := newHelpStyle(w)

	fmt.Fprintln(w, " "+s.out.String(strings.ToUpper(cmd.CommandPath())).Bold().Foreground(s.title).String())

	description, examples := cmd.Short, cmd.Example
	if cmd.Long != "" {
		var parsed string
		description, parsed = parseDescription(cmd.Long)
		if examples == "" {
			examples = parsed
		}
	}
	if cmd.Short != "" {
		fmt.Fprintln(w, " "+s.out.String(cmd.Short).Italic().String())
	}
	if description != "" && description != cmd.Short {
		fmt.Fprintln(w)
		for _, line := range strings.Split(wrapText(description, maxWidth-2), "\n") {
			fmt.Fprintln(w, " "+line)
		}
	}

	if cmd.Runnable() || cmd.HasSubCommands() {
		fmt.Fprintln(w, "\n "+s.render("USAGE", s.section))
		if cmd.Runnable() {
			fmt.Fprintf(w, " %s\n", cmd.UseLine())
		}
		if cmd.HasSubCommands() {
			fmt.Fprintf(w, " %s [command]\n", cmd.CommandPath())
		}
	}

	if cmd.HasAvailableSubCommands() {
		maxLen := 0
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() && len(sub.Name()) > maxLen {
				maxLen = len(sub.Name())
			}
		}
		fmt.Fprintln(w, "\n "+s.render("COMMANDS", s.section))
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				padding := strings.Repeat(" ", maxLen-len(sub.Name()))
				fmt.Fprintf(w, " %s%s  %s\n", s.render(sub.Name(), s.command), padding, sub.Short)
			}
		}
	}

	var flags []*pflag.Flag
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			flags = append(flags, f)
		}
	})
	if len(flags) > 0 {
		fmt.Fprintln(w, "\n "+s.render("FLAGS", s.section))
		maxLen := 0
		for _, f := range flags {
			if n := len(formatFlagName(f)); n > maxLen {
				maxLen = n
			}
		}
		for _, f := range flags {
			name := formatFlagName(f)
			usage := f.Usage
			if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "[]" {
				usage += fmt.Sprintf(" (default: %s)", f.DefValue)
			}
			fmt.Fprintf(w, " %s%s  %s\n", s.render(name, s.flag), strings.Repeat(" ", maxLen-len(name)), usage)
		}
	}

	if examples != "" {
		fmt.Fprintln(w, "\n "+s.render("EXAMPLES", s.section))
		for _, line := range strings.Split(examples, "\n") {
			fmt.Fprintln(w, " "+line)
		}
	}

	if cmd.HasSubCommands() {
		fmt.Fprintf(w, "\n Use \"%s [command] --help\" for more information.\n", cmd.CommandPath())
	}
}
