package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/joaooservit/oserv-cloud-storage/internal"
)

func ShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "shell",
		Short:   "Start the interactive shell",
		Aliases: []string{"sh", "repl"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd)
		},
	}
}

func runShell(cmd *cobra.Command) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	return s.Loop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}

// Loop reads commands from in until exit, end of input, cancellation or an
// authentication failure. Other command errors are shown and the loop goes on.
func (s *Session) Loop(ctx context.Context, in io.Reader, out io.Writer) error {
	header := pterm.DefaultHeader.WithFullWidth().Sprint("oserv shell")
	fmt.Fprintln(out, header)
	s.printer.Info("Connected", map[string]any{
		"backend": string(s.store.Kind),
		"root":    s.store.RootID,
	})
	s.printer.Println("Type help for the list of commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, s.prompt())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		err := s.Exec(ctx, scanner.Text())
		if err == nil {
			continue
		}
		if errors.Is(err, errQuit) {
			s.printer.Info("Bye", nil)
			return nil
		}
		if fatal(ctx, err) {
			return err
		}
		internal.Debug("command failed", internal.WithError(nil, err))
	}
	return scanner.Err()
}
