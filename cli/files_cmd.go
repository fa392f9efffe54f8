package cli

import (
	"github.com/spf13/cobra"
)

type UploadCommandOpts struct {
	To string
}

type DownloadCommandOpts struct {
	From string
	Dest string
}

func ListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ls [remote-path]",
		Short:   "List a remote folder",
		Aliases: []string{"list", "l"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			line := "ls"
			if len(args) == 1 {
				line += " " + args[0]
			}
			return s.Exec(cmd.Context(), line)
		},
	}
}

func UploadCommand() *cobra.Command {
	opts := &UploadCommandOpts{}
	cmd := &cobra.Command{
		Use:     "upload <local-path>",
		Short:   "Upload a local file or folder tree",
		Long:    "Upload a local file, or a folder with everything below it, into a remote folder. Paths starting with ./ are relative to the working directory.",
		Aliases: []string{"put", "up"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			if opts.To != "" {
				if err := s.Exec(cmd.Context(), "cd "+opts.To); err != nil {
					return err
				}
			}
			return s.Exec(cmd.Context(), "upload "+args[0])
		},
	}
	cmd.Flags().StringVar(&opts.To, "to", "", "Remote folder to upload into (default is the root folder)")
	return cmd
}

func DownloadCommand() *cobra.Command {
	opts := &DownloadCommandOpts{}
	cmd := &cobra.Command{
		Use:     "download <name>",
		Short:   "Download a remote file or folder tree",
		Aliases: []string{"get", "down"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			s.DownloadDir = opts.Dest
			if opts.From != "" {
				if err := s.Exec(cmd.Context(), "cd "+opts.From); err != nil {
					return err
				}
			}
			return s.Exec(cmd.Context(), "download "+args[0])
		},
	}
	cmd.Flags().StringVar(&opts.From, "from", "", "Remote folder holding the item (default is the root folder)")
	cmd.Flags().StringVar(&opts.Dest, "dest", "", "Local folder to write into (default is the working directory)")
	return cmd
}
