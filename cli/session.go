package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/backend/remote"
	"github.com/joaooservit/oserv-cloud-storage/cli/output"
	"github.com/joaooservit/oserv-cloud-storage/internal"
	"github.com/joaooservit/oserv-cloud-storage/pkg/metrics"
	"github.com/joaooservit/oserv-cloud-storage/pkg/mirror"
	"github.com/joaooservit/oserv-cloud-storage/pkg/navigator"
)

var (
	// errQuit ends the shell loop.
	errQuit = errors.New("quit")
	// errItemsFailed marks a transfer whose failures were already listed.
	errItemsFailed = errors.New("transfer incomplete")
)

// Session is one authenticated connection to the remote store with its
// navigation context. Every front end drives it through Exec.
type Session struct {
	cfg       *internal.AppConfig
	store     *remote.Store
	nav       *navigator.Navigator
	engine    *mirror.Engine
	collector *metrics.TransferCollector
	progress  *output.FileProgress
	printer   *output.Printer

	// DownloadDir receives downloads; empty means the working directory.
	DownloadDir string
}

func newSession(cfg *internal.AppConfig, store *remote.Store, printer *output.Printer) (*Session, error) {
	policy, err := mirror.ParseContainerPolicy(cfg.ContainerPolicy)
	if err != nil {
		return nil, err
	}
	opt := mirror.DefaultOptions()
	opt.ChunkSize = cfg.ChunkSize
	opt.ChunkThreshold = cfg.ChunkThreshold
	opt.ChunkRetries = cfg.ChunkRetries
	opt.ContainerPolicy = policy

	s := &Session{
		cfg:       cfg,
		store:     store,
		nav:       navigator.New(store.Dir, store.RootID),
		collector: metrics.NewTransferCollector(""),
		printer:   printer,
	}
	var progress mirror.Observer
	if cfg.ShowProgress {
		s.progress = output.NewFileProgress()
		progress = s.progress
	}
	s.engine = mirror.New(store.Dir, opt, mirror.Observers(s.collector, progress))
	return s, nil
}

// openSession loads credentials, opens the configured store and acquires
// the session's single bearer token.
func openSession(cmd *cobra.Command) (*Session, error) {
	cfg := GetAppConfig(cmd)
	if cfg == nil {
		return nil, fmt.Errorf("client config unavailable")
	}
	creds, err := backend.NewTomlCredentialStorage(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	store, err := remote.Open(cmd.Context(), cfg, creds, remote.Options{})
	if err != nil {
		return nil, err
	}
	return newSession(cfg, store, output.NewPrinterTo(cmd.OutOrStdout()))
}

type commandFunc func(ctx context.Context, s *Session, arg string) error

type shellCommand struct {
	name    string
	aliases []string
	usage   string
	short   string
	needArg bool
	run     commandFunc
}

// commands is shared by the shell, the one-shot subcommands and scripts.
var commands []shellCommand

func init() {
	commands = []shellCommand{
		{name: "ls", aliases: []string{"list", "dir"}, usage: "ls [path]", short: "List the current folder or path", run: cmdList},
		{name: "cd", usage: "cd <name|..|/|a/b>", short: "Change the current folder", needArg: true, run: cmdCd},
		{name: "pwd", usage: "pwd", short: "Show the current folder", run: cmdPwd},
		{name: "upload", aliases: []string{"put"}, usage: "upload <local-path>", short: "Upload a file or folder into the current folder", needArg: true, run: cmdUpload},
		{name: "download", aliases: []string{"get"}, usage: "download <name>", short: "Download a file or folder from the current folder", needArg: true, run: cmdDownload},
		{name: "stats", usage: "stats [reset]", short: "Show transfer counters for this session", run: cmdStats},
		{name: "help", aliases: []string{"?"}, usage: "help", short: "Show this help", run: cmdHelp},
		{name: "exit", aliases: []string{"quit", "q"}, usage: "exit", short: "Leave the shell", run: cmdExit},
	}
}

func lookupCommand(name string) (shellCommand, bool) {
	name = strings.ToLower(name)
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return shellCommand{}, false
}

// splitLine separates the command word from its argument. The argument is
// the rest of the line so names may contain spaces.
func splitLine(line string) (string, string) {
	line = strings.TrimSpace(line)
	name, arg, _ := strings.Cut(line, " ")
	return name, strings.TrimSpace(arg)
}

// Exec runs one command line. Failures are printed and returned; the caller
// decides whether they end the session.
func (s *Session) Exec(ctx context.Context, line string) error {
	name, arg := splitLine(line)
	if name == "" {
		return nil
	}
	c, ok := lookupCommand(name)
	if !ok {
		err := fmt.Errorf("unknown command %q", name)
		s.printer.Error(err.Error()+", type help for a list", nil)
		return err
	}
	if c.needArg && arg == "" {
		err := fmt.Errorf("usage: %s", c.usage)
		s.printer.Warn(err.Error(), nil)
		return err
	}
	err := c.run(ctx, s, arg)
	if err != nil && !errors.Is(err, errQuit) && !errors.Is(err, errItemsFailed) {
		s.report(err)
	}
	return err
}

func (s *Session) report(err error) {
	switch {
	case errors.Is(err, navigator.ErrAtRoot):
		s.printer.Warn("Already at the root folder", nil)
	case backend.IsAuth(err):
		s.printer.Error("Authentication failed, the session cannot continue", map[string]any{"error": err})
	case backend.IsNotFound(err):
		s.printer.Error(err.Error(), nil)
	default:
		if re, ok := backend.AsRemote(err); ok && re.Status != 0 {
			s.printer.Error(re.Op+" failed", map[string]any{"status": re.Status, "error": re.Body})
			return
		}
		s.printer.Error(err.Error(), nil)
	}
}

// fatal reports whether err must end an interactive session.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, errQuit) || backend.IsAuth(err) || ctx.Err() != nil
}

func (s *Session) prompt() string {
	return "oserv:" + s.nav.Pwd() + "> "
}

func cmdList(ctx context.Context, s *Session, arg string) error {
	pos := s.nav.Position()
	if arg != "" {
		var err error
		if pos, err = s.nav.Resolve(ctx, arg); err != nil {
			return err
		}
	}
	nodes, err := s.store.Dir.ListChildren(ctx, pos.ContainerID)
	if err != nil {
		return err
	}
	s.printer.Info("Contents of "+pos.DisplayPath, nil)
	return output.PrintNodeTable(s.printer.Writer(), nodes)
}

func cmdCd(ctx context.Context, s *Session, arg string) error {
	if err := s.nav.Cd(ctx, arg); err != nil {
		return err
	}
	s.printer.Info("Current folder: "+s.nav.Pwd(), nil)
	return nil
}

func cmdPwd(_ context.Context, s *Session, _ string) error {
	s.printer.Println(s.nav.Pwd())
	return nil
}

func cmdUpload(ctx context.Context, s *Session, arg string) error {
	path, err := localPath(arg)
	if err != nil {
		return err
	}
	s.printer.Info("Uploading "+path+" to "+s.nav.Pwd(), nil)
	report, err := s.transfer(func() (*mirror.Report, error) {
		return s.engine.Upload(ctx, path, s.nav.Position().ContainerID)
	})
	return s.finish(report, err)
}

func cmdDownload(ctx context.Context, s *Session, arg string) error {
	dest := s.DownloadDir
	if dest == "" {
		dest = "."
	}
	dest, err := localPath(dest)
	if err != nil {
		return err
	}
	s.printer.Info("Downloading "+arg+" into "+dest, nil)
	report, err := s.transfer(func() (*mirror.Report, error) {
		return s.engine.Download(ctx, arg, s.nav.Position().ContainerID, dest)
	})
	return s.finish(report, err)
}

func cmdStats(_ context.Context, s *Session, arg string) error {
	if strings.EqualFold(arg, "reset") {
		s.collector.Reset()
		s.printer.Info("Transfer counters reset", nil)
		return nil
	}
	return output.PrintTransferStats(s.printer.Writer(), "Session transfers", s.collector.Snapshot())
}

func cmdHelp(_ context.Context, s *Session, _ string) error {
	for _, c := range commands {
		s.printer.Println(fmt.Sprintf("  %-22s %s", c.usage, c.short))
	}
	return nil
}

func cmdExit(context.Context, *Session, string) error {
	return errQuit
}

func (s *Session) transfer(run func() (*mirror.Report, error)) (*mirror.Report, error) {
	if s.progress != nil {
		if err := s.progress.Start(); err != nil {
			internal.Warn("progress display unavailable", internal.WithError(nil, err))
		}
		defer s.progress.Stop()
	}
	return run()
}

// finish prints the summary and exports metrics. A report with failures
// becomes an error so one-shot commands exit non-zero.
func (s *Session) finish(report *mirror.Report, err error) error {
	if report != nil && (err == nil || report.Files+report.Containers+len(report.Failures) > 0) {
		output.PrintReport(s.printer, report)
	}
	if path := s.cfg.MetricsTextfile; path != "" {
		if werr := s.collector.WriteTextfile(path); werr != nil {
			internal.Warn("could not write metrics textfile", internal.WithError(internal.Fields{
				internal.FieldLocalPath: path,
			}, werr))
		}
	}
	if err != nil {
		return err
	}
	if report != nil && !report.OK() {
		return fmt.Errorf("%d item(s) failed: %w", len(report.Failures), errItemsFailed)
	}
	return nil
}

// localPath resolves "~" and relative paths such as "./docs" against the
// working directory.
func localPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
