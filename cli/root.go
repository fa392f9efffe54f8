package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joaooservit/oserv-cloud-storage/internal"
)

type ctxKey string

const appCtxKey ctxKey = "appData"
const appConfigPathKey ctxKey = "appConfigPath"

func NewRootCommand() *cobra.Command {
	var appConfigPath string
	var backendFlag string
	var logLevelFlag string

	rootCmd := &cobra.Command{
		Use:   "oserv",
		Short: "oserv mirrors local folders into a cloud file store and back",
		Long: `oserv uploads local directory trees into a hierarchical remote store (Microsoft Graph drives,
S3 buckets or a local folder) and downloads them again. Without a subcommand it starts an interactive shell.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadAppConfig(appConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load app config: %w", err)
			}

			if backendFlag != "" {
				cfg.Backend = backendFlag
			}
			if logLevelFlag != "" {
				cfg.LogLevel = logLevelFlag
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in app config, defaulting to info", internal.WithError(nil, err))
			}

			internal.Debug("using credentials file", internal.Fields{
				internal.CredentialPath: cfg.CredentialsFile,
			})

			dir := filepath.Dir(cfg.CredentialsFile)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory for credentials file: %w", err)
			}

			cfgPath := appConfigPath
			if strings.TrimSpace(cfgPath) == "" {
				cfgPath, err = internal.DefaultAppConfigPath()
				if err != nil {
					return err
				}
			}

			ctx := context.WithValue(cmd.Context(), appCtxKey, cfg)
			ctx = context.WithValue(ctx, appConfigPathKey, cfgPath)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&appConfigPath, "app-config", "", "Path to app config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Remote store to use: graph, localfs or s3")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(ShellCommand())
	rootCmd.AddCommand(ListCommand())
	rootCmd.AddCommand(UploadCommand())
	rootCmd.AddCommand(DownloadCommand())
	rootCmd.AddCommand(RunScriptCommand())
	rootCmd.AddCommand(ConfigCommand())
	rootCmd.AddCommand(CredentialCommand())

	return rootCmd
}

// GetAppConfig returns the config loaded by the root command.
func GetAppConfig(cmd *cobra.Command) *internal.AppConfig {
	if v := cmd.Context().Value(appCtxKey); v != nil {
		if data, ok := v.(*internal.AppConfig); ok {
			return data
		}
	}
	return nil
}

func getAppConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(appConfigPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}
