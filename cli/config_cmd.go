package cli

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/backend/remote"
	"github.com/joaooservit/oserv-cloud-storage/internal"
	"github.com/joaooservit/oserv-cloud-storage/pkg/navigator"
)

func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update oserv configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(configShowCommand())
	cmd.AddCommand(configSetCommand())
	cmd.AddCommand(configDiscoverRootCommand())
	return cmd
}

func configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective client configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetAppConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("client config unavailable")
			}
			data := pterm.TableData{{"Key", "Value"}}
			for _, kv := range configRows(cfg) {
				data = append(data, []string{kv[0], kv[1]})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), getAppConfigPath(cmd))
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func configRows(cfg *internal.AppConfig) [][2]string {
	return [][2]string{
		{"log_level", cfg.LogLevel},
		{"backend", cfg.Backend},
		{"credentials_file", cfg.CredentialsFile},
		{"credential_name", cfg.CredentialName},
		{"graph_api_url", cfg.GraphAPIURL},
		{"site_id", cfg.SiteID},
		{"drive_path", cfg.DrivePath},
		{"root_folder_id", cfg.RootFolderID},
		{"localfs_root", cfg.LocalFSRoot},
		{"s3_bucket", cfg.S3Bucket},
		{"s3_prefix", cfg.S3Prefix},
		{"s3_region", cfg.S3Region},
		{"s3_endpoint", cfg.S3Endpoint},
		{"chunk_size", fmt.Sprint(cfg.ChunkSize)},
		{"chunk_threshold", fmt.Sprint(cfg.ChunkThreshold)},
		{"chunk_retries", fmt.Sprint(cfg.ChunkRetries)},
		{"container_policy", cfg.ContainerPolicy},
		{"show_progress", fmt.Sprint(cfg.ShowProgress)},
		{"metrics_textfile", cfg.MetricsTextfile},
		{"token_expiry_warning", fmt.Sprint(cfg.TokenExpiryWarning)},
	}
}

type configSetOpts struct {
	logLevel        string
	backend         string
	credentialsFile string
	credentialName  string
	graphURL        string
	siteID          string
	drivePath       string
	rootFolderID    string
	localFSRoot     string
	s3Bucket        string
	s3Prefix        string
	s3Region        string
	s3Endpoint      string
	chunkSize       int64
	chunkThreshold  int64
	chunkRetries    int
	containerPolicy string
	showProgress    bool
	metricsTextfile string
	tokenExpiry     int
}

func configSetCommand() *cobra.Command {
	var o configSetOpts
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the client configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetAppConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("client config unavailable")
			}
			if applyConfigFlags(cfg, &o, cmd.LocalFlags()) == 0 {
				return fmt.Errorf("nothing to set, see --help for the available keys")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return saveConfig(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.logLevel, "set-log-level", "", "Log level stored in the config")
	f.StringVar(&o.backend, "set-backend", "", "Remote store: graph, localfs or s3")
	f.StringVar(&o.credentialsFile, "credentials-file", "", "Credential store path")
	f.StringVar(&o.credentialName, "credential-name", "", "Credential used to authenticate")
	f.StringVar(&o.graphURL, "graph-api-url", "", "Graph API base URL")
	f.StringVar(&o.siteID, "site-id", "", "SharePoint site id")
	f.StringVar(&o.drivePath, "drive-path", "", "Drive path below the API URL, e.g. me/drive")
	f.StringVar(&o.rootFolderID, "root-folder-id", "", "Id of the folder used as the session root")
	f.StringVar(&o.localFSRoot, "localfs-root", "", "Directory backing the localfs store")
	f.StringVar(&o.s3Bucket, "s3-bucket", "", "S3 bucket")
	f.StringVar(&o.s3Prefix, "s3-prefix", "", "Key prefix used as the S3 root")
	f.StringVar(&o.s3Region, "s3-region", "", "S3 region")
	f.StringVar(&o.s3Endpoint, "s3-endpoint", "", "Custom S3 endpoint (path-style)")
	f.Int64Var(&o.chunkSize, "chunk-size", 0, "Upload session chunk size in bytes")
	f.Int64Var(&o.chunkThreshold, "chunk-threshold", 0, "Files at or above this size use an upload session")
	f.IntVar(&o.chunkRetries, "chunk-retries", 0, "Resends of a chunk refused with 429 or 5xx")
	f.StringVar(&o.containerPolicy, "container-policy", "", "fresh or reuse")
	f.BoolVar(&o.showProgress, "show-progress", true, "Draw progress bars")
	f.StringVar(&o.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after each transfer")
	f.IntVar(&o.tokenExpiry, "token-expiry-warning", 0, "Warn when the token expires within this many seconds")
	return cmd
}

// applyConfigFlags copies only the flags the user actually passed and
// returns how many there were.
func applyConfigFlags(cfg *internal.AppConfig, o *configSetOpts, flags *pflag.FlagSet) int {
	n := 0
	flags.Visit(func(fl *pflag.Flag) {
		n++
		switch fl.Name {
		case "set-log-level":
			cfg.LogLevel = o.logLevel
		case "set-backend":
			cfg.Backend = strings.ToLower(o.backend)
		case "credentials-file":
			cfg.CredentialsFile = o.credentialsFile
		case "credential-name":
			cfg.CredentialName = o.credentialName
		case "graph-api-url":
			cfg.GraphAPIURL = o.graphURL
		case "site-id":
			cfg.SiteID = o.siteID
		case "drive-path":
			cfg.DrivePath = o.drivePath
		case "root-folder-id":
			cfg.RootFolderID = o.rootFolderID
		case "localfs-root":
			cfg.LocalFSRoot = o.localFSRoot
		case "s3-bucket":
			cfg.S3Bucket = o.s3Bucket
		case "s3-prefix":
			cfg.S3Prefix = o.s3Prefix
		case "s3-region":
			cfg.S3Region = o.s3Region
		case "s3-endpoint":
			cfg.S3Endpoint = o.s3Endpoint
		case "chunk-size":
			cfg.ChunkSize = o.chunkSize
		case "chunk-threshold":
			cfg.ChunkThreshold = o.chunkThreshold
		case "chunk-retries":
			cfg.ChunkRetries = o.chunkRetries
		case "container-policy":
			cfg.ContainerPolicy = strings.ToLower(o.containerPolicy)
		case "show-progress":
			cfg.ShowProgress = o.showProgress
		case "metrics-textfile":
			cfg.MetricsTextfile = o.metricsTextfile
		case "token-expiry-warning":
			cfg.TokenExpiryWarning = o.tokenExpiry
		default:
			n--
		}
	})
	return n
}

func saveConfig(cmd *cobra.Command, cfg *internal.AppConfig) error {
	path := getAppConfigPath(cmd)
	if _, err := cfg.Save(path); err != nil {
		return fmt.Errorf("saving CLI config: %w", err)
	}
	internal.Info("CLI configuration updated", internal.Fields{
		internal.ConfigPath:   path,
		internal.FieldBackend: cfg.Backend,
	})
	return nil
}

func configDiscoverRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover-root <folder-path>",
		Short: "Find a folder below the drive root and store its id as root_folder_id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetAppConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("client config unavailable")
			}
			creds, err := backend.NewTomlCredentialStorage(cfg.CredentialsFile)
			if err != nil {
				return err
			}

			// Resolve from the store's own root, not a previously stored folder.
			lookup := *cfg
			lookup.RootFolderID = ""
			store, err := remote.Open(cmd.Context(), &lookup, creds, remote.Options{})
			if err != nil {
				return err
			}
			id, err := discoverRoot(cmd, store, args[0])
			if err != nil {
				return err
			}

			cfg.RootFolderID = id
			pterm.Success.WithWriter(cmd.OutOrStdout()).Println("root_folder_id = " + id)
			return saveConfig(cmd, cfg)
		},
	}
}

func discoverRoot(cmd *cobra.Command, store *remote.Store, folder string) (string, error) {
	nav := navigator.New(store.Dir, store.RootID)
	pos, err := nav.Resolve(cmd.Context(), "/"+strings.Trim(folder, "/"))
	if err != nil {
		return "", err
	}
	if pos.DisplayPath == "/" {
		return "", fmt.Errorf("folder path %q names the drive root", folder)
	}
	return pos.ContainerID, nil
}
