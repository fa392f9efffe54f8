package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/cli/output"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

type AddCredentialOpts struct {
	CredentialName string
	Client         ClientCredentialOpts
	Token          TokenCredentialOpts
	S3             S3CredentialOpts
}

type ClientCredentialOpts struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	Scopes        []string
}

type TokenCredentialOpts struct {
	Token string
	URL   string
}

type S3CredentialOpts struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Endpoint     string
}

type DeleteCredentialOpts struct {
	CredentialUUID string
}

func CredentialCommand() *cobra.Command {
	var commonOpts AddCredentialOpts

	cmd := &cobra.Command{
		Use:     "credential",
		Short:   "Manage credentials",
		Aliases: []string{"creds", "c"},
	}
	cmd.PersistentFlags().StringVarP(&commonOpts.CredentialName, "name", "n", "", "Credential name")

	cmd.AddCommand(ListCredentialCommand())
	cmd.AddCommand(DeleteCredentialCommand())
	cmd.AddCommand(AddClientCredentialCommand(&commonOpts))
	cmd.AddCommand(AddTokenCredentialCommand(&commonOpts))
	cmd.AddCommand(AddS3CredentialCommand(&commonOpts))
	return cmd
}

func credentialStore(cmd *cobra.Command) (backend.CredentialStorage, error) {
	cfg := GetAppConfig(cmd)
	if cfg == nil {
		return nil, errors.New("client config unavailable")
	}
	return backend.NewTomlCredentialStorage(cfg.CredentialsFile)
}

func addCredential(cmd *cobra.Command, cred backend.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("invalid %s credential: %w", cred.GetType(), err)
	}
	store, err := credentialStore(cmd)
	if err != nil {
		return err
	}
	if err := store.AddCredential(cred); err != nil {
		return err
	}
	internal.Info("credential stored", internal.Fields{
		internal.FieldName:        cred.GetName(),
		internal.FieldKey("type"): cred.GetType(),
		internal.FieldKey("uuid"): cred.GetUUID().String(),
	})
	return nil
}

func AddClientCredentialCommand(commonOpts *AddCredentialOpts) *cobra.Command {
	opts := &commonOpts.Client
	cmd := &cobra.Command{
		Use:   "add-client",
		Short: "Add an app registration for the client credentials grant",
		Long:  "Add an app registration (tenant, client id and secret) used to obtain bearer tokens from the identity platform.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commonOpts.CredentialName == "" {
				return errors.New("must specify a credential name")
			}
			return addCredential(cmd, &backend.ClientCredential{
				Name:          commonOpts.CredentialName,
				TenantID:      opts.TenantID,
				ClientID:      opts.ClientID,
				ClientSecret:  opts.ClientSecret,
				AuthorityHost: opts.AuthorityHost,
				Scopes:        opts.Scopes,
				UUID:          uuid.New(),
			})
		},
	}
	cmd.Flags().StringVar(&opts.TenantID, "tenant-id", "", "Directory (tenant) id")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "Application (client) id")
	cmd.Flags().StringVar(&opts.ClientSecret, "client-secret", "", "Client secret")
	cmd.Flags().StringVar(&opts.AuthorityHost, "authority-host", "", "Identity authority (default "+backend.DefaultAuthorityHost+")")
	cmd.Flags().StringSliceVar(&opts.Scopes, "scope", nil, "Token scope, repeatable (default "+backend.DefaultGraphScope+")")
	_ = cmd.MarkFlagRequired("tenant-id")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("client-secret")
	return cmd
}

func AddTokenCredentialCommand(commonOpts *AddCredentialOpts) *cobra.Command {
	opts := &commonOpts.Token
	cmd := &cobra.Command{
		Use:   "add-token",
		Short: "Add a pre-issued bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commonOpts.CredentialName == "" {
				return errors.New("must specify a credential name")
			}
			return addCredential(cmd, &backend.TokenCredential{
				Name:  commonOpts.CredentialName,
				Token: opts.Token,
				URL:   opts.URL,
				UUID:  uuid.New(),
			})
		},
	}
	cmd.Flags().StringVar(&opts.Token, "token", "", "Bearer token")
	cmd.Flags().StringVar(&opts.URL, "url", "", "API the token is issued for (informational)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func AddS3CredentialCommand(commonOpts *AddCredentialOpts) *cobra.Command {
	opts := &commonOpts.S3
	cmd := &cobra.Command{
		Use:   "add-s3",
		Short: "Add an S3 access key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commonOpts.CredentialName == "" {
				return errors.New("must specify a credential name")
			}
			return addCredential(cmd, &backend.S3Credential{
				Name:            commonOpts.CredentialName,
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
				SessionToken:    opts.SessionToken,
				Endpoint:        opts.Endpoint,
				UUID:            uuid.New(),
			})
		},
	}
	cmd.Flags().StringVar(&opts.AccessKey, "access-key", "", "Access key id")
	cmd.Flags().StringVar(&opts.SecretKey, "secret-key", "", "Secret access key")
	cmd.Flags().StringVar(&opts.SessionToken, "session-token", "", "Session token for temporary keys")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "Custom endpoint, e.g. a MinIO URL")
	_ = cmd.MarkFlagRequired("access-key")
	_ = cmd.MarkFlagRequired("secret-key")
	return cmd
}

func ListCredentialCommand() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "l"},
		Short:   "List credentials stored in the credential storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentialStore(cmd)
			if err != nil {
				return err
			}
			creds, err := store.ListCredentialsByType(typ)
			if err != nil {
				return errors.New("Failed to list the stored credentials: " + err.Error())
			}
			return output.VisualizeCredentialList(cmd.OutOrStdout(), creds)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Only list client, token or s3 credentials")
	return cmd
}

func DeleteCredentialCommand() *cobra.Command {
	var deleteCredOpts DeleteCredentialOpts

	cmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm", "d"},
		Short:   "Delete a credential from the configured credential store path",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" && deleteCredOpts.CredentialUUID == "" {
				return errors.New("must pass in either the credential name or the credential uuid")
			}
			store, err := credentialStore(cmd)
			if err != nil {
				return err
			}
			if deleteCredOpts.CredentialUUID != "" {
				parsed, err := uuid.Parse(deleteCredOpts.CredentialUUID)
				if err != nil {
					return errors.New("the credential uuid is not valid: " + err.Error())
				}
				return store.DeleteCredential(parsed)
			}
			return store.DeleteCredentialByName(name)
		},
	}
	cmd.Flags().StringVar(&deleteCredOpts.CredentialUUID, "uuid", "", "The uuid assigned to the credential")
	return cmd
}
