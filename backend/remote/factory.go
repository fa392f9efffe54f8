// Package remote opens the configured store for a CLI session.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/backend/graph"
	"github.com/joaooservit/oserv-cloud-storage/backend/localfs"
	"github.com/joaooservit/oserv-cloud-storage/backend/s3store"
	"github.com/joaooservit/oserv-cloud-storage/internal"
	"github.com/joaooservit/oserv-cloud-storage/pkg/auth"
)

// Store is an opened remote plus the container every path is relative to.
type Store struct {
	Kind   backend.BackendType
	Dir    backend.RemoteDirectory
	RootID string
}

type Options struct {
	// HTTPClient is handed to the graph client; nil uses its default.
	HTTPClient *http.Client
	// Now is used for the token expiry warning.
	Now func() time.Time
}

// Open builds the backend named by cfg.Backend and resolves its root.
// root_folder_id wins over the store's own root when set. Chunk settings the
// backend cannot honour are refused before any request is made.
func Open(ctx context.Context, cfg *internal.AppConfig, creds backend.CredentialStorage, opt Options) (*Store, error) {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	kind := backend.ParseBackendType(cfg.Backend)
	if err := checkChunking(kind, cfg); err != nil {
		return nil, err
	}

	var (
		dir backend.RemoteDirectory
		err error
	)
	switch kind {
	case backend.GraphBackend:
		dir, err = openGraph(ctx, cfg, creds, opt)
	case backend.LocalFSBackend:
		dir, err = localfs.New(localfs.Options{Root: cfg.LocalFSRoot})
	case backend.S3Backend:
		dir, err = openS3(ctx, cfg, creds)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	root := cfg.RootFolderID
	if root == "" {
		if r, ok := dir.(backend.RootResolver); ok {
			root, err = r.RootID(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve root folder: %w", err)
			}
		}
	}
	if root == "" {
		root = graph.RootAlias
	}

	internal.Debug("remote store opened", internal.Fields{
		internal.FieldBackend:     string(kind),
		internal.FieldContainerID: root,
	})
	return &Store{Kind: kind, Dir: dir, RootID: root}, nil
}

func openGraph(ctx context.Context, cfg *internal.AppConfig, creds backend.CredentialStorage, opt Options) (backend.RemoteDirectory, error) {
	cred, err := pickCredential(cfg.CredentialName, creds, backend.CredentialTypeClient, backend.CredentialTypeToken)
	if err != nil {
		return nil, err
	}
	provider, err := auth.FromCredential(cred)
	if err != nil {
		return nil, err
	}
	token, err := auth.Once(provider).AcquireToken(ctx)
	if err != nil {
		return nil, err
	}
	auth.WarnIfExpiring(token, time.Duration(cfg.TokenExpiryWarning)*time.Second, opt.Now())

	return graph.New(graph.Config{
		BaseURL:    cfg.GraphAPIURL,
		SiteID:     cfg.SiteID,
		DrivePath:  cfg.DrivePath,
		HTTPClient: opt.HTTPClient,
	}, token)
}

func openS3(ctx context.Context, cfg *internal.AppConfig, creds backend.CredentialStorage) (backend.RemoteDirectory, error) {
	var s3Cred *backend.S3Credential
	cred, err := pickCredential(cfg.CredentialName, creds, backend.CredentialTypeS3)
	switch {
	case err == nil:
		s3Cred = cred.(*backend.S3Credential)
	case errors.Is(err, backend.ErrCredentialNotFound) && cfg.CredentialName == "":
		// fall back to the default AWS chain
	default:
		return nil, err
	}
	return s3store.New(ctx, s3store.Options{
		Bucket:     cfg.S3Bucket,
		Prefix:     cfg.S3Prefix,
		Region:     cfg.S3Region,
		Endpoint:   cfg.S3Endpoint,
		Credential: s3Cred,
	})
}

// pickCredential returns the named credential, or the only stored one of
// the accepted types when no name is configured.
func pickCredential(name string, creds backend.CredentialStorage, types ...string) (backend.Credential, error) {
	if creds == nil {
		return nil, fmt.Errorf("no credential store: %w", backend.ErrCredentialNotFound)
	}
	accepted := func(c backend.Credential) bool {
		for _, t := range types {
			if c.GetType() == t {
				return true
			}
		}
		return false
	}

	if name != "" {
		cred, err := creds.GetCredentialByName(name)
		if err != nil {
			return nil, err
		}
		if !accepted(cred) {
			return nil, fmt.Errorf("credential %q has type %s, want one of %v", name, cred.GetType(), types)
		}
		return cred, nil
	}

	all, err := creds.ListCredentials()
	if err != nil {
		return nil, err
	}
	var found []backend.Credential
	for _, c := range all {
		if accepted(c) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no %v credential stored: %w", types, backend.ErrCredentialNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%d credentials match; set credential_name", len(found))
	}
}
