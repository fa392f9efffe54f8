package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/backend/localfs"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

func newCredStore(t *testing.T, creds ...backend.Credential) backend.CredentialStorage {
	t.Helper()
	store, err := backend.NewTomlCredentialStorage(filepath.Join(t.TempDir(), "creds.toml"))
	require.NoError(t, err)
	for _, c := range creds {
		require.NoError(t, store.AddCredential(c))
	}
	return store
}

func tokenCred(name, token string) *backend.TokenCredential {
	return &backend.TokenCredential{Name: name, Token: token, UUID: uuid.New()}
}

func graphConfig(url string) *internal.AppConfig {
	return &internal.AppConfig{
		Backend:            "graph",
		GraphAPIURL:        url,
		DrivePath:          "me/drive",
		TokenExpiryWarning: 300,
	}
}

func TestOpenLocalFS(t *testing.T) {
	cfg := &internal.AppConfig{Backend: "localfs", LocalFSRoot: t.TempDir()}

	store, err := Open(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, backend.LocalFSBackend, store.Kind)
	assert.Equal(t, localfs.RootID, store.RootID)
	assert.IsType(t, &localfs.Store{}, store.Dir)
}

func TestOpenGraphResolvesRoot(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ROOT1"})
	}))
	defer srv.Close()

	creds := newCredStore(t, tokenCred("dev", "opaque-token"))
	store, err := Open(context.Background(), graphConfig(srv.URL), creds, Options{HTTPClient: srv.Client()})
	require.NoError(t, err)

	assert.Equal(t, "ROOT1", store.RootID)
	assert.Equal(t, "Bearer opaque-token", gotAuth)
	assert.Equal(t, "/me/drive/root", gotPath)
}

func TestOpenGraphConfiguredRootSkipsLookup(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := graphConfig(srv.URL)
	cfg.RootFolderID = "01FOLDER"
	store, err := Open(context.Background(), cfg, newCredStore(t, tokenCred("dev", "t")), Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	assert.Equal(t, "01FOLDER", store.RootID)
	assert.Zero(t, calls)
}

func TestOpenGraphRootFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), graphConfig(srv.URL), newCredStore(t, tokenCred("dev", "t")), Options{HTTPClient: srv.Client()})
	require.Error(t, err)
	re, ok := backend.AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
}

func TestOpenGraphCredentialSelection(t *testing.T) {
	s3 := &backend.S3Credential{Name: "aws", AccessKeyID: "AK", SecretAccessKey: "SK", UUID: uuid.New()}

	tests := []struct {
		name     string
		credName string
		creds    []backend.Credential
		wantErr  error
	}{
		{name: "none stored", wantErr: backend.ErrCredentialNotFound},
		{name: "only s3 stored", creds: []backend.Credential{s3}, wantErr: backend.ErrCredentialNotFound},
		{name: "ambiguous", creds: []backend.Credential{tokenCred("a", "1"), tokenCred("b", "2")}},
		{name: "named wrong type", credName: "aws", creds: []backend.Credential{s3}},
		{name: "named missing", credName: "nope", creds: []backend.Credential{tokenCred("a", "1")}, wantErr: backend.ErrCredentialNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := graphConfig("http://127.0.0.1:0")
			cfg.CredentialName = tt.credName
			_, err := Open(context.Background(), cfg, newCredStore(t, tt.creds...), Options{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOpenGraphEmptyTokenIsAuthError(t *testing.T) {
	// Validate rejects an empty token on Add, so write the entry directly.
	path := filepath.Join(t.TempDir(), "creds.toml")
	store, err := backend.NewTomlCredentialStorage(path)
	require.NoError(t, err)
	toml := store.(*backend.TomlCredentialStorage)
	toml.Credentials[uuid.NewString()] = backend.CredentialEntry{
		Type:  backend.CredentialTypeToken,
		Token: &backend.TokenCredential{Name: "blank", UUID: uuid.New()},
	}

	_, err = Open(context.Background(), graphConfig("http://127.0.0.1:0"), toml, Options{})
	require.Error(t, err)
	assert.True(t, backend.IsAuth(err))
}

func TestOpenS3RequiresBucket(t *testing.T) {
	cfg := &internal.AppConfig{Backend: "s3", S3Region: "us-east-1", ChunkSize: 8 << 20}
	_, err := Open(context.Background(), cfg, newCredStore(t), Options{})
	assert.ErrorContains(t, err, "s3_bucket")
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), &internal.AppConfig{Backend: "ftp"}, nil, Options{})
	assert.Error(t, err)
}

func TestOpenRefusesChunkingTheBackendRejects(t *testing.T) {
	cases := []struct {
		name      string
		backend   string
		size      int64
		threshold int64
		wantErr   string
	}{
		{name: "s3 part below minimum", backend: "s3", size: 1 << 20, wantErr: "between 5242880"},
		{name: "graph unaligned range", backend: "graph", size: 1000000, wantErr: "multiple of 327680"},
		{name: "graph range too large", backend: "graph", size: 200 * (320 << 10), wantErr: "range limit"},
		{name: "graph simple upload too large", backend: "graph", size: 10 << 20, threshold: 8 << 20, wantErr: "simple upload limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				_ = json.NewEncoder(w).Encode(map[string]string{"id": "ROOT1"})
			}))
			defer srv.Close()

			cfg := graphConfig(srv.URL)
			cfg.Backend = tc.backend
			cfg.S3Bucket = "bucket"
			cfg.S3Region = "us-east-1"
			cfg.ChunkSize = tc.size
			cfg.ChunkThreshold = tc.threshold
			_, err := Open(context.Background(), cfg, newCredStore(t, tokenCred("dev", "opaque-token")), Options{HTTPClient: srv.Client()})
			assert.ErrorContains(t, err, tc.wantErr)
			assert.Zero(t, calls)
		})
	}
}

func TestOpenAcceptsDefaultChunking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ROOT1"})
	}))
	defer srv.Close()

	cfg := graphConfig(srv.URL)
	cfg.ChunkSize = 10 << 20
	cfg.ChunkThreshold = 4 << 20
	_, err := Open(context.Background(), cfg, newCredStore(t, tokenCred("dev", "opaque-token")), Options{HTTPClient: srv.Client()})
	require.NoError(t, err)

	assert.NoError(t, checkChunking(backend.S3Backend, cfg))
	assert.NoError(t, checkChunking(backend.LocalFSBackend, &internal.AppConfig{ChunkSize: 3}))
}
