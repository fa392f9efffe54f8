package backend

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	CredentialTypeClient = "client"
	CredentialTypeToken  = "token"
	CredentialTypeS3     = "s3"

	DefaultAuthorityHost = "https://login.microsoftonline.com"
	DefaultGraphScope    = "https://graph.microsoft.com/.default"
)

var ErrCredentialNotFound = errors.New("credential not found")

type Credential interface {
	GetName() string
	GetType() string
	GetUrl() string
	Validate() error
	GetUUID() uuid.UUID
}

type CredentialStorage interface {
	GetCredentialByUUID(uuid.UUID) (Credential, error)
	GetCredentialByName(name string) (Credential, error)
	AddCredential(Credential) error
	DeleteCredential(uuid.UUID) error
	DeleteCredentialByName(string) error
	ListCredentials() ([]Credential, error)
	ListCredentialsByType(string) ([]Credential, error)
}

// ClientCredential is an app registration used for the OAuth2 client
// credentials grant.
type ClientCredential struct {
	Name          string    `toml:"name"`
	TenantID      string    `toml:"tenant_id"`
	ClientID      string    `toml:"client_id"`
	ClientSecret  string    `toml:"client_secret"`
	AuthorityHost string    `toml:"authority_host,omitempty"`
	Scopes        []string  `toml:"scopes,omitempty"`
	UUID          uuid.UUID `toml:"uuid"`
}

// TokenURL is the tenant's v2 token endpoint.
func (c *ClientCredential) TokenURL() string {
	host := strings.TrimRight(c.AuthorityHost, "/")
	if host == "" {
		host = DefaultAuthorityHost
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", host, c.TenantID)
}

func (c *ClientCredential) GetUrl() string     { return c.TokenURL() }
func (c *ClientCredential) GetName() string    { return c.Name }
func (c *ClientCredential) GetType() string    { return CredentialTypeClient }
func (c *ClientCredential) GetUUID() uuid.UUID { return c.UUID }
func (c *ClientCredential) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{DefaultGraphScope}
	}
	return nil
}

// TokenCredential is a bearer token obtained elsewhere.
type TokenCredential struct {
	Name  string    `toml:"name"`
	Token string    `toml:"token"`
	URL   string    `toml:"url,omitempty"`
	UUID  uuid.UUID `toml:"uuid"`
}

func (c *TokenCredential) GetUrl() string     { return c.URL }
func (c *TokenCredential) GetName() string    { return c.Name }
func (c *TokenCredential) GetType() string    { return CredentialTypeToken }
func (c *TokenCredential) GetUUID() uuid.UUID { return c.UUID }
func (c *TokenCredential) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token is required")
	}
	return nil
}

type S3Credential struct {
	Name            string    `toml:"name"`
	AccessKeyID     string    `toml:"access_key_id"`
	SecretAccessKey string    `toml:"secret_access_key"`
	SessionToken    string    `toml:"session_token,omitempty"`
	Endpoint        string    `toml:"endpoint,omitempty"`
	UUID            uuid.UUID `toml:"uuid"`
}

func (c *S3Credential) GetUrl() string     { return c.Endpoint }
func (c *S3Credential) GetName() string    { return c.Name }
func (c *S3Credential) GetType() string    { return CredentialTypeS3 }
func (c *S3Credential) GetUUID() uuid.UUID { return c.UUID }
func (c *S3Credential) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("access_key_id and secret_access_key are required")
	}
	return nil
}

// CredentialEntry is the on-disk wrapper; exactly one payload is set.
type CredentialEntry struct {
	Type   string            `toml:"type"`
	Client *ClientCredential `toml:"client,omitempty"`
	Token  *TokenCredential  `toml:"token,omitempty"`
	S3     *S3Credential     `toml:"s3,omitempty"`
}

func (ce CredentialEntry) ToCredential() (Credential, error) {
	switch ce.Type {
	case CredentialTypeClient:
		if ce.Client == nil {
			return nil, errors.New("client field missing")
		}
		return ce.Client, nil
	case CredentialTypeToken:
		if ce.Token == nil {
			return nil, errors.New("token field missing")
		}
		return ce.Token, nil
	case CredentialTypeS3:
		if ce.S3 == nil {
			return nil, errors.New("s3 field missing")
		}
		return ce.S3, nil
	default:
		return nil, fmt.Errorf("unknown credential type: %s", ce.Type)
	}
}

func FromCredential(cred Credential) (CredentialEntry, error) {
	switch c := cred.(type) {
	case *ClientCredential:
		return CredentialEntry{Type: CredentialTypeClient, Client: c}, nil
	case *TokenCredential:
		return CredentialEntry{Type: CredentialTypeToken, Token: c}, nil
	case *S3Credential:
		return CredentialEntry{Type: CredentialTypeS3, S3: c}, nil
	default:
		return CredentialEntry{}, errors.New("unsupported credential type")
	}
}

type TomlCredentialStorage struct {
	filePath    string
	Credentials map[string]CredentialEntry `toml:"credentials"`
}

func NewTomlCredentialStorage(filePath string) (CredentialStorage, error) {
	storage := &TomlCredentialStorage{
		filePath:    filePath,
		Credentials: make(map[string]CredentialEntry),
	}

	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filePath, nil, 0o600); err != nil {
			return nil, err
		}
	}

	if err := storage.loadFromFile(); err != nil {
		return nil, fmt.Errorf("load credential store %s: %w", filePath, err)
	}
	return storage, nil
}

func (s *TomlCredentialStorage) loadFromFile() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := toml.Unmarshal(data, s); err != nil {
		return err
	}
	if s.Credentials == nil {
		s.Credentials = make(map[string]CredentialEntry)
	}
	return nil
}

func (s *TomlCredentialStorage) saveToFile() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}
	if err := os.WriteFile(s.filePath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to save credential storage: %w", err)
	}
	return nil
}

func (s *TomlCredentialStorage) GetCredentialByUUID(id uuid.UUID) (Credential, error) {
	entry, ok := s.Credentials[id.String()]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return entry.ToCredential()
}

func (s *TomlCredentialStorage) GetCredentialByName(name string) (Credential, error) {
	creds, _ := s.ListCredentials()
	for _, cred := range creds {
		if cred.GetName() == name {
			return cred, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *TomlCredentialStorage) AddCredential(cred Credential) error {
	if cred.GetUUID() == uuid.Nil {
		return errors.New("credential must have a UUID")
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	if existing, err := s.GetCredentialByName(cred.GetName()); err == nil && existing.GetUUID() != cred.GetUUID() {
		return fmt.Errorf("a credential named %q already exists", cred.GetName())
	}
	entry, err := FromCredential(cred)
	if err != nil {
		return err
	}
	s.Credentials[cred.GetUUID().String()] = entry
	return s.saveToFile()
}

func (s *TomlCredentialStorage) DeleteCredential(id uuid.UUID) error {
	if _, exists := s.Credentials[id.String()]; !exists {
		return ErrCredentialNotFound
	}
	delete(s.Credentials, id.String())
	return s.saveToFile()
}

func (s *TomlCredentialStorage) DeleteCredentialByName(name string) error {
	cred, err := s.GetCredentialByName(name)
	if err != nil {
		return err
	}
	delete(s.Credentials, cred.GetUUID().String())
	return s.saveToFile()
}

// ListCredentials returns credentials ordered by name.
func (s *TomlCredentialStorage) ListCredentials() ([]Credential, error) {
	return s.ListCredentialsByType("")
}

func (s *TomlCredentialStorage) ListCredentialsByType(typ string) ([]Credential, error) {
	var creds []Credential
	for _, entry := range s.Credentials {
		if typ != "" && entry.Type != typ {
			continue
		}
		if cred, err := entry.ToCredential(); err == nil {
			creds = append(creds, cred)
		}
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].GetName() < creds[j].GetName() })
	return creds, nil
}
