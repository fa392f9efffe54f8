// Package s3store maps the hierarchical RemoteDirectory model onto an S3
// bucket. Containers are key prefixes ending in "/", marked by an empty
// object so that empty folders survive.
package s3store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

// API is the subset of *s3.Client the store uses.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

type Options struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string
	Credential *backend.S3Credential
}

type Store struct {
	api    API
	bucket string
	root   string

	mu       sync.Mutex
	sessions map[string]*multipart
}

var (
	_ backend.RemoteDirectory  = (*Store)(nil)
	_ backend.SessionUploader  = (*Store)(nil)
	_ backend.RootResolver     = (*Store)(nil)
	_ backend.SessionCanceller = (*Store)(nil)
)

// New builds an S3 client from the default AWS chain, overridden by an
// explicit credential and endpoint when given.
func New(ctx context.Context, opt Options) (*Store, error) {
	if opt.Bucket == "" {
		return nil, errors.New("s3 backend needs s3_bucket")
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(opt.Region)}
	if c := opt.Credential; c != nil {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := opt.Endpoint
	if endpoint == "" && opt.Credential != nil {
		endpoint = opt.Credential.Endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(client, opt.Bucket, opt.Prefix), nil
}

func NewWithAPI(api API, bucket, prefix string) *Store {
	root := strings.Trim(prefix, "/")
	if root != "" {
		root += "/"
	}
	return &Store{api: api, bucket: bucket, root: root, sessions: make(map[string]*multipart)}
}

// RootID is the configured prefix; "" means the bucket root.
func (s *Store) RootID(context.Context) (string, error) { return s.root, nil }

func (s *Store) prefix(containerID string) string {
	if containerID == "" || containerID == "." {
		return s.root
	}
	return containerID
}

func statusOf(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func remoteErr(op string, err error) error {
	return &backend.RemoteError{Op: op, Status: statusOf(err), Err: err}
}

func (s *Store) ListChildren(ctx context.Context, containerID string) ([]backend.RemoteNode, error) {
	prefix := s.prefix(containerID)
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []backend.RemoteNode
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, remoteErr("list children", err)
		}
		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			out = append(out, backend.RemoteNode{
				ID:          key,
				Name:        strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/"),
				IsContainer: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			out = append(out, backend.RemoteNode{
				ID:   key,
				Name: strings.TrimPrefix(key, prefix),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

// freeName picks name or "name N.ext" so that neither a file nor a folder of
// that name exists under prefix.
func (s *Store) freeName(ctx context.Context, prefix, name string) (string, error) {
	children, err := s.ListChildren(ctx, prefix)
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(children))
	for _, c := range children {
		taken[c.Name] = struct{}{}
	}
	if _, ok := taken[name]; !ok {
		return name, nil
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s %d%s", stem, i, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

func (s *Store) CreateContainer(ctx context.Context, parentID, name string) (backend.RemoteNode, error) {
	if !validName(name) {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "create folder", Status: http.StatusBadRequest, Body: fmt.Sprintf("invalid name %q", name)}
	}
	parent := s.prefix(parentID)

	s.mu.Lock()
	defer s.mu.Unlock()
	final, err := s.freeName(ctx, parent, name)
	if err != nil {
		return backend.RemoteNode{}, err
	}
	key := parent + final + "/"
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return backend.RemoteNode{}, remoteErr("create folder", err)
	}
	return backend.RemoteNode{ID: key, Name: final, IsContainer: true}, nil
}

func (s *Store) PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (backend.RemoteNode, error) {
	if !validName(name) {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "upload file", Status: http.StatusBadRequest, Body: fmt.Sprintf("invalid name %q", name)}
	}
	parent := s.prefix(parentID)

	s.mu.Lock()
	final, err := s.freeName(ctx, parent, name)
	s.mu.Unlock()
	if err != nil {
		return backend.RemoteNode{}, err
	}

	br := bufio.NewReaderSize(body, 3072)
	head, _ := br.Peek(3072)
	key := parent + final
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          br,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(mimetype.Detect(head).String()),
	})
	if err != nil {
		return backend.RemoteNode{}, remoteErr("upload file", err)
	}
	return backend.RemoteNode{ID: key, Name: final, Size: size}, nil
}

func (s *Store) GetContent(ctx context.Context, nodeID string) (io.ReadCloser, int64, error) {
	if strings.HasSuffix(nodeID, "/") {
		return nil, 0, &backend.RemoteError{Op: "download file", Status: http.StatusBadRequest, Body: "node is a folder"}
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(nodeID),
	})
	if err != nil {
		return nil, 0, remoteErr("download file", err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}
