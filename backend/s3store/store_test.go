package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/pkg/upload"
)

// fakeS3 keeps objects in memory and pages listings two entries at a time.
type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
	uploads     map[string]map[int32][]byte
	aborted     []string
	nextID      int
	listCalls   int
	failPart    error
}

var _ API = (*fakeS3)(nil)

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:     map[string][]byte{},
		contentType: map[string]string{},
		uploads:     map[string]map[int32][]byte{},
	}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	type entry struct {
		key      string
		isPrefix bool
	}
	seen := map[string]bool{}
	var entries []entry
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.Index(rest, delim); delim != "" && rest != "" && i >= 0 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				entries = append(entries, entry{cp, true})
			}
			continue
		}
		entries = append(entries, entry{key, false})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, e := range entries {
			if e.key == tok {
				start = i
			}
		}
	}
	end := start + 2
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(entries) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(entries[end].key)
	} else {
		end = len(entries)
	}
	for _, e := range entries[start:end] {
		if e.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.key)})
		} else {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(e.key), Size: aws.Int64(int64(len(f.objects[e.key])))})
		}
	}
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.contentType[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%s#%d", aws.ToString(in.Key), f.nextID)
	f.uploads[id] = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.failPart != nil {
		return nil, f.failPart
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[aws.ToString(in.UploadId)][aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.ToString(in.UploadId)]
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}
	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, aws.ToString(in.UploadId))
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestContainersAreMarkerPrefixes(t *testing.T) {
	api := newFakeS3()
	s := NewWithAPI(api, "bucket", "/mirror/")
	ctx := context.Background()

	root, err := s.RootID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mirror/", root)

	a, err := s.CreateContainer(ctx, root, "A")
	require.NoError(t, err)
	assert.Equal(t, backend.RemoteNode{ID: "mirror/A/", Name: "A", IsContainer: true}, a)

	again, err := s.CreateContainer(ctx, root, "A")
	require.NoError(t, err)
	assert.Equal(t, "A 1", again.Name)
	assert.NotEqual(t, a.ID, again.ID)

	_, err = s.PutContent(ctx, a.ID, "x.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Contains(t, api.contentType["mirror/A/x.txt"], "text/plain")

	children, err := s.ListChildren(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []backend.RemoteNode{{ID: "mirror/A/x.txt", Name: "x.txt", Size: 5}}, children)
}

func TestListChildrenPaginates(t *testing.T) {
	api := newFakeS3()
	s := NewWithAPI(api, "bucket", "")
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.PutContent(ctx, "", name+".bin", strings.NewReader("x"), 1)
		require.NoError(t, err)
	}

	api.listCalls = 0
	children, err := s.ListChildren(ctx, "")
	require.NoError(t, err)
	assert.Len(t, children, 5)
	assert.Equal(t, 3, api.listCalls)
}

func TestGetContentMissingKey(t *testing.T) {
	s := NewWithAPI(newFakeS3(), "bucket", "")
	_, _, err := s.GetContent(context.Background(), "nope.txt")
	_, ok := backend.AsRemote(err)
	assert.True(t, ok)
}

func TestMultipartSession(t *testing.T) {
	api := newFakeS3()
	s := NewWithAPI(api, "bucket", "")
	ctx := context.Background()

	url, err := s.OpenSession(ctx, "", "big.bin", 12)
	require.NoError(t, err)

	res, err := s.PutRange(ctx, url, []byte("aaaaa"), 0, 12)
	require.NoError(t, err)
	assert.False(t, res.Completed())

	_, err = s.PutRange(ctx, url, []byte("bbbbb"), 0, 12)
	_, isSession := backend.AsSession(err)
	assert.True(t, isSession, "out-of-order range is refused")

	res, err = s.PutRange(ctx, url, []byte("bbbbb"), 5, 12)
	require.NoError(t, err)
	assert.False(t, res.Completed())
	res, err = s.PutRange(ctx, url, []byte("cc"), 10, 12)
	require.NoError(t, err)
	require.True(t, res.Completed())
	assert.Equal(t, "big.bin", res.Node.ID)
	assert.Equal(t, "aaaaabbbbbcc", string(api.objects["big.bin"]))
}

func TestMultipartAbortsOnPermanentFailure(t *testing.T) {
	api := newFakeS3()
	api.failPart = &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusForbidden}},
			Err:      errors.New("access denied"),
		},
	}
	s := NewWithAPI(api, "bucket", "")
	ctx := context.Background()

	url, err := s.OpenSession(ctx, "", "f.bin", 4)
	require.NoError(t, err)
	_, err = s.PutRange(ctx, url, []byte("abcd"), 0, 4)
	se, ok := backend.AsSession(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.Len(t, api.aborted, 1)
}

func unavailable() error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}},
			Err:      errors.New("slow down"),
		},
	}
}

func TestMultipartKeptOnTransientFailureForResend(t *testing.T) {
	api := newFakeS3()
	api.failPart = unavailable()
	s := NewWithAPI(api, "bucket", "")
	ctx := context.Background()

	url, err := s.OpenSession(ctx, "", "f.bin", 4)
	require.NoError(t, err)
	_, err = s.PutRange(ctx, url, []byte("abcd"), 0, 4)
	se, ok := backend.AsSession(err)
	require.True(t, ok)
	assert.True(t, se.Transient())
	assert.Empty(t, api.aborted)

	api.failPart = nil
	res, err := s.PutRange(ctx, url, []byte("abcd"), 0, 4)
	require.NoError(t, err)
	assert.True(t, res.Completed())
}

func TestCancelSessionAbortsMultipartUpload(t *testing.T) {
	api := newFakeS3()
	api.failPart = unavailable()
	s := NewWithAPI(api, "bucket", "")

	data := []byte("thirteen byte")
	_, err := upload.Upload(context.Background(), s, upload.Request{
		ParentID: "", Name: "f.bin", Source: bytes.NewReader(data), Size: int64(len(data)), ChunkSize: 10,
	})
	require.Error(t, err)

	assert.Len(t, api.aborted, 1)
	assert.Empty(t, api.uploads)
	assert.Empty(t, s.sessions)

	assert.NoError(t, s.CancelSession(context.Background(), "s3-multipart://unknown"))
	assert.Len(t, api.aborted, 1)
}
