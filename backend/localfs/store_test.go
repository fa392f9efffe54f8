package localfs

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/pkg/upload"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := New(Options{Root: root})
	require.NoError(t, err)
	return s, root
}

func TestCreateContainerRenamesOnCollision(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()

	first, err := s.CreateContainer(ctx, RootID, "A")
	require.NoError(t, err)
	second, err := s.CreateContainer(ctx, RootID, "A")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "A", first.Name)
	assert.Equal(t, "A 1", second.Name)
	assert.DirExists(t, filepath.Join(root, "A 1"))
}

func TestPutContentRenamesKeepingExtension(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a, err := s.PutContent(ctx, RootID, "x.txt", strings.NewReader("one"), 3)
	require.NoError(t, err)
	b, err := s.PutContent(ctx, RootID, "x.txt", strings.NewReader("two"), 3)
	require.NoError(t, err)

	assert.Equal(t, "x.txt", a.Name)
	assert.Equal(t, "x 1.txt", b.Name)
}

func TestPutContentShortBodyFails(t *testing.T) {
	s, root := newStore(t)
	_, err := s.PutContent(context.Background(), RootID, "short.bin", strings.NewReader("ab"), 10)
	re, ok := backend.AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, re.Status)
	assert.NoFileExists(t, filepath.Join(root, "short.bin"))
}

func TestListChildrenIsIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	dir, err := s.CreateContainer(ctx, RootID, "docs")
	require.NoError(t, err)
	_, err = s.PutContent(ctx, dir.ID, "a.txt", strings.NewReader("aaaa"), 4)
	require.NoError(t, err)
	_, err = s.CreateContainer(ctx, dir.ID, "sub")
	require.NoError(t, err)

	first, err := s.ListChildren(ctx, dir.ID)
	require.NoError(t, err)
	second, err := s.ListChildren(ctx, dir.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.ElementsMatch(t, []backend.RemoteNode{
		{ID: "docs/a.txt", Name: "a.txt", Size: 4},
		{ID: "docs/sub", Name: "sub", IsContainer: true},
	}, first)
}

func TestListChildrenMissingContainer(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.ListChildren(context.Background(), "nope")
	re, ok := backend.AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, re.Status)
}

func TestIDsCannotEscapeRoot(t *testing.T) {
	s, root := newStore(t)
	p, err := s.abs("../../etc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc"), p)

	_, err = s.CreateContainer(context.Background(), RootID, "../evil")
	assert.Error(t, err)
}

func TestGetContentRejectsFolder(t *testing.T) {
	s, _ := newStore(t)
	dir, err := s.CreateContainer(context.Background(), RootID, "d")
	require.NoError(t, err)
	_, _, err = s.GetContent(context.Background(), dir.ID)
	assert.Error(t, err)
}

func TestSessionUploadAssemblesFile(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()

	url, err := s.OpenSession(ctx, RootID, "big.bin", 10)
	require.NoError(t, err)

	res, err := s.PutRange(ctx, url, []byte("01234"), 0, 10)
	require.NoError(t, err)
	assert.False(t, res.Completed())

	_, err = s.PutRange(ctx, url, []byte("xx"), 2, 10)
	se, ok := backend.AsSession(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, se.Status)

	res, err = s.PutRange(ctx, url, []byte("56789"), 5, 10)
	require.NoError(t, err)
	require.True(t, res.Completed())
	assert.Equal(t, "big.bin", res.Node.Name)

	data, err := os.ReadFile(filepath.Join(root, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	rc, size, err := s.GetContent(ctx, res.Node.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, "0123456789", string(got))

	listing, err := s.ListChildren(ctx, RootID)
	require.NoError(t, err)
	for _, n := range listing {
		assert.NotEqual(t, uploadsDir, n.Name)
	}

	_, err = s.PutRange(ctx, url, []byte("x"), 10, 10)
	assert.Error(t, err, "completed sessions are forgotten")
}

func pendingParts(t *testing.T, root string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, uploadsDir))
	require.NoError(t, err)
	return entries
}

func TestCancelSessionRemovesPartialFile(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()

	url, err := s.OpenSession(ctx, RootID, "big.bin", 10)
	require.NoError(t, err)
	_, err = s.PutRange(ctx, url, []byte("01234"), 0, 10)
	require.NoError(t, err)
	require.Len(t, pendingParts(t, root), 1)

	require.NoError(t, s.CancelSession(ctx, url))
	assert.Empty(t, pendingParts(t, root))
	assert.Empty(t, s.sessions)

	_, err = s.PutRange(ctx, url, []byte("56789"), 5, 10)
	se, ok := backend.AsSession(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.NoError(t, s.CancelSession(ctx, url))
}

func TestFailedUploadLeavesNoSession(t *testing.T) {
	s, root := newStore(t)

	// The source ends after 12 of the 20 announced bytes.
	_, err := upload.Upload(context.Background(), s, upload.Request{
		ParentID: RootID, Name: "short.bin", Source: strings.NewReader("abcdefghijkl"), Size: 20, ChunkSize: 8,
	})
	require.Error(t, err)

	assert.Empty(t, pendingParts(t, root))
	assert.Empty(t, s.sessions)
	_, err = os.Stat(filepath.Join(root, "short.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestCancelledUploadLeavesNoSession(t *testing.T) {
	s, root := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := upload.Upload(ctx, s, upload.Request{
		ParentID: RootID, Name: "c.bin", Source: strings.NewReader("0123456789"), Size: 10, ChunkSize: 4,
		Progress: func(int64, int64) { cancel() },
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pendingParts(t, root))
	assert.Empty(t, s.sessions)
}
