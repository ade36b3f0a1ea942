package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFileStore(t *testing.T) (*BlobStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenBlobStore(context.Background(), "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func keys(objects []Object) []string {
	var out []string
	for _, o := range objects {
		out = append(out, o.Key)
	}
	sort.Strings(out)
	return out
}

func TestSplitEndpoint(t *testing.T) {
	host, secure := splitEndpoint("https://minio.example.org/", false)
	assert.Equal(t, "minio.example.org", host)
	assert.True(t, secure)

	host, secure = splitEndpoint("http://localhost:9000", true)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	host, secure = splitEndpoint("minio.example.org", true)
	assert.Equal(t, "minio.example.org", host)
	assert.True(t, secure)
}

func TestLocalPath(t *testing.T) {
	p, err := LocalPath("data", "cs/input/lulc/a.tif")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "cs", "input", "lulc", "a.tif"), p)

	p, err = LocalPath("data", "data/cs/input/lulc/a.tif")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "cs", "input", "lulc", "a.tif"), p)

	_, err = LocalPath("data", "../etc/passwd")
	assert.Error(t, err)
}

func TestICTFolders(t *testing.T) {
	objects := []Object{
		{Key: "ICT_30_Boscos_2018/ICT_30_Boscos_2018.tif"},
		{Key: "ICT_30_Boscos_2018/readme.txt"},
		{Key: "models/ict/high/a.tif"},
		{Key: "ict_root.tif"},
		{Key: "lulc/2018.tif"},
	}
	assert.Equal(t, []string{"ICT_30_Boscos_2018/", "models/ict/high/"}, ICTFolders(objects))
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openFileStore(t)
	src := filepath.Join(t.TempDir(), "a.tif")
	writeTestFile(t, src, "raster")

	created, err := store.EnsureBucket(ctx, "pilot")
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, store.Upload(ctx, "pilot", "cs/input/a.tif", src))
	require.NoError(t, store.Upload(ctx, "other", "b.tif", src))

	objects, err := store.List(ctx, "pilot")
	require.NoError(t, err)
	assert.Equal(t, []string{"cs/input/a.tif"}, keys(objects))
	assert.Equal(t, int64(6), objects[0].Size)

	dst := filepath.Join(t.TempDir(), "out", "a.tif")
	require.NoError(t, store.Download(ctx, "pilot", "cs/input/a.tif", dst))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "raster", string(content))

	assert.Error(t, store.Download(ctx, "pilot", "missing.tif", dst))
}

func TestBlobStoreUploadFailureLeavesNoObject(t *testing.T) {
	ctx := context.Background()
	store, _ := openFileStore(t)

	// reading a directory fails after the writer is opened
	err := store.Upload(ctx, "pilot", "cs/output/partial.tif", t.TempDir())
	require.Error(t, err)

	objects, err := store.List(ctx, "pilot")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestReader(t *testing.T) {
	ctx := context.Background()
	store, _ := openFileStore(t)
	src := filepath.Join(t.TempDir(), "a.tif")
	writeTestFile(t, src, "raster")
	for _, key := range []string{"cs/input/lulc/lulc_2018.tif", "data/cs/config.yaml"} {
		require.NoError(t, store.Upload(ctx, "main", key, src))
	}
	for _, key := range []string{"ICT_30_Boscos_2018/ICT_30_Boscos_2018.tif", "other/x.tif"} {
		require.NoError(t, store.Upload(ctx, "ext", key, src))
	}

	root := t.TempDir()
	r := &Reader{Store: store, DataDir: filepath.Join(root, "data"), ExtDir: filepath.Join(root, "bucket_ext"), SkipExisting: true, Concurrency: 2}

	failed, err := r.FetchAll(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.FileExists(t, filepath.Join(root, "data", "cs", "input", "lulc", "lulc_2018.tif"))
	assert.FileExists(t, filepath.Join(root, "data", "data", "cs", "config.yaml"))

	failed, err = r.FetchExternal(ctx, "ext")
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.FileExists(t, filepath.Join(root, "bucket_ext", "ICT_30_Boscos_2018", "ICT_30_Boscos_2018.tif"))
	assert.NoFileExists(t, filepath.Join(root, "bucket_ext", "other", "x.tif"))

	// existing files are kept
	existing := filepath.Join(root, "data", "cs", "input", "lulc", "lulc_2018.tif")
	require.NoError(t, os.WriteFile(existing, []byte("local"), 0644))
	_, err = r.FetchAll(ctx, "main")
	require.NoError(t, err)
	content, _ := os.ReadFile(existing)
	assert.Equal(t, "local", string(content))
}

func TestTransferLimiter(t *testing.T) {
	limiter := newTransferLimiter(2)
	var mu sync.Mutex
	running, peak := 0, 0
	for i := 0; i < 8; i++ {
		limiter.acquire()
		go func() {
			defer limiter.release()
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	limiter.wait()
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 0, running)
}

func TestPutDir(t *testing.T) {
	ctx := context.Background()
	store, _ := openFileStore(t)

	wd := t.TempDir()
	t.Chdir(wd)
	writeTestFile(t, filepath.Join("data", "cs", "output", "forest", "output_F.tif"), "x")
	writeTestFile(t, filepath.Join("data", "cs", "output", "stats_loc.csv"), "y")
	writeTestFile(t, filepath.Join("data", "cs", "bucket_ext", "ict.tif"), "z")

	u := &Uploader{Store: store}
	failed, err := u.PutDir(ctx, "pilot", filepath.Join("data", "cs"), []string{"bucket_ext"})
	require.NoError(t, err)
	assert.Empty(t, failed)

	objects, err := store.List(ctx, "pilot")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/cs/output/forest/output_F.tif", "data/cs/output/stats_loc.csv"}, keys(objects))

	_, err = u.PutDir(ctx, "pilot", "missing", nil)
	assert.Error(t, err)
}

type flakyStore struct {
	BlobStore
	uploads int
	failing int
}

func (f *flakyStore) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	return true, nil
}

func (f *flakyStore) Upload(ctx context.Context, bucket, key, src string) error {
	f.uploads++
	if f.uploads <= f.failing {
		return errors.New("connection reset")
	}
	return nil
}

func (f *flakyStore) Versioning(ctx context.Context, bucket string) (string, error) {
	return "Enabled", nil
}

func TestUploadDirRetry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.txt"), "a")

	store := &flakyStore{failing: 1}
	u := &Uploader{Store: store, RetryWait: time.Millisecond, Retries: 1}
	require.NoError(t, u.UploadDir(ctx, "logs", dir, nil))
	assert.Equal(t, 2, store.uploads)

	store = &flakyStore{failing: 2}
	u.Store = store
	assert.Error(t, u.UploadDir(ctx, "logs", dir, nil))
	assert.Equal(t, 2, store.uploads)

	store = &flakyStore{}
	u.Store = store
	assert.Error(t, u.UploadDir(ctx, "logs", filepath.Join(dir, "missing"), nil))
	assert.Equal(t, 0, store.uploads)

	require.NoError(t, u.PutFile(ctx, "logs", "logs/a.txt", filepath.Join(dir, "a.txt")))
	assert.Equal(t, 1, store.uploads)
}
