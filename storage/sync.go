package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Reader mirrors buckets onto the local data layout.
type Reader struct {
	Store        Store
	DataDir      string
	ExtDir       string
	SkipExisting bool
	Concurrency  int
}

// LocalPath maps an object key below root. Keys that already start with
// root, such as data/cs/input/lulc/a.tif, map to themselves.
func LocalPath(root, key string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(key, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("key %s escapes %s", key, root)
	}
	if strings.HasPrefix(clean, filepath.ToSlash(filepath.Clean(root))+"/") {
		return filepath.FromSlash(clean), nil
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func (r *Reader) fetch(ctx context.Context, bucket, root string, objects []Object) []string {
	var mu sync.Mutex
	var failed []string
	fail := func(key string, err error) {
		log.Errorf("Failed to download %s: %v", key, err)
		mu.Lock()
		failed = append(failed, key)
		mu.Unlock()
	}

	limiter := newTransferLimiter(r.Concurrency)
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if err := ctx.Err(); err != nil {
			fail(obj.Key, err)
			continue
		}
		dst, err := LocalPath(root, obj.Key)
		if err != nil {
			fail(obj.Key, err)
			continue
		}
		if r.SkipExisting {
			if _, err := os.Stat(dst); err == nil {
				log.Debugf("Skipping existing %s", dst)
				continue
			}
		}

		limiter.acquire()
		go func(key, dst string) {
			defer limiter.release()
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				fail(key, err)
				return
			}
			if err := r.Store.Download(ctx, bucket, key, dst); err != nil {
				fail(key, err)
				return
			}
			log.Infof("Object %s downloaded to %s", key, dst)
		}(obj.Key, dst)
	}
	limiter.wait()

	sort.Strings(failed)
	return failed
}

// FetchAll downloads every object of bucket below DataDir and returns the
// keys that failed.
func (r *Reader) FetchAll(ctx context.Context, bucket string) ([]string, error) {
	objects, err := r.Store.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	log.Infof("%d objects to save from bucket %s", len(objects), bucket)
	return r.fetch(ctx, bucket, r.DataDir, objects), nil
}

// ICTFolders returns the folders holding ICT rasters, every distinct key
// directory whose path mentions ict, with a trailing slash.
func ICTFolders(objects []Object) []string {
	seen := make(map[string]bool)
	var folders []string
	for _, obj := range objects {
		idx := strings.LastIndex(obj.Key, "/")
		if idx < 0 {
			continue
		}
		folder := obj.Key[:idx]
		if strings.Contains(strings.ToLower(folder), "ict") && !seen[folder] {
			seen[folder] = true
			folders = append(folders, folder+"/")
		}
	}
	sort.Strings(folders)
	return folders
}

// FetchExternal downloads the ICT folders of the external bucket below
// ExtDir and returns the keys that failed.
func (r *Reader) FetchExternal(ctx context.Context, bucket string) ([]string, error) {
	objects, err := r.Store.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	folders := ICTFolders(objects)
	log.Infof("Folders with external data in bucket are: %v", folders)

	var selected []Object
	for _, obj := range objects {
		for _, folder := range folders {
			if strings.HasPrefix(obj.Key, folder) {
				selected = append(selected, obj)
				break
			}
		}
	}
	return r.fetch(ctx, bucket, r.ExtDir, selected), nil
}

// Uploader pushes local results, retrying a failed upload after
// RetryWait.
type Uploader struct {
	Store     Store
	RetryWait time.Duration
	Retries   int
}

func (u *Uploader) ensureBucket(ctx context.Context, bucket string) error {
	created, err := u.Store.EnsureBucket(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", bucket, err)
	}
	if created {
		log.Infof("Created bucket %s", bucket)
	} else {
		log.Infof("Bucket %s already exists", bucket)
	}
	return nil
}

// PutFile uploads one file as key and logs the versioning status.
func (u *Uploader) PutFile(ctx context.Context, bucket, key, src string) error {
	if err := u.ensureBucket(ctx, bucket); err != nil {
		return err
	}
	if err := u.Store.Upload(ctx, bucket, key, src); err != nil {
		return fmt.Errorf("uploading %s: %w", src, err)
	}

	status, err := u.Store.Versioning(ctx, bucket)
	if err != nil {
		log.Warnf("Versioning status of %s: %v", bucket, err)
	} else {
		log.Infof("Versioning: %s", status)
	}
	log.Infof("Source %s uploaded to %s as %s", src, bucket, key)
	return nil
}

// PutDir uploads every file below dir keyed by its local path, skipping
// directories named in ignore. Failed files are logged and returned.
func (u *Uploader) PutDir(ctx context.Context, bucket, dir string, ignore []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if err = u.ensureBucket(ctx, bucket); err != nil {
		return nil, err
	}

	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	var failed []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && ignored[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		key := filepath.ToSlash(p)
		if err := u.Store.Upload(ctx, bucket, key, p); err != nil {
			log.Errorf("Error uploading %s: %v", p, err)
			failed = append(failed, p)
			return nil
		}
		log.Infof("Uploaded %s to bucket %s", key, bucket)
		return nil
	})
	return failed, err
}

// Retry runs op and retries it after RetryWait up to Retries times.
func (u *Uploader) Retry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(u.RetryWait), uint64(u.Retries)), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil {
			log.Warnf("%s attempt %d failed: %v", name, attempt, err)
		}
		return err
	}, b)
}

// UploadDir runs PutDir with retries. An attempt fails when any file of
// the directory failed.
func (u *Uploader) UploadDir(ctx context.Context, bucket, dir string, ignore []string) error {
	return u.Retry(ctx, "Upload of "+dir, func() error {
		failed, err := u.PutDir(ctx, bucket, dir, ignore)
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d files failed: %s", len(failed), strings.Join(failed, ", "))
		}
		return nil
	})
}
