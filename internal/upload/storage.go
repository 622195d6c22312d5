package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/docserver/docserver/internal/job"
	"github.com/docserver/docserver/internal/storage"
)

// StorageUploader copies files from a source directory into the per-user
// file store and records each copy in the manifest.
type StorageUploader struct {
	sourceDir string
	files     *storage.Store
	manifest  *Manifest
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewStorageUploader(sourceDir string, files *storage.Store, manifest *Manifest, log logrus.FieldLogger) *StorageUploader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StorageUploader{
		sourceDir: sourceDir,
		files:     files,
		manifest:  manifest,
		log:       log,
		now:       time.Now,
	}
}

// cleanPath turns a request path into a slash-separated path relative to
// the source directory.
func cleanPath(p string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid path: %q", p)
	}
	return cleaned, nil
}

func (u *StorageUploader) Upload(ctx context.Context, req job.Request) (job.Result, error) {
	if req.User == "" {
		return job.Failed("Error when uploading %s: user is required", req.Path), nil
	}
	rel, err := cleanPath(req.Path)
	if err != nil {
		return job.Failed("Error when uploading %s for user %s: %v", req.Path, req.User, err), nil
	}

	src, err := os.Open(filepath.Join(u.sourceDir, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return job.Failed("Error when uploading %s for user %s: source file not found", req.Path, req.User), nil
		}
		return job.Result{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	if err := ctx.Err(); err != nil {
		return job.Result{}, err
	}

	obj, err := u.files.PutFrom(req.User, rel, src)
	if err != nil {
		return job.Result{}, fmt.Errorf("store file: %w", err)
	}

	entry := Entry{
		ID:         uuid.NewString(),
		User:       req.User,
		Path:       rel,
		Size:       obj.Size,
		SHA256:     obj.SHA256,
		UploadedAt: u.now().UTC(),
	}
	if err := u.manifest.Record(entry); err != nil {
		return job.Result{}, fmt.Errorf("record manifest: %w", err)
	}

	u.log.WithFields(logrus.Fields{"user": req.User, "path": rel, "size": obj.Size, "object_id": entry.ID}).Debug("file stored")
	return job.Completed("Successfully uploaded %s for user %s", req.Path, req.User), nil
}
