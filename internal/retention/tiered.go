package retention

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dlog/internal/errs"
)

// TieredUploader moves a cold segment out of local storage before the
// retention cleaner deletes it, so a later read can still be satisfied by
// fetching it back from wherever it landed. Production backends (S3,
// Azure, GCS) implement the same interface; only the local-filesystem one
// ships here.
type TieredUploader interface {
	// Upload copies the segment at localPath to the remote tier and
	// returns a URI a Download call can later resolve.
	Upload(localPath string) (string, error)
	Download(remoteURI string, destPath string) error
}

// LocalUploader archives segments to another directory on the same or a
// mounted filesystem, mirroring the teacher pack's local object-storage
// fallback rather than reaching for a cloud SDK with no corresponding
// third-party dependency in this module.
type LocalUploader struct {
	archiveDir string
}

func NewLocalUploader(archiveDir string) *LocalUploader {
	return &LocalUploader{archiveDir: archiveDir}
}

func (u *LocalUploader) Upload(localPath string) (string, error) {
	if err := os.MkdirAll(u.archiveDir, 0755); err != nil {
		return "", errs.Wrap(errs.KindStorage, "create archive dir", err)
	}

	dest := filepath.Join(u.archiveDir, filepath.Base(localPath))
	if err := copyFile(localPath, dest); err != nil {
		return "", errs.Wrap(errs.KindStorage, "archive segment", err)
	}

	return fmt.Sprintf("file://%s", dest), nil
}

func (u *LocalUploader) Download(remoteURI string, destPath string) error {
	const prefix = "file://"
	if len(remoteURI) < len(prefix) || remoteURI[:len(prefix)] != prefix {
		return errs.New(errs.KindInvalidRequest, "local uploader cannot resolve non-file:// uri")
	}
	src := remoteURI[len(prefix):]
	return copyFile(src, destPath)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
