// Package upload implements the streaming multipart/form upload engine:
// per-part temp-file spooling, save/save-as with atomic rename, and
// payload/upload byte-limit enforcement.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Sentinel errors of the upload package, so callers don't need to import
// the root sagui package just to errors.Is against them. The root
// package's ErrExists is this ErrExists; ErrIsDirectory there is a
// distinct value.
var (
	ErrAlready      = fmt.Errorf("upload: already saved or discarded")
	ErrExists       = fmt.Errorf("upload: destination exists")
	ErrIsDirectory  = fmt.Errorf("upload: destination is a directory")
	ErrInvalidState = fmt.Errorf("upload: invalid state")
)

// Upload is one file part of a multipart request: a spooled temp file plus
// the metadata needed to save it to its final destination.
//
// Lifetime: created when the first byte of a new file part is observed;
// destroyed either by a successful Save/SaveAs (rename of temp to
// destination) or by Discard on request teardown (unlink of temp).
type Upload struct {
	Field    string
	Filename string
	MIME     string
	Encoding string
	Size     int64

	destPath string
	tempPath string
	f        *os.File
	closed   bool
}

// newUpload creates the backing temp file under dir with a unique,
// mkstemp-style suffix (github.com/google/uuid — see DESIGN.md).
// destPath is the caller-preferred destination (uploads_dir + filename
// unless the caller overrides it before Save).
func newUpload(dir, field, filename, mime, encoding string) (*Upload, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("upload: mkdir %q: %w", dir, err)
	}
	tempName := fmt.Sprintf(".%s-%s.tmp", filepath.Base(filename), uuid.NewString())
	tempPath := filepath.Join(dir, tempName)

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("upload: open temp %q: %w", tempPath, err)
	}

	return &Upload{
		Field:    field,
		Filename: filename,
		MIME:     mime,
		Encoding: encoding,
		tempPath: tempPath,
		destPath: filepath.Join(dir, filepath.Base(filename)),
		f:        f,
	}, nil
}

// Write appends size bytes at the given offset (the multipart post-
// processor delivers chunks strictly in order, so offset is always the
// current write position — Write does not seek).
func (u *Upload) Write(offset int64, data []byte) (int, error) {
	if u.closed {
		return 0, ErrInvalidState
	}
	n, err := u.f.Write(data)
	if err != nil {
		return n, fmt.Errorf("upload: write temp %q: %w", u.tempPath, err)
	}
	u.Size += int64(n)
	return n, nil
}

// DestPath returns the destination Save will rename the temp file to.
func (u *Upload) DestPath() string { return u.destPath }

// SetDestPath overrides the destination Save will use, before Save/SaveAs
// is called.
func (u *Upload) SetDestPath(path string) { u.destPath = path }

// Save renames the spooled temp file onto DestPath(). See SaveAs for the
// exists/overwrite/atomic-rename contract.
func (u *Upload) Save(overwrite bool) error {
	return u.SaveAs(u.destPath, overwrite)
}

// SaveAs closes the backing temp file (a second Save/SaveAs call fails
// with ErrInvalidState), checks path -- ErrIsDirectory if path is an
// existing directory, ErrExists if path exists and overwrite is false
// (unlinked first when overwrite is true) -- then renames the temp file
// onto path. Rename is atomic when temp and path share a filesystem (both
// live under the configured uploads dir by construction).
func (u *Upload) SaveAs(path string, overwrite bool) error {
	if u.closed {
		return ErrInvalidState
	}
	if err := u.f.Close(); err != nil {
		u.closed = true
		return fmt.Errorf("upload: close temp %q: %w", u.tempPath, err)
	}
	u.closed = true

	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return ErrIsDirectory
		}
		if !overwrite {
			return ErrExists
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("upload: remove existing %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("upload: stat %q: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("upload: mkdir %q: %w", filepath.Dir(path), err)
	}

	if err := os.Rename(u.tempPath, path); err != nil {
		if isCrossDevice(err) {
			if cerr := copyThenRemove(u.tempPath, path); cerr != nil {
				return fmt.Errorf("upload: cross-filesystem copy to %q: %w", path, cerr)
			}
			return nil
		}
		return fmt.Errorf("upload: rename to %q: %w", path, err)
	}
	return nil
}

// Discard closes the backing temp file, if still open, and unlinks it.
// Called on request teardown for any Upload that was never saved — no
// partial uploads are ever promoted to their destination.
func (u *Upload) Discard() {
	if !u.closed {
		u.f.Close()
		u.closed = true
	}
	os.Remove(u.tempPath)
}

// copyThenRemove is the fallback used when rename cannot be atomic (temp
// and destination live on different devices).
func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
