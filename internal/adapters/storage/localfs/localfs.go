package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"serenity/internal/ports"
	apperrors "serenity/internal/pkg/errors"
)

// LocalFS implements ports.StorageProvider on the local filesystem, under
// a root directory.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

// path resolves objectKey under root and rejects keys escaping it.
func (l *LocalFS) path(objectKey string) (string, error) {
	if objectKey == "" {
		return "", apperrors.Validation("object_key is required")
	}
	clean := filepath.Clean("/" + filepath.FromSlash(objectKey))
	p := filepath.Join(l.root, clean)
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", apperrors.Validation(fmt.Sprintf("invalid object_key %q", objectKey))
	}
	return p, nil
}

// PutObject writes to a temp file and renames it, so readers never see a
// partial artifact.
func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in.Reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := ctx.Err(); err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, err
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p, err := l.path(objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", 0, apperrors.NotFound("object", objectKey)
		}
		return nil, "", 0, err
	}

	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	// Extension first, then content sniffing.
	contentType = mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		mt, sniffErr := mimetype.DetectReader(f)
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			f.Close()
			return nil, "", 0, seekErr
		}
		if sniffErr == nil {
			contentType = mt.String()
		} else {
			contentType = "application/octet-stream"
		}
	}

	return f, contentType, size, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, objectKey string) error {
	p, err := l.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *LocalFS) Check(ctx context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(l.root, ".check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
