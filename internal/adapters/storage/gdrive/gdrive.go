package gdrive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"serenity/internal/ports"
	apperrors "serenity/internal/pkg/errors"
)

// Client implements ports.StorageProvider on Google Drive. Uploads are
// named after the object key; the returned object key is the Drive file id.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, apperrors.Validation("object_key is required")
	}

	file := &drive.File{
		Name:        path.Base(in.ObjectKey),
		Description: in.ObjectKey,
		MimeType:    in.ContentType,
	}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file).SupportsAllDrives(true).Fields("id", "size")
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, apperrors.Wrap(err, "gdrive.PutObject", "gdrive upload failed")
	}

	size := in.Size
	if created.Size > 0 {
		size = created.Size
	}
	return ports.PutObjectOutput{ObjectKey: created.Id, Size: size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, mapErr(err, objectKey, "gdrive.GetObject")
	}

	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	err := c.srv.Files.Delete(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil && !isNotFound(err) {
		return mapErr(err, objectKey, "gdrive.DeleteObject")
	}
	return nil
}

// Check verifies the credentials by reading the account's user record.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.srv.About.Get().Fields("user").Context(ctx).Do()
	return err
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func mapErr(err error, objectKey, op string) error {
	if isNotFound(err) {
		return apperrors.NotFound("object", objectKey)
	}
	return apperrors.Wrap(err, op, "gdrive request failed")
}
