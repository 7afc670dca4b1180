package collaborators

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/h2non/filetype"

	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

const maxDocumentBytes = 25 << 20

// GCSDocuments stores delivery attachments in a bucket and returns their public URLs.
type GCSDocuments struct {
	client     *storage.Client
	bucket     string
	publicBase string
}

func NewGCSDocuments(client *storage.Client, bucket, publicBase string) (*GCSDocuments, error) {
	if client == nil {
		return nil, errors.New("storage client required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket name required")
	}
	if publicBase == "" {
		publicBase = "https://storage.googleapis.com"
	}
	return &GCSDocuments{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

func (d *GCSDocuments) UploadDocuments(ctx context.Context, prefix string, files []Upload) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, file := range files {
		if len(file.Data) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "attachment is empty")
		}
		if len(file.Data) > maxDocumentBytes {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "attachment too large").
				WithDetails(map[string]any{"name": file.Name, "max_bytes": maxDocumentBytes})
		}
		contentType, err := sniffContentType(file)
		if err != nil {
			return nil, err
		}
		name := objectName(prefix, file.Name)
		w := d.client.Bucket(d.bucket).Object(name).NewWriter(ctx)
		w.ContentType = contentType
		if _, err := w.Write(file.Data); err != nil {
			_ = w.Close()
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload attachment")
		}
		if err := w.Close(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload attachment")
		}
		urls = append(urls, publicURL(d.publicBase, d.bucket, name))
	}
	return urls, nil
}

// Program formats never accepted as deliverables, keyed by filetype extension.
var blockedKinds = map[string]struct{}{"exe": {}, "elf": {}, "dex": {}, "dey": {}, "wasm": {}}

// sniffContentType takes the type from the file's magic bytes, not the
// client's header. Formats without a signature fall back to plain text or
// octet-stream so the bucket never serves client-chosen types such as HTML.
func sniffContentType(file Upload) (string, error) {
	kind, _ := filetype.Match(file.Data)
	if kind == filetype.Unknown {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(file.ContentType)), "text/") {
			return "text/plain; charset=utf-8", nil
		}
		return "application/octet-stream", nil
	}
	if _, blocked := blockedKinds[kind.Extension]; blocked {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "executable attachments are not accepted").
			WithDetails(map[string]any{"name": file.Name, "detected": kind.MIME.Value})
	}
	return kind.MIME.Value, nil
}

// objectName keeps the original base name behind a random segment so
// uploads with the same name never overwrite each other.
func objectName(prefix, filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		base = "attachment"
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", uuid.NewString(), base)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, uuid.NewString(), base)
}

func publicURL(base, bucket, object string) string {
	segments := strings.Split(object, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", base, bucket, strings.Join(segments, "/"))
}
