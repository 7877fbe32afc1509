package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	// DefaultMaxBytes is the attachment size ceiling.
	DefaultMaxBytes = 5 * 1024 * 1024

	// Images above this size get re-encoded before upload.
	compressThreshold = 500 * 1024
	maxDimension      = 1200
	jpegQuality       = 70
)

var allowedTypes = map[string]string{
	"image/jpeg":      entity.MessageTypeImage,
	"image/jpg":       entity.MessageTypeImage,
	"image/png":       entity.MessageTypeImage,
	"image/webp":      entity.MessageTypeImage,
	"application/pdf": entity.MessageTypePDF,
}

type Upload struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

type Result struct {
	URL         string
	ContentType string
	Kind        string // entity.MessageTypeImage or entity.MessageTypePDF
	Size        int64
}

// Pipeline validates, optionally recompresses and uploads chat attachments.
// Validation happens before any storage call so a rejected file never leaves
// bytes behind.
type Pipeline struct {
	uploader service.FileUploader
	maxBytes int64
}

func NewPipeline(uploader service.FileUploader, maxBytes int64) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Pipeline{
		uploader: uploader,
		maxBytes: maxBytes,
	}
}

// Classify maps a MIME type to its message kind, or "" if disallowed.
func Classify(contentType string) string {
	return allowedTypes[normalizeContentType(contentType)]
}

func (p *Pipeline) Upload(ctx context.Context, conversationID string, in Upload, onProgress func(int)) (*Result, error) {
	contentType := normalizeContentType(in.ContentType)
	kind, ok := allowedTypes[contentType]
	if !ok {
		return nil, errors.InvalidFileType(in.ContentType)
	}
	if in.Size > p.maxBytes {
		return nil, errors.FileTooLarge(p.maxBytes)
	}

	report := monotonicProgress(onProgress)
	report(0)

	data, err := io.ReadAll(io.LimitReader(in.Reader, p.maxBytes+1))
	if err != nil {
		return nil, errors.UploadFailed(err)
	}
	if int64(len(data)) > p.maxBytes {
		// Declared size lied; the real bytes are over the limit.
		return nil, errors.FileTooLarge(p.maxBytes)
	}
	report(10)

	if kind == entity.MessageTypeImage && int64(len(data)) > compressThreshold {
		compressed, err := compressImage(data, contentType, maxDimension, jpegQuality)
		if err != nil {
			// Compression is best effort; the original bytes still go up.
			logger.Warn("Attachment compression failed for conversation %s, uploading original: %v", conversationID, err)
		} else {
			data = compressed
			contentType = "image/jpeg"
		}
	}
	report(20)

	reader := newProgressReader(bytes.NewReader(data), int64(len(data)), 20, 99, report)
	result, err := p.uploader.UploadFile(ctx, reader, contentType, objectName(conversationID, in.Filename, contentType))
	if err != nil {
		return nil, errors.UploadFailed(err)
	}
	report(100)

	return &Result{
		URL:         result.URL,
		ContentType: contentType,
		Kind:        kind,
		Size:        result.Size,
	}, nil
}

func normalizeContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// objectName namespaces the stored object by conversation and makes the name
// collision resistant with a millisecond timestamp prefix.
func objectName(conversationID, filename, contentType string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = sanitizeName(base)
	if base == "" {
		base = "file"
	}

	var ext string
	switch contentType {
	case "image/jpeg", "image/jpg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	case "application/pdf":
		ext = ".pdf"
	default:
		ext = ".bin"
	}

	return fmt.Sprintf("chats/%s/%d-%s%s", conversationID, time.Now().UnixMilli(), base, ext)
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// monotonicProgress clamps to 0-100 and swallows repeats and regressions so
// callers always observe a non-decreasing integer percentage.
func monotonicProgress(onProgress func(int)) func(int) {
	last := -1
	return func(pct int) {
		if onProgress == nil {
			return
		}
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		if pct <= last {
			return
		}
		last = pct
		onProgress(pct)
	}
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	from   int
	to     int
	report func(int)
}

func newProgressReader(r io.Reader, total int64, from, to int, report func(int)) *progressReader {
	return &progressReader{
		r:      r,
		total:  total,
		from:   from,
		to:     to,
		report: report,
	}
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.read += int64(n)
	if pr.total > 0 {
		pr.report(pr.from + int(int64(pr.to-pr.from)*pr.read/pr.total))
	}
	return n, err
}
