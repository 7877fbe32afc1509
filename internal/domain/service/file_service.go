package service

import (
	"context"
	"io"
)

type UploadResult struct {
	URL        string
	ObjectName string
	Size       int64
}

// FileUploader persists attachment bytes in the blob store under a
// caller-chosen object name and returns a publicly fetchable URL.
type FileUploader interface {
	UploadFile(ctx context.Context, file io.Reader, contentType, objectName string) (*UploadResult, error)
	DeleteFile(ctx context.Context, fileURL string) error
	Close() error
}
