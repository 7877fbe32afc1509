package attachment

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
	"marketchat/pkg/errors"
)

type recordingUploader struct {
	calls       int
	contentType string
	objectName  string
	data        []byte
	err         error
}

func (u *recordingUploader) UploadFile(ctx context.Context, file io.Reader, contentType, objectName string) (*service.UploadResult, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	u.contentType = contentType
	u.objectName = objectName
	u.data = data
	return &service.UploadResult{
		URL:        "https://storage.example.com/" + objectName,
		ObjectName: objectName,
		Size:       int64(len(data)),
	}, nil
}

func (u *recordingUploader) DeleteFile(ctx context.Context, fileURL string) error { return nil }

func (u *recordingUploader) Close() error { return nil }

// noisyPNG encodes a deterministic noise image; noise defeats PNG compression,
// so the result comfortably exceeds the recompression threshold.
func noisyPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 0)

	_, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader([]byte("MZ")),
		Filename:    "tool.exe",
		ContentType: "application/octet-stream",
		Size:        2,
	}, nil)

	assert.True(t, errors.Is(err, "INVALID_FILE_TYPE"))
	assert.Equal(t, 0, uploader.calls)
}

func TestUploadRejectsDeclaredOversize(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 0)

	_, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(nil),
		Filename:    "big.pdf",
		ContentType: "application/pdf",
		Size:        DefaultMaxBytes + 1,
	}, nil)

	assert.True(t, errors.Is(err, "FILE_TOO_LARGE"))
	assert.Equal(t, 0, uploader.calls)
}

func TestUploadRejectsUnderdeclaredOversize(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 1024)

	// Declared size fits, actual bytes do not.
	_, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(make([]byte, 2048)),
		Filename:    "sneaky.pdf",
		ContentType: "application/pdf",
		Size:        100,
	}, nil)

	assert.True(t, errors.Is(err, "FILE_TOO_LARGE"))
	assert.Equal(t, 0, uploader.calls)
}

func TestUploadPDFPassesThroughUntouched(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 0)

	payload := []byte("%PDF-1.4 original bytes")
	result, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(payload),
		Filename:    "Receipt (final).pdf",
		ContentType: "application/pdf",
		Size:        int64(len(payload)),
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, entity.MessageTypePDF, result.Kind)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, payload, uploader.data)
	assert.True(t, strings.HasPrefix(uploader.objectName, "chats/conv-1/"))
	assert.True(t, strings.HasSuffix(uploader.objectName, "Receipt__final_.pdf"))
}

func TestUploadSmallImageSkipsRecompression(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 0)

	payload := noisyPNG(t, 50, 50)
	result, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(payload),
		Filename:    "tiny.png",
		ContentType: "image/png",
		Size:        int64(len(payload)),
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, entity.MessageTypeImage, result.Kind)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, payload, uploader.data)
}

func TestUploadLargeImageRecompressedAndScaled(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 64*1024*1024)

	payload := noisyPNG(t, 1600, 900)
	assert.Greater(t, len(payload), compressThreshold)

	result, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(payload),
		Filename:    "photo.png",
		ContentType: "image/png",
		Size:        int64(len(payload)),
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, entity.MessageTypeImage, result.Kind)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.True(t, strings.HasSuffix(uploader.objectName, ".jpg"))

	decoded, err := jpeg.Decode(bytes.NewReader(uploader.data))
	assert.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), maxDimension)
	assert.LessOrEqual(t, decoded.Bounds().Dy(), maxDimension)
	// Aspect ratio survives the resize.
	assert.Equal(t, 1200, decoded.Bounds().Dx())
	assert.Equal(t, 675, decoded.Bounds().Dy())
}

func TestUploadCorruptImageFallsBackToOriginal(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 64*1024*1024)

	// Declared as PNG but undecodable: compression fails and the original
	// bytes still go up.
	rng := rand.New(rand.NewSource(7))
	payload := make([]byte, compressThreshold+1)
	rng.Read(payload)

	result, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(payload),
		Filename:    "broken.png",
		ContentType: "image/png",
		Size:        int64(len(payload)),
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, payload, uploader.data)
}

func TestUploadStorageFailureMapsToUploadFailed(t *testing.T) {
	uploader := &recordingUploader{err: assert.AnError}
	p := NewPipeline(uploader, 0)

	_, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader([]byte("%PDF-1.4")),
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
		Size:        8,
	}, nil)

	assert.True(t, errors.Is(err, "UPLOAD_FAILED"))
}

func TestUploadProgressIsMonotonic(t *testing.T) {
	uploader := &recordingUploader{}
	p := NewPipeline(uploader, 0)

	payload := bytes.Repeat([]byte("x"), 64*1024)
	var reports []int
	_, err := p.Upload(context.Background(), "conv-1", Upload{
		Reader:      bytes.NewReader(payload),
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(payload)),
	}, func(pct int) {
		reports = append(reports, pct)
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, reports)
	assert.Equal(t, 0, reports[0])
	assert.Equal(t, 100, reports[len(reports)-1])
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, entity.MessageTypeImage, Classify("image/png"))
	assert.Equal(t, entity.MessageTypeImage, Classify("IMAGE/JPEG; charset=binary"))
	assert.Equal(t, entity.MessageTypePDF, Classify("application/pdf"))
	assert.Equal(t, "", Classify("text/html"))
}
