package upload

import (
	"bytes"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// File is an in-memory payload selected for upload.
type File struct {
	Filename string
	MimeType string
	Data     []byte
}

// BatchProgress reports which file of a batch is being compressed.
type BatchProgress func(index, total int, filename string)

// Compressor shrinks oversized images before transfer. Non-images and
// undecodable inputs pass through unchanged; compression never produces a
// payload larger than the original.
type Compressor struct {
	targetSize int64
	logger     *zap.Logger
}

// NewCompressor builds a compressor with a soft output ceiling (default 1 MiB).
func NewCompressor(targetSize int64, logger *zap.Logger) *Compressor {
	if targetSize <= 0 {
		targetSize = 1 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{targetSize: targetSize, logger: logger}
}

// Compress returns a payload no larger than the input with the same mime
// type. Any internal failure falls back to the original bytes so one bad
// file never blocks a batch.
func (c *Compressor) Compress(file File) File {
	if int64(len(file.Data)) <= c.targetSize {
		return file
	}
	if !isCompressibleImage(file.MimeType) {
		return file
	}

	img, err := imaging.Decode(bytes.NewReader(file.Data), imaging.AutoOrientation(true))
	if err != nil {
		c.logger.Debug("image decode failed, keeping original",
			zap.String("filename", file.Filename), zap.Error(err))
		return file
	}

	encoded, err := c.shrink(img, file.MimeType)
	if err != nil {
		c.logger.Debug("image re-encode failed, keeping original",
			zap.String("filename", file.Filename), zap.Error(err))
		return file
	}
	if len(encoded) >= len(file.Data) {
		return file
	}
	return File{Filename: file.Filename, MimeType: file.MimeType, Data: encoded}
}

// CompressBatch processes files one at a time to bound peak memory, calling
// progress before each file.
func (c *Compressor) CompressBatch(files []File, progress BatchProgress) []File {
	out := make([]File, len(files))
	for i, file := range files {
		if progress != nil {
			progress(i, len(files), file.Filename)
		}
		out[i] = c.Compress(file)
	}
	return out
}

// shrink re-encodes the image under the target size, scaling down in steps
// when quality reduction alone is not enough.
func (c *Compressor) shrink(img image.Image, mimeType string) ([]byte, error) {
	scale := 1.0
	quality := 85

	var last []byte
	for attempt := 0; attempt < 6; attempt++ {
		candidate := img
		if scale < 1.0 {
			width := int(float64(img.Bounds().Dx()) * scale)
			if width < 1 {
				break
			}
			candidate = imaging.Resize(img, width, 0, imaging.Lanczos)
		}

		buf := &bytes.Buffer{}
		var err error
		switch {
		case strings.EqualFold(mimeType, "image/png"):
			err = imaging.Encode(buf, candidate, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
		default:
			err = imaging.Encode(buf, candidate, imaging.JPEG, imaging.JPEGQuality(quality))
		}
		if err != nil {
			return nil, err
		}

		last = buf.Bytes()
		if int64(len(last)) <= c.targetSize {
			return last, nil
		}

		scale *= 0.7
		if quality > 50 {
			quality -= 10
		}
	}
	return last, nil
}

func isCompressibleImage(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg", "image/png":
		return true
	}
	return false
}
