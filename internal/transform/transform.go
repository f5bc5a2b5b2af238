// Package transform holds the closed set of image transformations the worker
// can apply. Each variant is registered under its job type; dispatch is a map
// lookup so adding a variant never touches the worker loop.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for mixed-format inputs

	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

const (
	defaultQuality  = 60
	defaultMaxEdge  = 256
	encodingQuality = 90
)

// Params are the per-row transformation parameters carried in the job payload.
// Unknown payload fields are ignored; missing fields fall back to defaults.
type Params struct {
	// InputReference locates the source bytes in the object store.
	InputReference string `json:"input_reference"`
	// Quality is the JPEG quality for reduce_quality, 1..100.
	Quality int `json:"quality,omitempty"`
	// MaxEdge bounds the longest edge for thumbnail, in pixels.
	MaxEdge int `json:"max_edge,omitempty"`
}

// ParseParams decodes transformation parameters from a job payload.
func ParseParams(payload json.RawMessage) (Params, error) {
	var p Params
	if len(payload) == 0 {
		return p, imerrors.Validation("job payload is required")
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, imerrors.Wrap(err, imerrors.ErrCodeValidation, "decode job payload")
	}
	if p.InputReference == "" {
		return p, imerrors.Validation("payload is missing input_reference")
	}
	return p, nil
}

// Transformation converts source image bytes into output bytes. Every
// implementation is deterministic for a given input and parameters, which
// keeps reprocessing after a queue redelivery idempotent.
type Transformation interface {
	Apply(ctx context.Context, params Params, input []byte) ([]byte, error)
}

// Registry maps job types to their transformation.
type Registry struct {
	entries map[model.JobType]Transformation
}

// NewRegistry returns a registry with all supported transformations.
func NewRegistry() *Registry {
	return &Registry{entries: map[model.JobType]Transformation{
		model.JobTypeReduceQuality: reduceQuality{},
		model.JobTypeGrayscale:     grayscale{},
		model.JobTypeThumbnail:     thumbnail{},
	}}
}

// Lookup returns the transformation for a job type.
func (r *Registry) Lookup(jobType model.JobType) (Transformation, error) {
	t, ok := r.entries[jobType]
	if !ok {
		return nil, imerrors.Transformation(fmt.Sprintf("no transformation registered for job type %q", jobType))
	}
	return t, nil
}

func decode(input []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, imerrors.Wrap(err, imerrors.ErrCodeTransformation, "decode source image")
	}
	return img, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, imerrors.Wrap(err, imerrors.ErrCodeTransformation, "encode output image")
	}
	return buf.Bytes(), nil
}

// reduceQuality re-encodes the image as JPEG at the requested quality.
type reduceQuality struct{}

func (reduceQuality) Apply(_ context.Context, params Params, input []byte) ([]byte, error) {
	quality := params.Quality
	if quality <= 0 {
		quality = defaultQuality
	}
	if quality > 100 {
		quality = 100
	}
	img, err := decode(input)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(img, quality)
}

// grayscale converts the image to its luminance channel.
type grayscale struct{}

func (grayscale) Apply(_ context.Context, _ Params, input []byte) ([]byte, error) {
	img, err := decode(input)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return encodeJPEG(gray, encodingQuality)
}

// thumbnail downscales so the longest edge fits MaxEdge, sampling on an
// integer stride. Images already within bounds are re-encoded unchanged.
type thumbnail struct{}

func (thumbnail) Apply(_ context.Context, params Params, input []byte) ([]byte, error) {
	maxEdge := params.MaxEdge
	if maxEdge <= 0 {
		maxEdge = defaultMaxEdge
	}
	img, err := decode(input)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	stride := (longest + maxEdge - 1) / maxEdge
	if stride < 1 {
		stride = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, (bounds.Dx()+stride-1)/stride, (bounds.Dy()+stride-1)/stride))
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < out.Bounds().Dx(); x++ {
			out.Set(x, y, img.At(bounds.Min.X+x*stride, bounds.Min.Y+y*stride))
		}
	}
	return encodeJPEG(out, encodingQuality)
}
