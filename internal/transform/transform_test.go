package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestParseParams(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		p, err := ParseParams(json.RawMessage(`{"input_reference":"inputs/a","quality":40}`))
		require.NoError(t, err)
		assert.Equal(t, "inputs/a", p.InputReference)
		assert.Equal(t, 40, p.Quality)
	})

	t.Run("missing input reference", func(t *testing.T) {
		_, err := ParseParams(json.RawMessage(`{"quality":40}`))
		require.Error(t, err)
		assert.True(t, imerrors.IsValidation(err))
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := ParseParams(nil)
		require.Error(t, err)
		assert.True(t, imerrors.IsValidation(err))
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := ParseParams(json.RawMessage(`{not json`))
		require.Error(t, err)
		assert.True(t, imerrors.IsValidation(err))
	})
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()

	for _, jt := range []model.JobType{model.JobTypeReduceQuality, model.JobTypeGrayscale, model.JobTypeThumbnail} {
		tr, err := reg.Lookup(jt)
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}

	_, err := reg.Lookup(model.JobType("sepia"))
	require.Error(t, err)
	assert.True(t, imerrors.IsTransformation(err))
}

func TestReduceQuality(t *testing.T) {
	reg := NewRegistry()
	tr, err := reg.Lookup(model.JobTypeReduceQuality)
	require.NoError(t, err)

	input := testJPEG(t, 64, 48)
	out, err := tr.Apply(context.Background(), Params{Quality: 20}, input)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestReduceQualityRejectsGarbage(t *testing.T) {
	reg := NewRegistry()
	tr, err := reg.Lookup(model.JobTypeReduceQuality)
	require.NoError(t, err)

	_, err = tr.Apply(context.Background(), Params{}, []byte("not an image"))
	require.Error(t, err)
	assert.True(t, imerrors.IsTransformation(err))
}

func TestGrayscale(t *testing.T) {
	reg := NewRegistry()
	tr, err := reg.Lookup(model.JobTypeGrayscale)
	require.NoError(t, err)

	out, err := tr.Apply(context.Background(), Params{}, testJPEG(t, 32, 32))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	// A grayscale JPEG decodes with matching channel values.
	r, g, b, _ := img.At(10, 10).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestThumbnailBoundsLongestEdge(t *testing.T) {
	reg := NewRegistry()
	tr, err := reg.Lookup(model.JobTypeThumbnail)
	require.NoError(t, err)

	out, err := tr.Apply(context.Background(), Params{MaxEdge: 50}, testJPEG(t, 200, 100))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 50)
	assert.LessOrEqual(t, cfg.Height, 50)
	assert.Greater(t, cfg.Width, 0)
	assert.Greater(t, cfg.Height, 0)
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	reg := NewRegistry()
	tr, err := reg.Lookup(model.JobTypeThumbnail)
	require.NoError(t, err)

	out, err := tr.Apply(context.Background(), Params{MaxEdge: 256}, testJPEG(t, 40, 30))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestTransformationsAreDeterministic(t *testing.T) {
	reg := NewRegistry()
	input := testJPEG(t, 64, 64)

	for _, jt := range []model.JobType{model.JobTypeReduceQuality, model.JobTypeGrayscale, model.JobTypeThumbnail} {
		tr, err := reg.Lookup(jt)
		require.NoError(t, err)

		first, err := tr.Apply(context.Background(), Params{Quality: 30, MaxEdge: 16}, input)
		require.NoError(t, err)
		second, err := tr.Apply(context.Background(), Params{Quality: 30, MaxEdge: 16}, input)
		require.NoError(t, err)
		assert.Equal(t, first, second, "job type %s", jt)
	}
}
