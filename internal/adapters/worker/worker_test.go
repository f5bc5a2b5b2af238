package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/core/mocks"
	"github.com/imagemill/imagemill/internal/domain/model"
	"github.com/imagemill/imagemill/internal/transform"
)

type fixture struct {
	runner  *Runner
	work    *mocks.MockQueue
	results *mocks.MockQueue
	store   *mocks.MockObjectStore
}

func newFixture(t *testing.T, maxAttempts int, emitProcessing bool) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		work:    mocks.NewMockQueue(ctrl),
		results: mocks.NewMockQueue(ctrl),
		store:   mocks.NewMockObjectStore(ctrl),
	}
	runner, err := NewRunner(Options{
		WorkQueue:      f.work,
		ResultQueue:    f.results,
		Store:          f.store,
		Registry:       transform.NewRegistry(),
		MaxAttempts:    maxAttempts,
		EmitProcessing: emitProcessing,
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}

func workDelivery(t *testing.T, msg model.WorkMessage) core.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return core.Delivery{ID: "1-0", Body: body, Attempt: 1}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decodeResult(t *testing.T, body []byte) model.ResultMessage {
	t.Helper()
	var res model.ResultMessage
	require.NoError(t, json.Unmarshal(body, &res))
	return res
}

func TestHandleCompletesJob(t *testing.T) {
	f := newFixture(t, 1, false)
	msg := model.WorkMessage{
		ID:      "job-1",
		Type:    model.JobTypeGrayscale,
		Payload: json.RawMessage(`{"input_reference":"inputs/a.jpg"}`),
	}

	var resultEnqueued bool
	f.store.EXPECT().Get(gomock.Any(), "inputs/a.jpg").Return(testJPEG(t), nil)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1", gomock.Any()).Return("outputs/job-1", nil)
	f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, body []byte) error {
			res := decodeResult(t, body)
			assert.Equal(t, "job-1", res.ID)
			assert.Equal(t, model.JobStatusCompleted, res.Status)
			assert.Equal(t, "outputs/job-1", res.OutputReference)
			assert.Equal(t, 1, res.Attempt)
			resultEnqueued = true
			return nil
		})
	f.work.EXPECT().Ack(gomock.Any(), "1-0").
		DoAndReturn(func(context.Context, string) error {
			// The result must already be durable when the work message acks.
			assert.True(t, resultEnqueued)
			return nil
		})

	require.NoError(t, f.runner.handle(context.Background(), workDelivery(t, msg)))
}

func TestHandleEmitsProcessingSignal(t *testing.T) {
	f := newFixture(t, 1, true)
	msg := model.WorkMessage{
		ID:      "job-1",
		Type:    model.JobTypeGrayscale,
		Payload: json.RawMessage(`{"input_reference":"inputs/a.jpg"}`),
	}

	first := f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, body []byte) error {
			res := decodeResult(t, body)
			assert.Equal(t, model.JobStatusProcessing, res.Status)
			return nil
		})
	f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).After(first).
		DoAndReturn(func(_ context.Context, body []byte) error {
			assert.Equal(t, model.JobStatusCompleted, decodeResult(t, body).Status)
			return nil
		})
	f.store.EXPECT().Get(gomock.Any(), "inputs/a.jpg").Return(testJPEG(t), nil)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1", gomock.Any()).Return("outputs/job-1", nil)
	f.work.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), workDelivery(t, msg)))
}

func TestHandleUndecodableInputFailsWithoutRetry(t *testing.T) {
	f := newFixture(t, 3, false)
	msg := model.WorkMessage{
		ID:      "job-1",
		Type:    model.JobTypeReduceQuality,
		Payload: json.RawMessage(`{"input_reference":"inputs/bad"}`),
	}

	// A permanent transformation error is not retried.
	f.store.EXPECT().Get(gomock.Any(), "inputs/bad").Return([]byte("not an image"), nil).Times(1)
	f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, body []byte) error {
			res := decodeResult(t, body)
			assert.Equal(t, model.JobStatusFailed, res.Status)
			assert.Empty(t, res.OutputReference)
			assert.NotEmpty(t, res.ErrorReason)
			return nil
		})
	f.work.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), workDelivery(t, msg)))
}

func TestHandleRetriesTransientStoreErrors(t *testing.T) {
	f := newFixture(t, 3, false)
	msg := model.WorkMessage{
		ID:      "job-1",
		Type:    model.JobTypeGrayscale,
		Payload: json.RawMessage(`{"input_reference":"inputs/a.jpg"}`),
	}

	gomock.InOrder(
		f.store.EXPECT().Get(gomock.Any(), "inputs/a.jpg").Return(nil, errors.New("connection reset")),
		f.store.EXPECT().Get(gomock.Any(), "inputs/a.jpg").Return(testJPEG(t), nil),
	)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1", gomock.Any()).Return("outputs/job-1", nil)
	f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, body []byte) error {
			res := decodeResult(t, body)
			assert.Equal(t, model.JobStatusCompleted, res.Status)
			assert.Equal(t, 2, res.Attempt)
			return nil
		})
	f.work.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), workDelivery(t, msg)))
}

func TestHandleExhaustsAttemptsThenFails(t *testing.T) {
	f := newFixture(t, 2, false)
	msg := model.WorkMessage{
		ID:      "job-1",
		Type:    model.JobTypeGrayscale,
		Payload: json.RawMessage(`{"input_reference":"inputs/a.jpg"}`),
	}

	f.store.EXPECT().Get(gomock.Any(), "inputs/a.jpg").
		Return(nil, errors.New("connection reset")).Times(2)
	f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, body []byte) error {
			assert.Equal(t, model.JobStatusFailed, decodeResult(t, body).Status)
			return nil
		})
	f.work.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), workDelivery(t, msg)))
}

func TestHandleMalformedWorkMessageAcked(t *testing.T) {
	f := newFixture(t, 1, false)

	f.work.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	err := f.runner.handle(context.Background(), core.Delivery{ID: "1-0", Body: []byte("{oops")})
	require.NoError(t, err)
}

func TestHandleResultEnqueueFailureLeavesWorkPending(t *testing.T) {
	f := newFixture(t, 1, false)
	msg := model.WorkMessage{
		ID:      "job-1",
		Type:    model.JobTypeGrayscale,
		Payload: json.RawMessage(`{"input_reference":"inputs/a.jpg"}`),
	}

	f.store.EXPECT().Get(gomock.Any(), "inputs/a.jpg").Return(testJPEG(t), nil)
	f.store.EXPECT().Put(gomock.Any(), "outputs/job-1", gomock.Any()).Return("outputs/job-1", nil)
	f.results.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	// No Ack: the work message must stay pending for redelivery.

	err := f.runner.handle(context.Background(), workDelivery(t, msg))
	require.Error(t, err)
}

func TestOutputKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, "outputs/job-1", OutputKey("job-1"))
	assert.Equal(t, OutputKey("x"), OutputKey("x"))
}
