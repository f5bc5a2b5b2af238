package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/imagemill/imagemill/internal/core"
	"github.com/imagemill/imagemill/internal/core/mocks"
	"github.com/imagemill/imagemill/internal/domain/model"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

type fixture struct {
	runner   *Runner
	queue    *mocks.MockQueue
	repo     *mocks.MockJobRepository
	notifier *mocks.MockWebhookSender
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		queue:    mocks.NewMockQueue(ctrl),
		repo:     mocks.NewMockJobRepository(ctrl),
		notifier: mocks.NewMockWebhookSender(ctrl),
	}
	runner, err := NewRunner(Options{
		ResultQueue:       f.queue,
		Repo:              f.repo,
		Notifier:          f.notifier,
		OrphanRetryDelay:  250 * time.Millisecond,
		NotifyMaxAttempts: 3,
		NotifyBackoff:     time.Second,
		Sleep: func(_ context.Context, d time.Duration) {
			f.sleeps = append(f.sleeps, d)
		},
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}

func delivery(t *testing.T, res model.ResultMessage) core.Delivery {
	t.Helper()
	body, err := json.Marshal(res)
	require.NoError(t, err)
	return core.Delivery{ID: "1-0", Body: body, Attempt: 1}
}

func completedJob(id string) *model.Job {
	out := "outputs/" + id
	return &model.Job{
		ID:              id,
		Type:            model.JobTypeGrayscale,
		Status:          model.JobStatusCompleted,
		OutputReference: &out,
		NotifyTarget:    "https://example.com/hook",
	}
}

func TestHandleAppliesTerminalAndNotifies(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusCompleted, OutputReference: "outputs/job-1"}

	f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).Return(core.ApplyApplied, nil)
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)
	f.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(completedJob("job-1"), nil)
	f.notifier.EXPECT().Send(gomock.Any(), "https://example.com/hook", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, summary core.TerminalSummary) error {
			assert.Equal(t, "job-1", summary.JobID)
			assert.Equal(t, model.JobStatusCompleted, summary.Status)
			assert.Equal(t, "outputs/job-1", summary.OutputReference)
			return nil
		})
	f.repo.EXPECT().MarkNotified(gomock.Any(), "job-1").Return(true, nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
	f.runner.notifWG.Wait()
}

func TestHandleDuplicateResultAcksWithoutNotification(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusCompleted, OutputReference: "outputs/job-1"}

	f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).Return(core.ApplyDuplicate, nil)
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
	f.runner.notifWG.Wait()
}

func TestHandleConflictingTerminalKeepsExistingState(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusFailed, ErrorReason: "boom"}

	f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).
		Return(core.ApplyConflict, imerrors.Consistencyf("job job-1 already completed"))
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
}

func TestHandleOrphanRetriesOnceThenDiscards(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "ghost", Status: model.JobStatusCompleted, OutputReference: "outputs/ghost"}

	f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).
		Return(core.ApplyConflict, imerrors.NotFoundf("job ghost not found")).Times(2)
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, f.sleeps)
}

func TestHandleOrphanRetrySucceedsAfterRace(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusFailed, ErrorReason: "boom"}

	gomock.InOrder(
		f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).
			Return(core.ApplyConflict, imerrors.NotFoundf("job job-1 not found")),
		f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).
			Return(core.ApplyApplied, nil),
	)
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)
	job := completedJob("job-1")
	job.Status = model.JobStatusFailed
	job.OutputReference = nil
	f.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.repo.EXPECT().MarkNotified(gomock.Any(), "job-1").Return(true, nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
	f.runner.notifWG.Wait()
}

func TestHandleStoreErrorLeavesDeliveryPending(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusCompleted, OutputReference: "outputs/job-1"}

	f.repo.EXPECT().ApplyTerminal(gomock.Any(), gomock.Any()).
		Return(core.ApplyConflict, imerrors.Wrap(errors.New("connection refused"), imerrors.ErrCodeStore, "apply"))

	err := f.runner.handle(context.Background(), delivery(t, res))
	require.Error(t, err)
	assert.True(t, imerrors.IsStore(err))
}

func TestHandleProcessingSignal(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusProcessing}

	f.repo.EXPECT().MarkProcessing(gomock.Any(), "job-1").Return(true, nil)
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
}

func TestHandleStaleProcessingSignalIgnored(t *testing.T) {
	f := newFixture(t)
	res := model.ResultMessage{ID: "job-1", Status: model.JobStatusProcessing}

	f.repo.EXPECT().MarkProcessing(gomock.Any(), "job-1").Return(false, nil)
	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	require.NoError(t, f.runner.handle(context.Background(), delivery(t, res)))
}

func TestHandleMalformedMessageAcked(t *testing.T) {
	f := newFixture(t)

	f.queue.EXPECT().Ack(gomock.Any(), "1-0").Return(nil)

	err := f.runner.handle(context.Background(), core.Delivery{ID: "1-0", Body: []byte("{not json")})
	require.NoError(t, err)
}

func TestNotificationBacksOffExponentiallyAndCaps(t *testing.T) {
	f := newFixture(t)

	f.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(completedJob("job-1"), nil)
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(imerrors.Wrap(errors.New("503"), imerrors.ErrCodeNotification, "post")).Times(3)
	// MarkNotified is never called: the flag only flips on success.

	f.runner.notify(context.Background(), "job-1")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
}

func TestNotificationSkippedWhenAlreadyNotified(t *testing.T) {
	f := newFixture(t)

	job := completedJob("job-1")
	job.Notified = true
	f.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)

	f.runner.notify(context.Background(), "job-1")
	assert.Empty(t, f.sleeps)
}

func TestNotificationRecoversAfterTransientFailure(t *testing.T) {
	f := newFixture(t)

	f.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(completedJob("job-1"), nil)
	gomock.InOrder(
		f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(imerrors.Wrap(errors.New("timeout"), imerrors.ErrCodeNotification, "post")),
		f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
	)
	f.repo.EXPECT().MarkNotified(gomock.Any(), "job-1").Return(true, nil)

	f.runner.notify(context.Background(), "job-1")
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps)
}
