package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (s *stubJob) Name() string                { return s.name }
func (s *stubJob) Description() string         { return "stub" }
func (s *stubJob) Run(ctx context.Context) error { s.runs++; return s.err }

func TestScheduler_RegisterRejectsBadSpec(t *testing.T) {
	s := New(Config{})

	err := s.Register(&stubJob{name: "a"}, "not a spec")
	assert.Error(t, err)

	require.NoError(t, s.Register(&stubJob{name: "a"}, "@every 1h"))
	err = s.Register(&stubJob{name: "a"}, "@every 1h")
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
}

func TestScheduler_RunNowRecordsResult(t *testing.T) {
	var completed []JobResult
	s := New(Config{OnJobComplete: func(r JobResult) { completed = append(completed, r) }})
	job := &stubJob{name: "rollover", err: errors.New("boom")}
	require.NoError(t, s.Register(job, "0 0 * * 0"))

	result, err := s.RunNow(context.Background(), "rollover")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, job.runs)

	last, ok := s.LastRun("rollover")
	require.True(t, ok)
	assert.EqualError(t, last.Error, "boom")
	assert.Len(t, completed, 1)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_NextRunFollowsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	s := New(Config{Location: loc})
	require.NoError(t, s.Register(&stubJob{name: "quests"}, "1 0 * * *"))

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	next, ok := s.NextRun("quests")
	require.True(t, ok)
	local := next.In(loc)
	assert.Equal(t, 0, local.Hour())
	assert.Equal(t, 1, local.Minute())
}
