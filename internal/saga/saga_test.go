package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, doErr, compErr error) Step {
	return Step{
		Name: name,
		Do: func(context.Context) error {
			r.calls = append(r.calls, "do:"+name)
			return doErr
		},
		Compensate: func(ctx context.Context) error {
			if ctx.Err() != nil {
				r.calls = append(r.calls, "cancelled:"+name)
			}
			r.calls = append(r.calls, "undo:"+name)
			return compErr
		},
	}
}

func TestRunSuccessSkipsCompensation(t *testing.T) {
	rec := &recorder{}
	err := New(nil, 0).Run(context.Background(), "ok", rec.step("a", nil, nil), rec.step("b", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"do:a", "do:b"}, rec.calls)
}

func TestRunCompensatesCompletedStepsInReverse(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")

	err := New(nil, 0).Run(context.Background(), "fail",
		rec.step("a", nil, nil),
		rec.step("b", nil, nil),
		rec.step("c", boom, nil),
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, rec.calls)
}

func TestCompensationFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := &recorder{}
	boom := errors.New("persist failed")

	err := New(zap.New(core), 0).Run(context.Background(), "order.create",
		rec.step("admit", nil, errors.New("redis down")),
		rec.step("persist", boom, nil),
	)
	assert.ErrorIs(t, err, boom)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "saga compensation failed", entry.Message)
	assert.Equal(t, "admit", entry.ContextMap()["step"])
}

func TestCancelledContextStillCompensates(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	cancelling := Step{
		Name: "persist",
		Do: func(context.Context) error {
			cancel()
			return context.Canceled
		},
	}
	err := New(nil, 0).Run(ctx, "cancel", rec.step("admit", nil, nil), cancelling)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"do:admit", "undo:admit"}, rec.calls)
}

func TestCancellationBetweenStepsStopsForwardProgress(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	first := Step{
		Name: "admit",
		Do: func(context.Context) error {
			rec.calls = append(rec.calls, "do:admit")
			cancel()
			return nil
		},
		Compensate: func(context.Context) error {
			rec.calls = append(rec.calls, "undo:admit")
			return nil
		},
	}

	err := New(nil, 0).Run(ctx, "cancel", first, rec.step("persist", nil, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"do:admit", "undo:admit"}, rec.calls)
}

func TestCompensationPanicIsRecovered(t *testing.T) {
	boom := errors.New("boom")
	steps := []Step{
		{Name: "a", Do: func(context.Context) error { return nil }, Compensate: func(context.Context) error { panic("bad") }},
		{Name: "b", Do: func(context.Context) error { return boom }},
	}
	assert.NotPanics(t, func() {
		err := New(nil, 0).Run(context.Background(), "panic", steps...)
		assert.ErrorIs(t, err, boom)
	})
}
