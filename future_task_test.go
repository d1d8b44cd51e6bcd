package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFutureTask_CompletesOnce(t *testing.T) {
	f := NewFutureTask(7, frame(1))
	require.Equal(t, uint64(7), f.Seq())
	require.False(t, f.IsDone())
	require.False(t, isClosed(f.Done()))

	require.True(t, f.resolve([]byte("ok")))
	require.False(t, f.reject(errors.New("late")))
	require.False(t, f.resolve([]byte("again")))

	require.True(t, f.IsDone())
	require.True(t, isClosed(f.Done()))
	result := f.Get()
	require.NoError(t, result.Err)
	require.Equal(t, []byte("ok"), result.Image)
}

func TestFutureTask_Reject(t *testing.T) {
	f := NewFutureTask(1, frame(1))
	require.True(t, f.reject(ErrPoolClosed))
	require.ErrorIs(t, f.Get().Err, ErrPoolClosed)
	require.Nil(t, f.Get().Image)
}

func TestFutureTask_Cancel(t *testing.T) {
	f := NewFutureTask(1, frame(1))
	var withdrawn *FutureTask
	f.onCancel = func(task *FutureTask) { withdrawn = task }

	require.True(t, f.Cancel())
	require.True(t, f.IsCancelled())
	require.Same(t, f, withdrawn)
	require.ErrorIs(t, f.Get().Err, ErrTaskCanceled)
	require.False(t, f.bind())
	require.False(t, f.Cancel())
}

func TestFutureTask_CancelAfterBind(t *testing.T) {
	f := NewFutureTask(1, frame(1))
	require.True(t, f.bind())
	require.False(t, f.Cancel())
	require.False(t, f.IsCancelled())
	require.False(t, f.IsDone())
}
