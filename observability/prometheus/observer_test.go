package prometheus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	executor "github.com/vearne/frameexecutor"
)

func TestObserver_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	o := NewObserver(reg)

	o.ExecutorSpawned("a")
	o.ExecutorSpawned("b")
	o.ExecutorDiscarded("a", fmt.Errorf("stalled: %w", executor.ErrReplyTimeout))
	o.BootstrapFinished("b", true, 10*time.Millisecond, nil)
	o.BootstrapFinished("c", false, time.Millisecond, errors.New("bad snapshot"))
	o.TaskFinished(5*time.Millisecond, nil)
	o.TaskFinished(0, executor.ErrPoolClosed)
	o.QueueLength(3)

	require.Equal(t, 2.0, testutil.ToFloat64(o.ExecutorsSpawned))
	require.Equal(t, 1.0, testutil.ToFloat64(o.Executors))
	require.Equal(t, 1.0, testutil.ToFloat64(o.ExecutorsDiscarded.WithLabelValues("timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.Bootstraps.WithLabelValues("construct", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.Bootstraps.WithLabelValues("resume", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.TasksTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.TasksTotal.WithLabelValues("closed")))
	require.Equal(t, 3.0, testutil.ToFloat64(o.Queue))
	require.Equal(t, 1, testutil.CollectAndCount(o.TaskDuration))
}

func TestReason(t *testing.T) {
	cases := map[error]string{
		executor.ErrReplyTimeout:                         "timeout",
		fmt.Errorf("x: %w", executor.ErrExecutorCrashed): "crash",
		executor.ErrDoubleInitialization:                 "protocol",
		executor.ErrComputeBeforeInit:                    "protocol",
		executor.ErrPoolClosed:                           "closed",
		errors.New("something else"):                     "other",
	}
	for err, want := range cases {
		require.Equal(t, want, reason(err), err.Error())
	}
}

type kernel struct{}

func (kernel) Construct(width, height int, raw []byte) (executor.State, error) {
	return state{}, nil
}

func (kernel) Resume(width, height int, serialized []byte) (executor.State, error) {
	return state{}, nil
}

type state struct{}

func (state) Serialize() []byte { return []byte{1} }

func (state) ComputeFrame(width, height int, image []byte) ([]byte, error) {
	return image[:1], nil
}

func TestObserver_WiredIntoPool(t *testing.T) {
	reg := prom.NewRegistry()
	o := NewObserver(reg)
	factory := func() (executor.Kernel, error) { return kernel{}, nil }

	pool, err := executor.NewFramePool(context.Background(), factory,
		executor.NewConstructBootstrap(1, 1, []byte{0, 0, 0, 0}),
		executor.WithConcurrency(2), executor.WithObserver(o))
	require.NoError(t, err)

	futures := make([]executor.Future, 0, 4)
	for i := 0; i < 4; i++ {
		f, err := pool.Submit(executor.Frame{Width: 1, Height: 1, Image: []byte{byte(i), 0, 0, 0}})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		<-f.Done()
		require.NoError(t, f.Get().Err)
	}
	pool.WaitTerminate()

	require.Equal(t, 4.0, testutil.ToFloat64(o.TasksTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.Bootstraps.WithLabelValues("construct", "ok")))
	spawned := testutil.ToFloat64(o.ExecutorsSpawned)
	require.GreaterOrEqual(t, spawned, 1.0)
	require.LessOrEqual(t, spawned, 2.0)
	// every executor is discarded on termination
	require.Equal(t, 0.0, testutil.ToFloat64(o.Executors))
	require.Equal(t, 0.0, testutil.ToFloat64(o.Queue))
}
