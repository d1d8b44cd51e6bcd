package executor

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	crashByte = 0xFF
	// frames starting with rejectByte fail without harming the state
	rejectByte = 0xFE
	waitFor    = 3 * time.Second
	tick       = 5 * time.Millisecond
)

var (
	errFactory   = errors.New("no kernel for you")
	errConstruct = errors.New("construct failed")
	errCompute   = errors.New("frame rejected by kernel")
)

// recorder is shared by every fake kernel a pool creates.
type recorder struct {
	mu          sync.Mutex
	constructs  int
	resumes     int
	computes    int
	resumedFrom [][]byte
	order       []byte

	// when set, Construct / ComputeFrame block until the channel is closed
	constructRelease chan struct{}
	computeRelease   chan struct{}

	failConstructs  int
	factoryFailures int
}

func (r *recorder) factory() (Kernel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factoryFailures > 0 {
		r.factoryFailures--
		return nil, errFactory
	}
	return &fakeKernel{rec: r}, nil
}

func (r *recorder) counts() (constructs, resumes, computes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.constructs, r.resumes, r.computes
}

func (r *recorder) computeOrder() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.order...)
}

func (r *recorder) snapshots() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.resumedFrom...)
}

type fakeKernel struct {
	rec *recorder
}

func (k *fakeKernel) Construct(width, height int, raw []byte) (State, error) {
	r := k.rec
	r.mu.Lock()
	r.constructs++
	n := r.constructs
	fail := r.failConstructs > 0
	if fail {
		r.failConstructs--
	}
	release := r.constructRelease
	r.mu.Unlock()

	if release != nil {
		<-release
	}
	if fail {
		return nil, errConstruct
	}
	return &fakeState{rec: r, snapshot: []byte(fmt.Sprintf("snapshot-%d", n))}, nil
}

func (k *fakeKernel) Resume(width, height int, serialized []byte) (State, error) {
	r := k.rec
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumes++
	r.resumedFrom = append(r.resumedFrom, append([]byte(nil), serialized...))
	return &fakeState{rec: r, snapshot: serialized}, nil
}

// fakeState sums the first byte of every frame it sees.
type fakeState struct {
	rec      *recorder
	snapshot []byte
	total    int
}

func (s *fakeState) Serialize() []byte {
	return append([]byte(nil), s.snapshot...)
}

func (s *fakeState) ComputeFrame(width, height int, image []byte) ([]byte, error) {
	if image[0] == crashByte {
		panic("kernel blew up")
	}
	if image[0] == rejectByte {
		return nil, errCompute
	}
	s.rec.mu.Lock()
	release := s.rec.computeRelease
	s.rec.mu.Unlock()
	if release != nil {
		<-release
	}

	s.rec.mu.Lock()
	s.rec.computes++
	s.rec.order = append(s.rec.order, image[0])
	s.rec.mu.Unlock()

	s.total += int(image[0])
	return []byte(strconv.Itoa(s.total)), nil
}

func frame(b byte) Frame {
	return Frame{Width: 1, Height: 1, Image: []byte{b, 0, 0, 0}}
}

func constructStarter() *Bootstrap {
	return NewConstructBootstrap(1, 1, []byte{1, 2, 3, 4})
}

func getWithin(t *testing.T, f Future) *GPResult {
	t.Helper()
	select {
	case <-f.Done():
		return f.Get()
	case <-time.After(3 * time.Second):
		t.Fatal("future did not complete")
		return nil
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
