package executor

import "fmt"

// Frame is the payload of one compute request.
type Frame struct {
	Width  int
	Height int
	Image  []byte
}

// validate checks the buffer holds exactly width*height pixels of stride bytes each.
func (f Frame) validate(stride int) error {
	return checkBuffer(f.Width, f.Height, len(f.Image), stride)
}

// Bootstrap is the input every new executor is initialized from.
// It either describes a state to construct from raw pixels, or carries a
// snapshot serialized by an executor that already did the construction.
type Bootstrap struct {
	Width  int
	Height int
	// Raw is set for a construct description.
	Raw []byte
	// State is set for a serialized snapshot.
	State []byte
}

func NewConstructBootstrap(width, height int, raw []byte) *Bootstrap {
	return &Bootstrap{Width: width, Height: height, Raw: raw}
}

func NewSnapshotBootstrap(width, height int, state []byte) *Bootstrap {
	return &Bootstrap{Width: width, Height: height, State: state}
}

func (b *Bootstrap) IsSnapshot() bool {
	return b.State != nil
}

func (b *Bootstrap) validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil bootstrap", ErrMalformedInput)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: bootstrap dimensions %dx%d", ErrMalformedInput, b.Width, b.Height)
	}
	if b.Raw != nil && b.State != nil {
		return fmt.Errorf("%w: bootstrap carries both raw pixels and a snapshot", ErrMalformedInput)
	}
	if len(b.Raw) == 0 && len(b.State) == 0 {
		return fmt.Errorf("%w: empty bootstrap", ErrMalformedInput)
	}
	return nil
}

func checkBuffer(width, height, size, stride int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrMalformedInput, width, height)
	}
	if stride > 0 && size != width*height*stride {
		return fmt.Errorf("%w: buffer of %d bytes does not match %dx%d at %d bytes per pixel",
			ErrMalformedInput, size, width, height, stride)
	}
	if size == 0 {
		return fmt.Errorf("%w: empty buffer", ErrMalformedInput)
	}
	return nil
}

type msgKind int

const (
	msgInitConstruct msgKind = iota
	msgInitResume
	msgCompute
)

func (k msgKind) String() string {
	switch k {
	case msgInitConstruct:
		return "init-construct"
	case msgInitResume:
		return "init-resume"
	case msgCompute:
		return "compute"
	}
	return fmt.Sprintf("msgKind(%d)", int(k))
}

type request struct {
	kind    msgKind
	width   int
	height  int
	payload []byte
	// buffered with capacity 1 so the executor never blocks on an abandoned caller
	reply chan reply
}

type reply struct {
	// snapshot is set only in answer to init-construct
	snapshot *Bootstrap
	output   []byte
	err      error
}
