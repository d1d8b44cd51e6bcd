package ledmap

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/vmihailenco/msgpack/v5"

	executor "github.com/vearne/frameexecutor"
)

const (
	// DefaultSigma is the gaussian blur applied to both the base and the lit frames.
	DefaultSigma = 3.0
	// BytesPerPixel of the raw frames, which are non-premultiplied RGBA.
	BytesPerPixel = 4
)

// FrameInfo is the result of one frame. It travels as msgpack.
type FrameInfo struct {
	X             uint64 `msgpack:"x"`
	Y             uint64 `msgpack:"y"`
	MaxBrightness uint8  `msgpack:"maxBrightness"`
	Found         bool   `msgpack:"found"`
	// Seq counts the frames computed by the executor that produced this result.
	Seq uint64 `msgpack:"seq"`
}

func DecodeFrameInfo(b []byte) (FrameInfo, error) {
	var info FrameInfo
	if err := msgpack.Unmarshal(b, &info); err != nil {
		return FrameInfo{}, fmt.Errorf("decode frame info: %w", err)
	}
	return info, nil
}

type Kernel struct {
	Sigma float64
}

// Factory creates a Kernel with DefaultSigma. It never fails.
func Factory() (executor.Kernel, error) {
	return &Kernel{Sigma: DefaultSigma}, nil
}

func (k *Kernel) Construct(width, height int, raw []byte) (executor.State, error) {
	img, err := wrapRGBA(width, height, raw)
	if err != nil {
		return nil, err
	}
	return &State{
		width:  width,
		height: height,
		sigma:  k.Sigma,
		base:   k.prepare(img),
	}, nil
}

func (k *Kernel) Resume(width, height int, serialized []byte) (executor.State, error) {
	if width <= 0 || height <= 0 || len(serialized) != width*height {
		return nil, fmt.Errorf("%w: snapshot of %d bytes for %dx%d",
			executor.ErrMalformedInput, len(serialized), width, height)
	}
	base := make([]byte, len(serialized))
	copy(base, serialized)
	return &State{
		width:  width,
		height: height,
		sigma:  k.Sigma,
		base:   base,
	}, nil
}

func (k *Kernel) prepare(img image.Image) []byte {
	return luma(imaging.Blur(imaging.Grayscale(img), k.Sigma))
}

// State holds the blurred base frame of one executor.
type State struct {
	width  int
	height int
	sigma  float64
	base   []byte
	seq    uint64
}

// Serialize returns the blurred base, one luma byte per pixel.
func (s *State) Serialize() []byte {
	out := make([]byte, len(s.base))
	copy(out, s.base)
	return out
}

func (s *State) ComputeFrame(width, height int, frame []byte) ([]byte, error) {
	if width != s.width || height != s.height {
		return nil, fmt.Errorf("%w: frame is %dx%d, base is %dx%d",
			executor.ErrMalformedInput, width, height, s.width, s.height)
	}
	img, err := wrapRGBA(width, height, frame)
	if err != nil {
		return nil, err
	}
	lit := (&Kernel{Sigma: s.sigma}).prepare(img)
	subtract(lit, s.base)

	info := findBlob(lit, width)
	s.seq++
	info.Seq = s.seq
	return msgpack.Marshal(&info)
}

func wrapRGBA(width, height int, pix []byte) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*BytesPerPixel {
		return nil, fmt.Errorf("%w: %d bytes for a %dx%d RGBA frame",
			executor.ErrMalformedInput, len(pix), width, height)
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: width * BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

// luma extracts the first channel of a grayscale image.
func luma(img *image.NRGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			out[y*w+x] = row[x*BytesPerPixel]
		}
	}
	return out
}

// subtract computes lhs = max(lhs-rhs, 0) pixel by pixel.
func subtract(lhs, rhs []byte) {
	for i := range lhs {
		if lhs[i] > rhs[i] {
			lhs[i] -= rhs[i]
		} else {
			lhs[i] = 0
		}
	}
}

func findBlob(diff []byte, width int) FrameInfo {
	var peak byte
	for _, d := range diff {
		if d > peak {
			peak = d
		}
	}
	threshold := peak / 2

	var xPos, yPos, total uint64
	for i, d := range diff {
		if d <= threshold {
			continue
		}
		x, y := uint64(i%width), uint64(i/width)
		xPos += x * uint64(d)
		yPos += y * uint64(d)
		total += uint64(d)
	}
	if total == 0 {
		return FrameInfo{}
	}
	return FrameInfo{
		X:             xPos / total,
		Y:             yPos / total,
		MaxBrightness: threshold,
		Found:         true,
	}
}

// Pixels converts any decoded image into the raw RGBA layout the Kernel expects.
func Pixels(img image.Image) (width, height int, pix []byte) {
	nrgba := imaging.Clone(img)
	return nrgba.Bounds().Dx(), nrgba.Bounds().Dy(), nrgba.Pix
}
