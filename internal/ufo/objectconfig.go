package ufo

import "fmt"

// PopulateFunc fills dst with the bytes for elements [start, end) of an
// object's body. It must write exactly (end-start)*stride bytes into dst
// and return a non-nil error only when it cannot — any such error is
// treated as fatal by the fault handler, since the fault it was servicing
// cannot otherwise be resolved.
type PopulateFunc func(start, end int64, dst []byte) error

// Prototype holds the parameters shared by every object instantiated from
// it: header size, element stride, and the minimum load granularity used
// to derive the chunk size.
type Prototype struct {
	headerSize int64
	stride     int64
	minLoadCt  int64
}

// PrototypeOption configures an optional Prototype parameter.
type PrototypeOption func(*Prototype)

// WithMinLoadCt overrides the default minimum load count of 1 element.
// The chunk size is lcm(pageSize, stride*minLoadCt); a larger minLoadCt
// produces coarser, less frequent faults at the cost of more wasted
// population work on sparse access patterns.
func WithMinLoadCt(n int64) PrototypeOption {
	return func(p *Prototype) { p.minLoadCt = n }
}

// NewPrototype validates and builds a Prototype. headerSize must be >= 0
// and stride must be > 0.
func NewPrototype(headerSize, stride int64, opts ...PrototypeOption) (*Prototype, error) {
	if headerSize < 0 {
		return nil, fmt.Errorf("%w: header size %d is negative", ErrInvalidConfig, headerSize)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("%w: stride %d must be positive", ErrInvalidConfig, stride)
	}
	p := &Prototype{headerSize: headerSize, stride: stride, minLoadCt: 1}
	for _, opt := range opts {
		opt(p)
	}
	if p.minLoadCt <= 0 {
		return nil, fmt.Errorf("%w: min load count %d must be positive", ErrInvalidConfig, p.minLoadCt)
	}
	return p, nil
}

// ObjectConfig is the immutable geometry of one logical object, derived
// from a Prototype plus an element count at instantiation time.
type ObjectConfig struct {
	HeaderSize            int64
	HeaderSizeWithPadding int64
	Stride                int64
	ElementCt             int64
	ElementsPerChunk      int64
	ChunkSize             int64
	TrueSize              int64
	Populate              PopulateFunc
}

func newObjectConfig(pageSize int64, proto *Prototype, elementCt int64, populate PopulateFunc) (*ObjectConfig, error) {
	if elementCt <= 0 {
		return nil, fmt.Errorf("%w: element count %d must be positive", ErrInvalidConfig, elementCt)
	}
	if populate == nil {
		return nil, fmt.Errorf("%w: populate callback is required", ErrInvalidConfig)
	}

	headerSizeWithPadding := roundUp(proto.headerSize, pageSize)
	chunkSize := lcm(pageSize, proto.stride*proto.minLoadCt)
	if chunkSize%pageSize != 0 || chunkSize%proto.stride != 0 {
		// Unreachable given lcm's definition, but cheap enough to assert
		// rather than assume.
		return nil, fmt.Errorf("%w: derived chunk size %d is not a multiple of page size %d and stride %d",
			ErrInvalidConfig, chunkSize, pageSize, proto.stride)
	}

	bodyBytes := proto.stride * elementCt
	trueSize := headerSizeWithPadding + roundUp(bodyBytes, pageSize)

	return &ObjectConfig{
		HeaderSize:            proto.headerSize,
		HeaderSizeWithPadding: headerSizeWithPadding,
		Stride:                proto.stride,
		ElementCt:             elementCt,
		ElementsPerChunk:      chunkSize / proto.stride,
		ChunkSize:             chunkSize,
		TrueSize:              trueSize,
		Populate:              populate,
	}, nil
}

// ChunkAlignedOffset returns the chunk-aligned offset (from the object
// base) of the chunk containing the given absolute offset, which is also
// measured from the object base, header included. absolute must be >=
// HeaderSizeWithPadding.
func (c *ObjectConfig) ChunkAlignedOffset(absolute int64) int64 {
	rel := absolute - c.HeaderSizeWithPadding
	return c.HeaderSizeWithPadding + (rel/c.ChunkSize)*c.ChunkSize
}

// IndexWindow returns the half-open element index range [start, end)
// covered by the chunk starting at chunkOffset, clamped to ElementCt.
func (c *ObjectConfig) IndexWindow(chunkOffset int64) (start, end int64) {
	rel := chunkOffset - c.HeaderSizeWithPadding
	start = rel / c.Stride
	end = start + c.ElementsPerChunk
	if end > c.ElementCt {
		end = c.ElementCt
	}
	return start, end
}

// CopyLength returns the number of live bytes belonging to the chunk
// starting at chunkOffset — ChunkSize, except for a possibly-short last
// chunk.
func (c *ObjectConfig) CopyLength(chunkOffset int64) int64 {
	remaining := c.TrueSize - chunkOffset
	if remaining < c.ChunkSize {
		return remaining
	}
	return c.ChunkSize
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}

func roundUp(x, multiple int64) int64 {
	if multiple <= 0 {
		return x
	}
	return (x + multiple - 1) / multiple * multiple
}
