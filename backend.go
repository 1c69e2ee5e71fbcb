package openh264

// BitstreamFrameType is the frame type reported by the codec library for an
// encoded picture or layer.
type BitstreamFrameType int

const (
	BitstreamFrameInvalid BitstreamFrameType = iota // Encoder not ready or parameters invalid
	BitstreamFrameIDR                               // IDR picture
	BitstreamFrameI                                 // I picture
	BitstreamFrameP                                 // P picture
	BitstreamFrameSkip                              // Dropped by rate control
	BitstreamFrameIPMixed                           // Mixed I and P slices
)

func (t BitstreamFrameType) String() string {
	switch t {
	case BitstreamFrameIDR:
		return "IDR"
	case BitstreamFrameI:
		return "I"
	case BitstreamFrameP:
		return "P"
	case BitstreamFrameSkip:
		return "Skip"
	case BitstreamFrameIPMixed:
		return "IPMixed"
	default:
		return "Invalid"
	}
}

// IsKey reports whether the picture can be decoded on its own.
func (t BitstreamFrameType) IsKey() bool {
	return t == BitstreamFrameIDR || t == BitstreamFrameI
}

// LayerBitstream is one coding layer of an encoded picture.
type LayerBitstream struct {
	TemporalID uint8
	SpatialID  uint8
	FrameType  BitstreamFrameType
	// NALLengths holds the length of every unit in Buf, start code included.
	NALLengths []int
	// Buf holds the units back to back, each prefixed by a 4-byte start code.
	Buf []byte
}

// FrameBitstream is the layered output of one EncodeFrame call.
// Layer buffers are owned by the backend and valid until the next call.
type FrameBitstream struct {
	Layers    []LayerBitstream
	FrameType BitstreamFrameType
	Size      int   // Total bytes across all layers
	Timestamp int64 // Library timestamp in milliseconds
}

// Reset clears the bitstream for reuse, keeping allocated layer storage.
func (b *FrameBitstream) Reset() {
	for i := range b.Layers {
		b.Layers[i] = LayerBitstream{NALLengths: b.Layers[i].NALLengths[:0]}
	}
	b.Layers = b.Layers[:0]
	b.FrameType = BitstreamFrameInvalid
	b.Size = 0
	b.Timestamp = 0
}

// nextLayer appends an empty layer, reusing storage left by Reset.
func (b *FrameBitstream) nextLayer() *LayerBitstream {
	n := len(b.Layers)
	if n < cap(b.Layers) {
		b.Layers = b.Layers[:n+1]
	} else {
		b.Layers = append(b.Layers, LayerBitstream{})
	}
	return &b.Layers[n]
}

// SourcePicture is the planar input handed to the encoder backend.
type SourcePicture struct {
	Width     int
	Height    int
	Planes    [3][]byte // Y, U, V
	Strides   [3]int
	Timestamp int64 // milliseconds
}

// EncoderParams configures an encoder backend.
type EncoderParams struct {
	Width            int
	Height           int
	MaxFramerate     float32
	TargetBitrateBps int // 0 leaves the library default
	Threads          int
}

// DecoderParams configures a decoder backend.
type DecoderParams struct {
	TargetDQLayer    uint8 // 255 decodes every layer
	ErrorConcealment bool
	Threads          int
}

// DecodingState is the status returned by a decoder backend. Zero means no
// error; any other value is a bitmask of library error flags.
type DecodingState int

// DecodingStateOK is returned for an error-free decode call.
const DecodingStateOK DecodingState = 0

// DecodedPlanes describes a picture produced by a decoder backend. The plane
// slices point into backend memory and are valid until the next call.
type DecodedPlanes struct {
	Ready     bool // A complete picture is available
	Planes    [3][]byte
	Strides   [3]int
	Width     int
	Height    int
	Timestamp uint64
}

// EncoderBackend is an encoder instance of the underlying codec library.
type EncoderBackend interface {
	Initialize(params EncoderParams) error
	// EncodeFrame encodes pic into out. A skipped frame is reported through
	// out.FrameType == BitstreamFrameSkip, not as an error.
	EncodeFrame(pic *SourcePicture, out *FrameBitstream) error
	ForceIntraFrame(idr bool) error
	SetRates(bitrateBps int, framerate float32) error
	// Destroy releases the instance. It is called exactly once.
	Destroy()
}

// DecoderBackend is a decoder instance of the underlying codec library.
type DecoderBackend interface {
	Initialize(params DecoderParams) error
	DecodeFrame(src []byte, out *DecodedPlanes) (DecodingState, error)
	Uninitialize()
	// Destroy releases the instance. It is called exactly once.
	Destroy()
}

// EncoderBackendFactory creates encoder backends.
type EncoderBackendFactory func() (EncoderBackend, error)

// DecoderBackendFactory creates decoder backends.
type DecoderBackendFactory func() (DecoderBackend, error)
