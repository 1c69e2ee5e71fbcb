// Core frame and image types shared by the encode and decode paths.
package openh264

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	default:
		return 0
	}
}

// VideoFrame represents a raw I420 picture, either handed to the encoder or
// delivered by the decoder.
// The Data slices may point to external memory (e.g., C memory via FFI).
// Decoded frames are only valid for the duration of the decode callback;
// use Clone to keep them.
type VideoFrame struct {
	Data         [][]byte    // Plane data (Y, U, V)
	Stride       []int       // Stride for each plane in bytes
	Width        int         // Frame width in pixels
	Height       int         // Frame height in pixels
	Format       PixelFormat // Pixel format
	Timestamp    uint32      // RTP timestamp (90kHz clock)
	RenderTimeMs int64       // Render/capture time in milliseconds
}

// IsZeroSize reports whether the frame has no pixels.
func (f *VideoFrame) IsZeroSize() bool {
	return f == nil || f.Width <= 0 || f.Height <= 0
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:         make([][]byte, len(f.Data)),
		Stride:       make([]int, len(f.Stride)),
		Width:        f.Width,
		Height:       f.Height,
		Format:       f.Format,
		Timestamp:    f.Timestamp,
		RenderTimeMs: f.RenderTimeMs,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// NewI420Frame allocates a tightly packed I420 frame. Luma is zeroed and
// chroma is set to 128, which is a black picture.
func NewI420Frame(width, height int) *VideoFrame {
	uvW := (width + 1) / 2
	uvH := (height + 1) / 2
	f := &VideoFrame{
		Data: [][]byte{
			make([]byte, width*height),
			make([]byte, uvW*uvH),
			make([]byte, uvW*uvH),
		},
		Stride: []int{width, uvW, uvW},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}
	return f
}

// I420Size returns the total buffer size needed for an I420 frame.
// The encoder uses it as the worst-case size of a single encoded frame.
func I420Size(width, height int) int {
	// Y plane: width * height
	// U plane: (width/2) * (height/2)
	// V plane: (width/2) * (height/2)
	ySize := width * height
	uvSize := ((width + 1) / 2) * ((height + 1) / 2)
	return ySize + uvSize*2
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedImage holds a single NAL unit payload, without its Annex-B start code.
//
// Images delivered by H264Encoder alias the encoder's output buffer and are
// only valid until the callback returns.
type EncodedImage struct {
	Data          []byte    // NAL unit payload
	FrameType     FrameType // Key or delta frame
	Timestamp     uint32    // RTP timestamp (90kHz clock)
	CaptureTimeMs int64     // Capture/render time of the source picture
	CompleteFrame bool      // Payload carries a whole NAL unit
	NALType       NALType   // Type of the delivered unit (encode output)
	EndOfPicture  bool      // Last coded slice of the picture (encode output)
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedImage) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// Clone creates a deep copy of the encoded image.
func (f *EncodedImage) Clone() *EncodedImage {
	clone := *f
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return &clone
}

// DecodeInfo carries the out-of-band H.264 framing hints that accompany an
// EncodedImage on the decode path.
type DecodeInfo struct {
	// NALUHeader is the header byte of a unit whose header was stripped
	// upstream (e.g. by FU-A fragmentation). Ignored when SingleNALU is set.
	NALUHeader byte
	// SingleNALU reports that Data is a complete, self-contained NAL unit.
	SingleNALU bool
}

// NALType returns the type of the unit described by the hints.
func (i DecodeInfo) NALType() NALType {
	return NALType(i.NALUHeader & 0x1F)
}
