package openh264

import (
	"fmt"

	"github.com/rs/zerolog"
)

// DecodeCompleteFunc receives every picture produced by Decode. The frame is
// owned by the decoder and is overwritten by the next decoded picture.
type DecodeCompleteFunc func(frame *VideoFrame) error

// DecoderStats provides decoding metrics.
type DecoderStats struct {
	FramesDecoded    uint64 // Pictures delivered to the callback
	KeyframesDecoded uint64 // Pictures decoded from key frame input
	BytesDecoded     uint64 // Input payload bytes accepted
	CorruptedFrames  uint64 // Decode calls the library reported as failed
	RejectedFrames   uint64 // Inputs refused while waiting for a key frame
}

// DecoderOption customizes an H264Decoder.
type DecoderOption func(*H264Decoder)

// WithDecoderBackend uses factory instead of the provider registry.
func WithDecoderBackend(factory DecoderBackendFactory) DecoderOption {
	return func(d *H264Decoder) { d.factory = factory }
}

// WithDecoderLogger sets the logger of the decoder.
func WithDecoderLogger(l zerolog.Logger) DecoderOption {
	return func(d *H264Decoder) { d.log = l }
}

// H264Decoder feeds NAL units to a decoder backend, restoring the start code
// and, for fragmented input, the NAL header stripped by the sender.
//
// An H264Decoder is not safe for concurrent use.
type H264Decoder struct {
	factory DecoderBackendFactory
	log     zerolog.Logger

	config      DecoderConfig
	handle      *decoderHandle
	initialized bool

	keyFrameRequired bool

	scratch []byte
	planes  DecodedPlanes
	frame   *VideoFrame
	decoded bool

	callback DecodeCompleteFunc

	stats DecoderStats
}

// NewH264Decoder creates an uninitialized decoder.
func NewH264Decoder(opts ...DecoderOption) *H264Decoder {
	d := &H264Decoder{
		log:     Logger(),
		scratch: make([]byte, 0, MaxEncodedImageSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InitDecode (re)creates the decoder session. Every new session waits for a
// key frame.
func (d *H264Decoder) InitDecode(cfg DecoderConfig) error {
	if err := d.Release(); err != nil {
		return err
	}

	factory := d.factory
	if factory == nil {
		var err error
		if factory, err = DecoderBackendFor(cfg.Provider); err != nil {
			d.log.Error().Err(err).Msg("InitDecode: no backend")
			return fmt.Errorf("%w: %w", ErrDecoder, err)
		}
	}

	threads := cfg.NumberOfCores
	if threads <= 0 {
		threads = 1
	}

	h, err := openDecoder(factory, DecoderParams{
		TargetDQLayer:    255,
		ErrorConcealment: true,
		Threads:          threads,
	})
	if err != nil {
		d.log.Error().Err(err).Msg("InitDecode: fails to open decoder")
		return err
	}

	if size := cfg.scratchSize(); cap(d.scratch) != size {
		d.scratch = make([]byte, 0, size)
	}

	d.handle = h
	d.config = cfg
	d.keyFrameRequired = true
	d.initialized = true

	d.log.Trace().Bool("strict_key_frame", cfg.StrictKeyFrame).Msg("InitDecode")

	return nil
}

// RegisterDecodeCompleteCallback sets the function receiving decoded pictures.
func (d *H264Decoder) RegisterDecodeCompleteCallback(fn DecodeCompleteFunc) {
	d.callback = fn
}

// Decode decodes one NAL unit. When info.SingleNALU is false, img.Data is a
// payload whose header byte travels in info.NALUHeader. The callback runs at
// most once, when the unit completes a picture.
func (d *H264Decoder) Decode(img *EncodedImage, info DecodeInfo) error {
	if !d.initialized || d.callback == nil {
		return ErrUninitialized
	}
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("%w: empty input", ErrInvalidParameter)
	}

	if d.keyFrameRequired && d.config.StrictKeyFrame {
		if !img.IsKeyframe() || !img.CompleteFrame {
			d.stats.RejectedFrames++
			return ErrKeyFrameRequired
		}
	}

	size := AnnexBSize(len(img.Data), info.SingleNALU)
	if size > cap(d.scratch) {
		d.log.Error().Int("size", size).Int("capacity", cap(d.scratch)).Msg("Decode: input too large")
		return fmt.Errorf("%w: %d byte unit exceeds %d byte decode buffer",
			ErrInvalidParameter, size, cap(d.scratch))
	}
	d.scratch = AppendAnnexB(d.scratch[:0], info.NALUHeader, img.Data, info.SingleNALU)

	d.log.Trace().
		Bool("single", info.SingleNALU).
		Stringer("nal_type", info.NALType()).
		Int("length", len(d.scratch)).
		Msg("Decode")

	d.planes = DecodedPlanes{}
	state, err := d.handle.backend.DecodeFrame(d.scratch, &d.planes)
	if err != nil {
		d.stats.CorruptedFrames++
		d.log.Error().Err(err).Msg("Decode: DecodeFrame2")
		return fmt.Errorf("%w: %w", ErrDecoder, err)
	}
	if state != DecodingStateOK {
		d.stats.CorruptedFrames++
		d.log.Error().Int("state", int(state)).Msg("Decode: DecodeFrame2")
		return decoderError("DecodeFrame2", int(state))
	}

	d.stats.BytesDecoded += uint64(len(img.Data))

	if img.IsKeyframe() && img.CompleteFrame {
		d.keyFrameRequired = false
	}

	if !d.planes.Ready {
		return nil
	}

	if err := d.copyPlanes(img.Timestamp); err != nil {
		d.stats.CorruptedFrames++
		return err
	}
	d.decoded = true
	d.stats.FramesDecoded++
	if img.IsKeyframe() {
		d.stats.KeyframesDecoded++
	}

	if err := d.callback(d.frame); err != nil {
		return fmt.Errorf("decode callback: %w", err)
	}
	return nil
}

// copyPlanes moves the backend picture into the decoder's frame, so the
// result stays valid after the backend is released.
func (d *H264Decoder) copyPlanes(timestamp uint32) error {
	p := &d.planes
	w, h := p.Width, p.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: invalid decoder output %dx%d", ErrDecoder, w, h)
	}

	if d.frame == nil || d.frame.Width != w || d.frame.Height != h {
		d.frame = NewI420Frame(w, h)
	}

	uvW, uvH := (w+1)/2, (h+1)/2
	rows := [3]struct{ w, h int }{{w, h}, {uvW, uvH}, {uvW, uvH}}
	for i, r := range rows {
		src, stride := p.Planes[i], p.Strides[i]
		if stride < r.w || len(src) < stride*(r.h-1)+r.w {
			return fmt.Errorf("%w: plane %d stride %d holds %d bytes", ErrDecoder, i, stride, len(src))
		}
		dst, dstStride := d.frame.Data[i], d.frame.Stride[i]
		for row := 0; row < r.h; row++ {
			copy(dst[row*dstStride:row*dstStride+r.w], src[row*stride:row*stride+r.w])
		}
	}

	d.frame.Timestamp = timestamp
	d.frame.RenderTimeMs = int64(p.Timestamp)
	return nil
}

// Reset recreates the session with its current configuration.
func (d *H264Decoder) Reset() error {
	if !d.initialized {
		return ErrUninitialized
	}
	return d.InitDecode(d.config)
}

// Clone returns a new, initialized decoder with the same configuration,
// backend and logger. The receiver must have decoded at least one picture.
func (d *H264Decoder) Clone() (*H264Decoder, error) {
	if !d.initialized || !d.decoded {
		return nil, ErrUninitialized
	}
	c := NewH264Decoder(WithDecoderBackend(d.factory), WithDecoderLogger(d.log))
	if err := c.InitDecode(d.config); err != nil {
		return nil, err
	}
	c.callback = d.callback
	return c, nil
}

// LastDecoded returns the most recently decoded picture, or nil.
func (d *H264Decoder) LastDecoded() *VideoFrame {
	if !d.decoded {
		return nil
	}
	return d.frame
}

// KeyFrameRequired reports whether the session still waits for a key frame.
func (d *H264Decoder) KeyFrameRequired() bool {
	return d.keyFrameRequired
}

// Initialized reports whether the session accepts Decode calls.
func (d *H264Decoder) Initialized() bool {
	return d.initialized
}

// Config returns the session configuration.
func (d *H264Decoder) Config() DecoderConfig {
	return d.config
}

// Stats returns decoding statistics.
func (d *H264Decoder) Stats() DecoderStats {
	return d.stats
}

// Release uninitializes and destroys the backend. The scratch buffer is kept
// for the next session. It is safe to call any number of times.
func (d *H264Decoder) Release() error {
	if d.handle != nil {
		d.handle.close()
		d.handle = nil
	}
	d.initialized = false
	return nil
}

// Close implements io.Closer.
func (d *H264Decoder) Close() error {
	return d.Release()
}
