package openh264

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// minOutputBufferSize keeps room for parameter sets at tiny resolutions.
const minOutputBufferSize = 4096

// outputBufferSize returns the encoder output capacity for a resolution.
func outputBufferSize(width, height int) int {
	return max(I420Size(width, height), minOutputBufferSize)
}

// EncodeCompleteFunc receives every NAL unit produced by Encode.
// The image aliases the encoder's output buffer and is only valid until the
// function returns. Returning an error aborts the current Encode call.
type EncodeCompleteFunc func(img *EncodedImage) error

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesEncoded    uint64 // Pictures that produced output
	FramesSkipped    uint64 // Pictures dropped by rate control
	KeyframesEncoded uint64 // Key pictures produced
	NALsDelivered    uint64 // Units handed to the callback
	NALsFiltered     uint64 // Prefix units dropped
	BytesEncoded     uint64 // Payload bytes handed to the callback
	Reinitialized    uint64 // Resolution changes handled by re-init

	PacketLoss uint32        // Last reported packet loss
	RTT        time.Duration // Last reported round trip time
}

// EncoderOption customizes an H264Encoder.
type EncoderOption func(*H264Encoder)

// WithEncoderBackend uses factory instead of the provider registry.
func WithEncoderBackend(factory EncoderBackendFactory) EncoderOption {
	return func(e *H264Encoder) { e.factory = factory }
}

// WithEncoderLogger sets the logger of the encoder.
func WithEncoderLogger(l zerolog.Logger) EncoderOption {
	return func(e *H264Encoder) { e.log = l }
}

// H264Encoder adapts a layered H.264 encoder backend to per-NAL delivery.
//
// Every Encode call runs to completion on the caller's goroutine, including
// all callback invocations. An H264Encoder is not safe for concurrent use.
type H264Encoder struct {
	factory EncoderBackendFactory
	log     zerolog.Logger

	config      EncoderConfig
	handle      *encoderHandle
	initialized bool

	// outputBuf is sized once per init to the worst case for the configured
	// resolution; every delivered payload is copied into it.
	outputBuf []byte
	bitstream FrameBitstream
	image     EncodedImage
	callback  EncodeCompleteFunc

	bitrateKbps uint32
	framerate   uint32

	stats EncoderStats
}

// NewH264Encoder creates an uninitialized encoder.
func NewH264Encoder(opts ...EncoderOption) *H264Encoder {
	e := &H264Encoder{log: Logger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitEncode (re)creates the encoder session. Any previous session is
// released first, so a failed call always leaves the encoder uninitialized.
func (e *H264Encoder) InitEncode(cfg EncoderConfig) error {
	if err := e.Release(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		e.log.Error().Err(err).Msg("InitEncode")
		return err
	}

	factory := e.factory
	if factory == nil {
		var err error
		if factory, err = EncoderBackendFor(cfg.Provider); err != nil {
			e.log.Error().Err(err).Msg("InitEncode: no backend")
			return fmt.Errorf("%w: %w", ErrEncoder, err)
		}
	}

	threads := cfg.NumberOfCores
	if threads == 0 {
		threads = 1
	}

	h, err := openEncoder(factory, EncoderParams{
		Width:            cfg.Width,
		Height:           cfg.Height,
		MaxFramerate:     float32(cfg.MaxFramerate),
		TargetBitrateBps: cfg.targetBitrateBps(),
		Threads:          threads,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("InitEncode: fails to open encoder")
		return err
	}

	e.handle = h
	e.config = cfg
	e.outputBuf = make([]byte, outputBufferSize(cfg.Width, cfg.Height))
	e.bitrateKbps = uint32(cfg.targetBitrateBps() / 1000)
	e.framerate = uint32(cfg.MaxFramerate)
	e.initialized = true

	e.log.Trace().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("framerate", cfg.MaxFramerate).
		Int("start_bitrate", cfg.StartBitrateKbps).
		Int("max_bitrate", cfg.MaxBitrateKbps).
		Msg("InitEncode")

	return nil
}

// RegisterEncodeCompleteCallback sets the function receiving encoded units.
// The callback survives Release and re-initialization.
func (e *H264Encoder) RegisterEncodeCompleteCallback(fn EncodeCompleteFunc) {
	e.callback = fn
}

// Encode encodes one picture and delivers each resulting NAL unit, except
// prefix units, through the registered callback. A picture dropped by rate
// control produces no callback and no error.
func (e *H264Encoder) Encode(frame *VideoFrame, forceKeyFrame bool) error {
	if !e.initialized || e.callback == nil {
		return ErrUninitialized
	}
	if err := checkPlanes(frame); err != nil {
		return err
	}

	// Check for change in frame size.
	if frame.Width != e.config.Width || frame.Height != e.config.Height {
		if err := e.updateFrameSize(frame.Width, frame.Height); err != nil {
			return err
		}
	}

	backend := e.handle.backend

	if forceKeyFrame {
		if err := backend.ForceIntraFrame(true); err != nil {
			return fmt.Errorf("%w: force intra frame: %w", ErrEncoder, err)
		}
		e.log.Trace().Int("width", frame.Width).Int("height", frame.Height).Msg("EncodeKeyFrame")
	}

	pic := SourcePicture{
		Width:     frame.Width,
		Height:    frame.Height,
		Timestamp: frame.RenderTimeMs,
	}
	for i := 0; i < 3; i++ {
		pic.Planes[i] = frame.Data[i]
		pic.Strides[i] = frame.Stride[i]
	}

	e.bitstream.Reset()
	if err := backend.EncodeFrame(&pic, &e.bitstream); err != nil {
		e.log.Error().Err(err).Msg("Encode: EncodeFrame")
		return fmt.Errorf("%w: %w", ErrEncoder, err)
	}

	if e.bitstream.FrameType == BitstreamFrameSkip {
		e.stats.FramesSkipped++
		return nil
	}

	frameType := FrameTypeDelta
	if forceKeyFrame || e.bitstream.FrameType.IsKey() {
		frameType = FrameTypeKey
		e.stats.KeyframesEncoded++
	}
	e.stats.FramesEncoded++

	deliverable := func(t NALType) bool {
		if DeliverableNALU(t) {
			return true
		}
		e.stats.NALsFiltered++
		return false
	}

	slices := 0
	for i := range e.bitstream.Layers {
		for nalType := range LayerNALUs(&e.bitstream.Layers[i]) {
			if IsVCL(nalType) {
				slices++
			}
		}
	}

	for i := range e.bitstream.Layers {
		for nalType, payload := range FilterNALUs(LayerNALUs(&e.bitstream.Layers[i]), deliverable) {
			if len(payload) > len(e.outputBuf) {
				return fmt.Errorf("%w: %d byte %s unit exceeds %d byte output buffer",
					ErrEncoder, len(payload), nalType, len(e.outputBuf))
			}
			n := copy(e.outputBuf, payload)
			if IsVCL(nalType) {
				slices--
			}

			e.image = EncodedImage{
				Data:          e.outputBuf[:n],
				FrameType:     frameType,
				Timestamp:     frame.Timestamp,
				CaptureTimeMs: frame.RenderTimeMs,
				CompleteFrame: true,
				NALType:       nalType,
				EndOfPicture:  IsVCL(nalType) && slices == 0,
			}

			e.log.Trace().Stringer("nal_type", nalType).Int("length", n).Msg("Encode")

			e.stats.NALsDelivered++
			e.stats.BytesEncoded += uint64(n)

			if err := e.callback(&e.image); err != nil {
				return fmt.Errorf("encode callback: %w", err)
			}
		}
	}

	return nil
}

// updateFrameSize reconfigures the session for a new input resolution.
// Reconfiguration goes through a full release and init; the callback and the
// requested rates are kept.
func (e *H264Encoder) updateFrameSize(width, height int) error {
	cfg := e.config
	cfg.Width = width
	cfg.Height = height

	bitrate, framerate := e.bitrateKbps, e.framerate

	e.log.Debug().
		Int("old_width", e.config.Width).
		Int("old_height", e.config.Height).
		Int("width", width).
		Int("height", height).
		Msg("Encode: frame size changed")

	if err := e.InitEncode(cfg); err != nil {
		return err
	}
	e.stats.Reinitialized++

	e.bitrateKbps, e.framerate = bitrate, framerate
	if cfg.ApplyRates {
		return e.applyRates()
	}
	return nil
}

// SetRates updates the requested bitrate and framerate. The bitrate is
// clamped to the configured maximum. The request reaches the running encoder
// only when EncoderConfig.ApplyRates is set.
func (e *H264Encoder) SetRates(bitrateKbps, framerate uint32) error {
	e.log.Trace().Uint32("bitrate", bitrateKbps).Uint32("framerate", framerate).Msg("SetRates")

	if !e.initialized {
		return ErrUninitialized
	}
	if framerate < 1 {
		return fmt.Errorf("%w: framerate %d", ErrInvalidParameter, framerate)
	}
	// update bit rate
	if max := e.config.MaxBitrateKbps; max > 0 && bitrateKbps > uint32(max) {
		bitrateKbps = uint32(max)
	}

	e.bitrateKbps = bitrateKbps
	e.framerate = framerate

	if e.config.ApplyRates {
		return e.applyRates()
	}
	return nil
}

func (e *H264Encoder) applyRates() error {
	if err := e.handle.backend.SetRates(int(e.bitrateKbps)*1000, float32(e.framerate)); err != nil {
		return fmt.Errorf("%w: set rates: %w", ErrEncoder, err)
	}
	return nil
}

// RequestedBitrateKbps returns the bitrate of the last accepted rate request.
func (e *H264Encoder) RequestedBitrateKbps() uint32 {
	return e.bitrateKbps
}

// RequestedFramerate returns the framerate of the last accepted rate request.
func (e *H264Encoder) RequestedFramerate() uint32 {
	return e.framerate
}

// SetChannelParameters records network conditions reported by the
// transport. The encoder does not adapt to them.
func (e *H264Encoder) SetChannelParameters(packetLoss uint32, rtt time.Duration) error {
	e.stats.PacketLoss = packetLoss
	e.stats.RTT = rtt
	return nil
}

// Initialized reports whether the session accepts Encode calls.
func (e *H264Encoder) Initialized() bool {
	return e.initialized
}

// Config returns the session configuration.
func (e *H264Encoder) Config() EncoderConfig {
	return e.config
}

// MaxEncodedSize returns the capacity of the output buffer.
func (e *H264Encoder) MaxEncodedSize() int {
	return len(e.outputBuf)
}

// Stats returns encoding statistics.
func (e *H264Encoder) Stats() EncoderStats {
	return e.stats
}

// Release destroys the backend and frees the output buffer. It is safe to
// call at any time, any number of times.
func (e *H264Encoder) Release() error {
	if e.handle != nil {
		e.handle.close()
		e.handle = nil
	}
	e.outputBuf = nil
	e.initialized = false
	return nil
}

// Close implements io.Closer.
func (e *H264Encoder) Close() error {
	return e.Release()
}

// checkPlanes validates an I420 input picture against its declared geometry.
func checkPlanes(frame *VideoFrame) error {
	if frame.IsZeroSize() {
		return fmt.Errorf("%w: zero size frame", ErrInvalidParameter)
	}
	if len(frame.Data) < 3 || len(frame.Stride) < 3 {
		return fmt.Errorf("%w: I420 frame needs 3 planes", ErrInvalidParameter)
	}

	uvW := (frame.Width + 1) / 2
	uvH := (frame.Height + 1) / 2
	need := [3]struct{ w, h int }{
		{frame.Width, frame.Height},
		{uvW, uvH},
		{uvW, uvH},
	}
	for i, n := range need {
		stride := frame.Stride[i]
		if stride < n.w {
			return fmt.Errorf("%w: plane %d stride %d below width %d", ErrInvalidParameter, i, stride, n.w)
		}
		if len(frame.Data[i]) < stride*(n.h-1)+n.w {
			return fmt.Errorf("%w: plane %d holds %d bytes", ErrInvalidParameter, i, len(frame.Data[i]))
		}
	}
	return nil
}
