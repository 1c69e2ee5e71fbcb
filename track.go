package openh264

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// H264Capability is the codec capability advertised by NALTrack by default:
// packetization-mode 1 (FU-A), constrained baseline.
var H264Capability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeH264,
	ClockRate:   H264ClockRate,
	SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
}

// TrackState represents the state of a track.
type TrackState int

const (
	TrackStateLive  TrackState = iota // Track is active and producing media
	TrackStateEnded                   // Track has ended
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type trackBinding struct {
	id          string
	ssrc        uint32
	payloadType uint8
	writeStream webrtc.TrackLocalWriter
}

// NALTrack implements pion's webrtc.TrackLocal interface for H.264 NAL units.
// Every unit written is packetized and sent to all bound peer connections.
type NALTrack struct {
	id       string
	streamID string
	rid      string
	codec    webrtc.RTPCodecCapability

	packetizer *H264Packetizer
	state      atomic.Int32

	bindMu   sync.RWMutex
	bindings []trackBinding
}

// NewNALTrack creates a new NALTrack. A zero codec selects H264Capability.
func NewNALTrack(codec webrtc.RTPCodecCapability, id, streamID string) *NALTrack {
	if codec.MimeType == "" {
		codec = H264Capability
	}
	return &NALTrack{
		id:         id,
		streamID:   streamID,
		codec:      codec,
		packetizer: NewH264Packetizer(0, 0, DefaultMTU),
	}
}

func (t *NALTrack) ID() string                       { return t.id }
func (t *NALTrack) StreamID() string                 { return t.streamID }
func (t *NALTrack) RID() string                      { return t.rid }
func (t *NALTrack) Kind() webrtc.RTPCodecType        { return webrtc.RTPCodecTypeVideo }
func (t *NALTrack) Codec() webrtc.RTPCodecCapability { return t.codec }
func (t *NALTrack) State() TrackState                { return TrackState(t.state.Load()) }

// Packetizer returns the packetizer used by the track.
func (t *NALTrack) Packetizer() *H264Packetizer {
	return t.packetizer
}

// Bind implements webrtc.TrackLocal.
func (t *NALTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	// Find matching codec from negotiated parameters
	var params webrtc.RTPCodecParameters
	found := false
	for _, p := range ctx.CodecParameters() {
		if strings.EqualFold(p.MimeType, t.codec.MimeType) {
			params, found = p, true
			break
		}
	}
	if !found {
		return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
	}

	t.bindMu.Lock()
	t.bindings = append(t.bindings, trackBinding{
		id:          ctx.ID(),
		ssrc:        uint32(ctx.SSRC()),
		payloadType: uint8(params.PayloadType),
		writeStream: ctx.WriteStream(),
	})
	t.bindMu.Unlock()

	return params, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *NALTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			return nil
		}
	}
	return webrtc.ErrUnbindFailed
}

// Bindings returns the number of bound peer connections.
func (t *NALTrack) Bindings() int {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	return len(t.bindings)
}

// WriteNALU packetizes one NAL unit and writes the packets to every binding.
func (t *NALTrack) WriteNALU(img *EncodedImage, marker bool) error {
	if t.State() == TrackStateEnded {
		return nil
	}
	packets, err := t.packetizer.Packetize(img, marker)
	if err != nil {
		return err
	}
	for _, p := range packets {
		if err := t.WriteRTP(p); err != nil {
			return err
		}
	}
	return nil
}

// WriteRTP writes an RTP packet to all bound contexts, rewriting SSRC and
// payload type per binding.
func (t *NALTrack) WriteRTP(p *rtp.Packet) error {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()

	header := p.Header
	for _, b := range t.bindings {
		header.SSRC = b.ssrc
		header.PayloadType = b.payloadType
		if _, err := b.writeStream.WriteRTP(&header, p.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Close implements io.Closer.
func (t *NALTrack) Close() error {
	t.state.Store(int32(TrackStateEnded))
	return nil
}

// Verify NALTrack implements webrtc.TrackLocal
var _ webrtc.TrackLocal = (*NALTrack)(nil)

// EncoderSink feeds the units delivered by an H264Encoder into a NALTrack.
// The RTP marker bit is set on the last coded slice of each picture.
type EncoderSink struct {
	track *NALTrack
	units atomic.Uint64
}

// NewEncoderSink creates a sink writing to track.
func NewEncoderSink(track *NALTrack) *EncoderSink {
	return &EncoderSink{track: track}
}

// Attach registers the sink as the encoder's completion callback.
func (s *EncoderSink) Attach(enc *H264Encoder) {
	enc.RegisterEncodeCompleteCallback(s.OnEncoded)
}

// OnEncoded is an EncodeCompleteFunc.
func (s *EncoderSink) OnEncoded(img *EncodedImage) error {
	s.units.Add(1)
	return s.track.WriteNALU(img, img.EndOfPicture)
}

// Units returns the number of units received from the encoder.
func (s *EncoderSink) Units() uint64 {
	return s.units.Load()
}
