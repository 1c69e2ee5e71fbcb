package openh264

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// rtpHeaderSize is the size of an RTP header without CSRCs or extensions.
const rtpHeaderSize = 12

// DefaultMTU replaces an MTU too small to carry a one byte FU-A fragment.
const DefaultMTU = 1200

// minMTU fits an RTP header, the FU indicator, the FU header and one byte.
const minMTU = rtpHeaderSize + 3

// H264ClockRate is the RTP clock rate of H.264 video.
const H264ClockRate = 90000

// ErrMalformedPacket is returned for RTP payloads that are not valid H.264.
var ErrMalformedPacket = errors.New("malformed H.264 payload")

// IsVCL reports whether t carries coded slice data.
func IsVCL(t NALType) bool {
	return t >= NALTypeSlice && t <= NALTypeIDR
}

// H264Packetizer turns NAL units delivered by H264Encoder into RTP packets.
// Units that fit the MTU travel as single NAL unit packets; larger ones are
// split into FU-A fragments.
type H264Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

// NewH264Packetizer creates a new H.264 RTP packetizer.
func NewH264Packetizer(ssrc uint32, payloadType uint8, mtu int) *H264Packetizer {
	return &H264Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         checkMTU(mtu),
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// Packetize converts one NAL unit into RTP packets. The marker bit is set on
// the last packet when marker is true.
func (p *H264Packetizer) Packetize(img *EncodedImage, marker bool) ([]*rtp.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if img == nil || len(img.Data) == 0 {
		return nil, nil
	}

	nalu := img.Data
	if len(nalu) <= p.mtu-rtpHeaderSize {
		// Single NAL unit packet. The encoder output is reused by the next
		// unit, so the payload is copied.
		payload := make([]byte, len(nalu))
		copy(payload, nalu)
		return []*rtp.Packet{p.packet(payload, img.Timestamp, marker)}, nil
	}

	if len(nalu) < 2 {
		return nil, fmt.Errorf("%w: %d byte unit", ErrMalformedPacket, len(nalu))
	}
	return p.fragmentNALUnit(nalu, img.Timestamp, marker), nil
}

func checkMTU(mtu int) int {
	if mtu < minMTU {
		return DefaultMTU
	}
	return mtu
}

func (p *H264Packetizer) packet(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequencer.NextSequenceNumber(),
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
}

// fragmentNALUnit fragments a large NAL unit into FU-A packets.
func (p *H264Packetizer) fragmentNALUnit(nalu []byte, timestamp uint32, marker bool) []*rtp.Packet {
	nalHeader := nalu[0]
	nalType := nalHeader & 0x1F
	nri := nalHeader & 0x60

	// Skip the NAL header byte
	payload := nalu[1:]
	maxPayload := p.mtu - rtpHeaderSize - 2 // FU indicator + FU header

	var packets []*rtp.Packet

	for offset := 0; offset < len(payload); {
		end := min(offset+maxPayload, len(payload))

		isStart := offset == 0
		isEnd := end == len(payload)

		// FU header: S=start, E=end, R=0, Type=original NAL type
		fuHeader := nalType
		if isStart {
			fuHeader |= 0x80
		}
		if isEnd {
			fuHeader |= 0x40
		}

		pktPayload := make([]byte, 2+end-offset)
		pktPayload[0] = nri | byte(NALTypeFUA)
		pktPayload[1] = fuHeader
		copy(pktPayload[2:], payload[offset:end])

		packets = append(packets, p.packet(pktPayload, timestamp, isEnd && marker))
		offset = end
	}

	return packets
}

// PacketizeToBytes converts one NAL unit to raw RTP packet bytes.
func (p *H264Packetizer) PacketizeToBytes(img *EncodedImage, marker bool) ([][]byte, error) {
	packets, err := p.Packetize(img, marker)
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(packets))
	for i, pkt := range packets {
		if result[i], err = pkt.Marshal(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *H264Packetizer) SetSSRC(ssrc uint32)     { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *H264Packetizer) SSRC() uint32            { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *H264Packetizer) PayloadType() uint8      { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *H264Packetizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.payloadType = pt; p.mu.Unlock() }
func (p *H264Packetizer) MTU() int                { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }

// SetMTU changes the MTU. Values below the FU-A minimum select DefaultMTU.
func (p *H264Packetizer) SetMTU(mtu int) { p.mu.Lock(); p.mtu = checkMTU(mtu); p.mu.Unlock() }

// NALUFunc receives a NAL unit recovered from RTP, in the form accepted by
// H264Decoder.Decode.
type NALUFunc func(img *EncodedImage, info DecodeInfo) error

// H264Depacketizer recovers NAL units from RTP packets.
//
// Single NAL unit packets and STAP-A members are emitted whole with
// SingleNALU set. A reassembled FU-A unit is emitted without its header
// byte, which travels in DecodeInfo.NALUHeader instead.
type H264Depacketizer struct {
	fuaBuffer   []byte // Payload of the FU-A unit being assembled
	fuaHeader   byte   // Reconstructed header of that unit
	fragmenting bool   // True when in the middle of FU-A fragmentation
	lastSeq     uint16
	image       EncodedImage
	dropped     uint64
	mu          sync.Mutex
}

// NewH264Depacketizer creates a new H.264 RTP depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize processes one RTP packet and passes every completed NAL unit to
// fn. The image handed to fn is only valid during the call.
func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet, fn NALUFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil
	}

	// A gap in the sequence invalidates a partially assembled unit.
	if d.fragmenting && pkt.SequenceNumber != d.lastSeq+1 {
		d.resetFragment()
		d.dropped++
	}
	d.lastSeq = pkt.SequenceNumber

	nalType := HeaderType(pkt.Payload[0])

	switch {
	case nalType >= 1 && nalType <= 23:
		return d.emit(fn, pkt.Payload, pkt.Timestamp, DecodeInfo{NALUHeader: pkt.Payload[0], SingleNALU: true})

	case nalType == NALTypeSTAPA:
		return d.depacketizeSTAPA(pkt.Payload, pkt.Timestamp, fn)

	case nalType == NALTypeFUA:
		return d.depacketizeFUA(pkt.Payload, pkt.Timestamp, fn)

	default:
		return fmt.Errorf("%w: unsupported NAL type %d", ErrMalformedPacket, nalType)
	}
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte, timestamp uint32, fn NALUFunc) error {
	// Skip STAP-A header
	offset := 1

	for offset+2 <= len(payload) {
		naluSize := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2

		if naluSize == 0 || offset+naluSize > len(payload) {
			return fmt.Errorf("%w: STAP-A unit of %d bytes", ErrMalformedPacket, naluSize)
		}

		nalu := payload[offset : offset+naluSize]
		if err := d.emit(fn, nalu, timestamp, DecodeInfo{NALUHeader: nalu[0], SingleNALU: true}); err != nil {
			return err
		}
		offset += naluSize
	}

	return nil
}

func (d *H264Depacketizer) depacketizeFUA(payload []byte, timestamp uint32, fn NALUFunc) error {
	if len(payload) < 2 {
		return fmt.Errorf("%w: FU-A packet too short", ErrMalformedPacket)
	}

	fuIndicator := payload[0]
	fuHeader := payload[1]

	isStart := (fuHeader & 0x80) != 0
	isEnd := (fuHeader & 0x40) != 0

	if isStart {
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fuaHeader = (fuIndicator & 0xE0) | (fuHeader & 0x1F)
		d.fragmenting = true
	}

	if !d.fragmenting {
		// Middle or end fragment without its start
		d.dropped++
		return nil
	}

	d.fuaBuffer = append(d.fuaBuffer, payload[2:]...)

	if !isEnd {
		return nil
	}

	header := d.fuaHeader
	d.fragmenting = false
	if len(d.fuaBuffer) == 0 {
		return nil
	}
	return d.emit(fn, d.fuaBuffer, timestamp, DecodeInfo{NALUHeader: header})
}

func (d *H264Depacketizer) emit(fn NALUFunc, data []byte, timestamp uint32, info DecodeInfo) error {
	frameType := FrameTypeDelta
	switch info.NALType() {
	case NALTypeIDR, NALTypeSPS, NALTypePPS:
		frameType = FrameTypeKey
	}

	d.image = EncodedImage{
		Data:          data,
		FrameType:     frameType,
		Timestamp:     timestamp,
		CompleteFrame: true,
		NALType:       info.NALType(),
	}
	return fn(&d.image, info)
}

func (d *H264Depacketizer) resetFragment() {
	d.fuaBuffer = d.fuaBuffer[:0]
	d.fragmenting = false
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *H264Depacketizer) DepacketizeBytes(data []byte, fn NALUFunc) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return err
	}
	return d.Depacketize(&pkt, fn)
}

// Dropped returns the number of fragments discarded because of loss.
func (d *H264Depacketizer) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Reset clears any buffered partial unit.
func (d *H264Depacketizer) Reset() {
	d.mu.Lock()
	d.resetFragment()
	d.mu.Unlock()
}
