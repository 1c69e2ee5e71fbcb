package openh264

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/stretchr/testify/require"
)

type recovered struct {
	data      []byte
	info      DecodeInfo
	frameType FrameType
	timestamp uint32
}

func recorder(out *[]recovered) NALUFunc {
	return func(img *EncodedImage, info DecodeInfo) error {
		*out = append(*out, recovered{
			data:      append([]byte(nil), img.Data...),
			info:      info,
			frameType: img.FrameType,
			timestamp: img.Timestamp,
		})
		return nil
	}
}

func bigIDR(n int) []byte {
	nalu := make([]byte, n)
	nalu[0] = 0x65
	for i := 1; i < n; i++ {
		nalu[i] = byte(i)
	}
	return nalu
}

func TestH264PacketizerSingleNALU(t *testing.T) {
	p := NewH264Packetizer(12345, 96, 1200)

	packets, err := p.Packetize(&EncodedImage{Data: testSPS, Timestamp: 90000}, false)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	h := packets[0].Header
	require.Equal(t, uint32(12345), h.SSRC)
	require.Equal(t, uint8(96), h.PayloadType)
	require.Equal(t, uint32(90000), h.Timestamp)
	require.False(t, h.Marker)
	require.Equal(t, testSPS, packets[0].Payload)

	packets, err = p.Packetize(&EncodedImage{Data: testIDR, Timestamp: 90000}, true)
	require.NoError(t, err)
	require.True(t, packets[0].Header.Marker)

	packets, err = p.Packetize(&EncodedImage{}, true)
	require.NoError(t, err)
	require.Empty(t, packets)
}

func TestH264PacketizerFUA(t *testing.T) {
	p := NewH264Packetizer(1, 96, 200)
	nalu := bigIDR(1000)

	packets, err := p.Packetize(&EncodedImage{Data: nalu, Timestamp: 3000}, true)
	require.NoError(t, err)
	require.Greater(t, len(packets), 1)

	seq := packets[0].SequenceNumber
	for i, pkt := range packets {
		require.LessOrEqual(t, len(pkt.Payload)+rtpHeaderSize, 200)
		require.Equal(t, NALTypeFUA, HeaderType(pkt.Payload[0]))
		require.Equal(t, nalu[0]&0x60, pkt.Payload[0]&0x60)
		require.Equal(t, seq+uint16(i), pkt.SequenceNumber)
		require.Equal(t, i == len(packets)-1, pkt.Marker)
	}

	// Cross-check with pion's reference depacketizer.
	var ref codecs.H264Packet
	var out []byte
	for _, pkt := range packets {
		b, err := ref.Unmarshal(pkt.Payload)
		require.NoError(t, err)
		out = append(out, b...)
	}
	require.Equal(t, append([]byte{0, 0, 0, 1}, nalu...), out)
}

func TestH264PacketizerSmallMTU(t *testing.T) {
	for _, mtu := range []int{-1, 0, 1, 13, 14} {
		p := NewH264Packetizer(1, 96, mtu)
		require.Equal(t, DefaultMTU, p.MTU(), "mtu %d", mtu)

		p.SetMTU(200)
		p.SetMTU(mtu)
		require.Equal(t, DefaultMTU, p.MTU(), "mtu %d", mtu)
	}

	// The smallest accepted MTU carries one payload byte per fragment.
	p := NewH264Packetizer(1, 96, minMTU)
	require.Equal(t, minMTU, p.MTU())
	nalu := bigIDR(40)
	packets, err := p.Packetize(&EncodedImage{Data: nalu, Timestamp: 3000}, true)
	require.NoError(t, err)
	require.Len(t, packets, len(nalu)-1)
	for _, pkt := range packets {
		require.Len(t, pkt.Payload, 3)
	}
	require.True(t, packets[len(packets)-1].Marker)

	track := NewNALTrack(H264Capability, "video", "stream")
	track.Packetizer().SetMTU(10)
	require.Equal(t, DefaultMTU, track.Packetizer().MTU())
}

func TestH264PacketizerToBytes(t *testing.T) {
	p := NewH264Packetizer(7, 102, 0)
	require.Equal(t, DefaultMTU, p.MTU())

	raw, err := p.PacketizeToBytes(&EncodedImage{Data: testIDR, Timestamp: 42}, true)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(raw[0]))
	require.Equal(t, uint8(102), pkt.PayloadType)
	require.Equal(t, testIDR, pkt.Payload)
}

func TestH264DepacketizerSingle(t *testing.T) {
	d := NewH264Depacketizer()
	var got []recovered

	pkt := &rtp.Packet{Header: rtp.Header{Timestamp: 900, SequenceNumber: 1}, Payload: testIDR}
	require.NoError(t, d.Depacketize(pkt, recorder(&got)))

	require.Len(t, got, 1)
	require.Equal(t, testIDR, got[0].data)
	require.True(t, got[0].info.SingleNALU)
	require.Equal(t, FrameTypeKey, got[0].frameType)
	require.Equal(t, uint32(900), got[0].timestamp)
}

func TestH264DepacketizerSTAPA(t *testing.T) {
	payload := []byte{byte(NALTypeSTAPA) | 0x60}
	for _, n := range [][]byte{testSPS, testPPS} {
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(n)))
		payload = append(payload, n...)
	}

	d := NewH264Depacketizer()
	var got []recovered
	require.NoError(t, d.Depacketize(&rtp.Packet{Payload: payload}, recorder(&got)))
	require.Len(t, got, 2)
	require.Equal(t, testSPS, got[0].data)
	require.Equal(t, testPPS, got[1].data)
	require.True(t, got[1].info.SingleNALU)

	bad := append([]byte(nil), payload...)
	bad[2] = 0xff
	require.ErrorIs(t, d.Depacketize(&rtp.Packet{Payload: bad}, recorder(&got)), ErrMalformedPacket)
}

func TestH264PacketizerRoundTrip(t *testing.T) {
	p := NewH264Packetizer(1, 96, 300)
	d := NewH264Depacketizer()
	nalu := bigIDR(2000)

	packets, err := p.Packetize(&EncodedImage{Data: nalu, Timestamp: 6000}, true)
	require.NoError(t, err)

	var got []recovered
	for _, pkt := range packets {
		require.NoError(t, d.Depacketize(pkt, recorder(&got)))
	}

	require.Len(t, got, 1)
	require.False(t, got[0].info.SingleNALU)
	require.Equal(t, nalu[0], got[0].info.NALUHeader)
	require.Equal(t, nalu[1:], got[0].data)
	require.Equal(t, FrameTypeKey, got[0].frameType)

	// The decoder restores exactly the original unit.
	restored := AppendAnnexB(nil, got[0].info.NALUHeader, got[0].data, got[0].info.SingleNALU)
	require.True(t, bytes.Equal(append([]byte{0, 0, 0, 1}, nalu...), restored))
}

func TestH264DepacketizerLoss(t *testing.T) {
	p := NewH264Packetizer(1, 96, 300)
	d := NewH264Depacketizer()

	packets, err := p.Packetize(&EncodedImage{Data: bigIDR(2000)}, true)
	require.NoError(t, err)
	require.Greater(t, len(packets), 3)

	var got []recovered
	for i, pkt := range packets {
		if i == 1 {
			continue
		}
		require.NoError(t, d.Depacketize(pkt, recorder(&got)))
	}
	require.Empty(t, got)
	require.NotZero(t, d.Dropped())

	// A fresh unit after the loss goes through.
	next, err := p.Packetize(&EncodedImage{Data: testSlice}, true)
	require.NoError(t, err)
	require.NoError(t, d.Depacketize(next[0], recorder(&got)))
	require.Len(t, got, 1)
}

func TestH264DepacketizerIntoDecoder(t *testing.T) {
	fake := &fakeDecoder{}
	dec, frames := newTestDecoder(t, fake, DefaultDecoderConfig())

	p := NewH264Packetizer(1, 96, 100)
	d := NewH264Depacketizer()
	idr := bigIDR(500)

	for _, nalu := range [][]byte{testSPS, testPPS, idr} {
		packets, err := p.Packetize(&EncodedImage{Data: nalu, Timestamp: 1234}, IsVCL(HeaderType(nalu[0])))
		require.NoError(t, err)
		for _, pkt := range packets {
			require.NoError(t, d.Depacketize(pkt, dec.Decode))
		}
	}

	require.Len(t, fake.inputs, 3)
	require.Equal(t, append([]byte{0, 0, 0, 1}, idr...), fake.inputs[2])
	require.Len(t, *frames, 1)
	require.Equal(t, uint32(1234), (*frames)[0].Timestamp)
}
