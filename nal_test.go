package openh264

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type unit struct {
	t       NALType
	payload []byte
}

func units(layer *LayerBitstream) []unit {
	var out []unit
	for t, p := range LayerNALUs(layer) {
		out = append(out, unit{t, p})
	}
	return out
}

func TestLayerNALUs(t *testing.T) {
	layer := annexLayer(BitstreamFrameIDR, testSPS, testPPS, testPrefix, testIDR)

	got := units(&layer)
	require.Len(t, got, 4)
	require.Equal(t, unit{NALTypeSPS, testSPS}, got[0])
	require.Equal(t, unit{NALTypePPS, testPPS}, got[1])
	require.Equal(t, unit{NALTypePrefix, testPrefix}, got[2])
	require.Equal(t, unit{NALTypeIDR, testIDR}, got[3])

	// Restartable
	require.Equal(t, got, units(&layer))
}

func TestLayerNALUsManyUnits(t *testing.T) {
	var nalus [][]byte
	for i := 0; i < 10; i++ {
		nalus = append(nalus, append([]byte{0x41}, make([]byte, i)...))
	}
	layer := annexLayer(BitstreamFrameP, nalus...)

	got := units(&layer)
	require.Len(t, got, 10)
	for i, u := range got {
		require.Len(t, u.payload, layer.NALLengths[i]-StartCodeLen)
		require.Equal(t, nalus[i], u.payload)
	}
}

func TestLayerNALUsTruncated(t *testing.T) {
	layer := annexLayer(BitstreamFrameP, testSlice, testSlice)
	layer.Buf = layer.Buf[:len(layer.Buf)-1]
	require.Len(t, units(&layer), 1)

	layer = annexLayer(BitstreamFrameP, testSlice)
	layer.NALLengths = append(layer.NALLengths, StartCodeLen)
	require.Len(t, units(&layer), 1)

	require.Empty(t, units(nil))
	require.Empty(t, units(&LayerBitstream{}))
}

func TestLayerNALUsEarlyStop(t *testing.T) {
	layer := annexLayer(BitstreamFrameP, testSlice, testSlice, testSlice)
	n := 0
	for range LayerNALUs(&layer) {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func TestFilterNALUs(t *testing.T) {
	for _, around := range []int{0, 1, 5} {
		var nalus [][]byte
		for i := 0; i < around; i++ {
			nalus = append(nalus, testSlice)
		}
		nalus = append(nalus, testPrefix)
		for i := 0; i < around; i++ {
			nalus = append(nalus, testPrefix, testSlice)
		}
		layer := annexLayer(BitstreamFrameP, nalus...)

		n := 0
		for typ := range FilterNALUs(LayerNALUs(&layer), DeliverableNALU) {
			require.NotEqual(t, NALTypePrefix, typ)
			n++
		}
		require.Equal(t, 2*around, n)
	}
}

func TestAppendAnnexB(t *testing.T) {
	payload := []byte{0x88, 0x84, 0x00}

	single := AppendAnnexB(nil, 0x65, append([]byte{0x65}, payload...), true)
	require.Equal(t, []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00}, single)
	require.Len(t, single, AnnexBSize(len(payload)+1, true))

	restored := AppendAnnexB(nil, 0x65, payload, false)
	require.Equal(t, []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00}, restored)
	require.Len(t, restored, AnnexBSize(len(payload), false))

	// Reuses dst capacity
	buf := make([]byte, 0, 64)
	out := AppendAnnexB(buf, 0x41, payload, false)
	require.Same(t, &buf[:1][0], &out[0])
}

func TestSplitAnnexB(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x68, 0xce, 0, 0, 0, 1, 0x65, 0x88}
	got := SplitAnnexB(data)
	require.Equal(t, [][]byte{{0x67, 0x42}, {0x68, 0xce}, {0x65, 0x88}}, got)

	require.Empty(t, SplitAnnexB(nil))
	require.Empty(t, SplitAnnexB([]byte{0x65, 0x88}))
}

func TestSplitAVCC(t *testing.T) {
	var data []byte
	for _, n := range [][]byte{testSPS, testPPS, testIDR} {
		data = binary.BigEndian.AppendUint32(data, uint32(len(n)))
		data = append(data, n...)
	}

	require.Equal(t, [][]byte{testSPS, testPPS, testIDR}, SplitAVCC(data))
	require.Equal(t, [][]byte{testSPS, testPPS}, SplitAVCC(data[:len(data)-1]))
}

func TestNALTypeString(t *testing.T) {
	require.Equal(t, "IDR", NALTypeIDR.String())
	require.Equal(t, "Prefix", NALTypePrefix.String())
	require.Equal(t, "FU-A", NALTypeFUA.String())
	require.Equal(t, "NAL(20)", NALType(20).String())
	require.Equal(t, NALTypeSPS, HeaderType(0x67))
	require.Equal(t, NALTypeIDR, DecodeInfo{NALUHeader: 0x65}.NALType())
}
