package openh264

import (
	"encoding/binary"
	"iter"
	"strconv"
)

// NALType is the 5-bit nal_unit_type of an H.264 NAL unit header.
type NALType uint8

// H264 NAL unit types
const (
	NALTypeSlice  NALType = 1
	NALTypeIDR    NALType = 5
	NALTypeSEI    NALType = 6
	NALTypeSPS    NALType = 7
	NALTypePPS    NALType = 8
	NALTypeAUD    NALType = 9
	NALTypePrefix NALType = 14 // SVC prefix unit
	NALTypeSTAPA  NALType = 24 // Single-time aggregation packet
	NALTypeFUA    NALType = 28 // Fragmentation Unit A
)

func (t NALType) String() string {
	switch t {
	case NALTypeSlice:
		return "Slice"
	case NALTypeIDR:
		return "IDR"
	case NALTypeSEI:
		return "SEI"
	case NALTypeSPS:
		return "SPS"
	case NALTypePPS:
		return "PPS"
	case NALTypeAUD:
		return "AUD"
	case NALTypePrefix:
		return "Prefix"
	case NALTypeSTAPA:
		return "STAP-A"
	case NALTypeFUA:
		return "FU-A"
	default:
		return "NAL(" + strconv.Itoa(int(t)) + ")"
	}
}

// HeaderType extracts the NAL type from a NAL header byte.
func HeaderType(header byte) NALType {
	return NALType(header & 0x1F)
}

// StartCode is the 4-byte Annex-B start code.
var StartCode = [4]byte{0, 0, 0, 1}

// StartCodeLen is the length of the start code the encoder emits before
// every NAL unit.
const StartCodeLen = len(StartCode)

// LayerNALUs iterates the NAL units of one encoded layer.
//
// Each unit in layer.Buf is prefixed by its own 4-byte start code and
// layer.NALLengths holds the length of every unit including that prefix. The
// sequence yields the unit type and the payload with the start code removed.
// Payloads alias layer.Buf. Iteration stops early on a truncated buffer, so
// a corrupt length table never reads past the end of the layer.
func LayerNALUs(layer *LayerBitstream) iter.Seq2[NALType, []byte] {
	return func(yield func(NALType, []byte) bool) {
		if layer == nil {
			return
		}
		offset := 0
		for _, n := range layer.NALLengths {
			end := offset + n
			if n <= StartCodeLen || end > len(layer.Buf) {
				return
			}
			payload := layer.Buf[offset+StartCodeLen : end]
			offset = end
			if !yield(HeaderType(payload[0]), payload) {
				return
			}
		}
	}
}

// FilterNALUs returns the units of seq for which keep reports true.
func FilterNALUs(seq iter.Seq2[NALType, []byte], keep func(NALType) bool) iter.Seq2[NALType, []byte] {
	return func(yield func(NALType, []byte) bool) {
		for t, payload := range seq {
			if !keep(t) {
				continue
			}
			if !yield(t, payload) {
				return
			}
		}
	}
}

// DeliverableNALU reports whether a unit produced by the encoder is handed to
// the encode callback. Prefix units carry nothing a downstream consumer of a
// single-layer stream needs.
func DeliverableNALU(t NALType) bool {
	return t != NALTypePrefix
}

// AnnexBSize returns the size of the decoder input built by AppendAnnexB.
func AnnexBSize(payloadLen int, single bool) int {
	if single {
		return StartCodeLen + payloadLen
	}
	return StartCodeLen + 1 + payloadLen
}

// AppendAnnexB appends a start-code-prefixed NAL unit to dst.
// When single is false the header byte is inserted between the start code
// and the payload, restoring a unit whose header was stripped upstream.
func AppendAnnexB(dst []byte, header byte, payload []byte, single bool) []byte {
	dst = append(dst, StartCode[:]...)
	if !single {
		dst = append(dst, header)
	}
	return append(dst, payload...)
}

// SplitAnnexB parses Annex B format into individual NAL units.
// Annex B uses start codes: 0x00000001 or 0x000001
func SplitAnnexB(data []byte) [][]byte {
	var nalUnits [][]byte
	start := -1

	for i := 0; i < len(data); i++ {
		// Look for start code
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			// 4-byte start code
			if start >= 0 && i > start {
				nalUnits = append(nalUnits, data[start:i])
			}
			start = i + 4
			i += 3
		} else if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			// 3-byte start code
			if start >= 0 && i > start {
				nalUnits = append(nalUnits, data[start:i])
			}
			start = i + 3
			i += 2
		}
	}

	// Handle last NAL unit
	if start >= 0 && start < len(data) {
		nalUnits = append(nalUnits, data[start:])
	}

	return nalUnits
}

// SplitAVCC splits length-prefixed (AVCC) data into NAL units.
// Truncated trailing data is ignored.
func SplitAVCC(data []byte) [][]byte {
	var nalus [][]byte
	for offset := 0; offset+4 <= len(data); {
		length := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if length <= 0 || offset+length > len(data) {
			break
		}
		nalus = append(nalus, data[offset:offset+length])
		offset += length
	}
	return nalus
}
