package openh264

import (
	"errors"
)

// Canned NAL units. The first byte is the NAL header.
var (
	testSPS    = []byte{0x67, 0x42, 0xc0, 0x1f, 0xda, 0x01, 0x40}
	testPPS    = []byte{0x68, 0xce, 0x3c, 0x80}
	testPrefix = []byte{0x6e, 0x40, 0x80, 0x1f}
	testIDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	testSlice  = []byte{0x41, 0x9a, 0x02, 0x0c, 0x08}
)

// annexLayer builds a layer the way the library lays one out: every unit is
// prefixed with a 4-byte start code that is counted in its length.
func annexLayer(ft BitstreamFrameType, nalus ...[]byte) LayerBitstream {
	layer := LayerBitstream{FrameType: ft}
	for _, n := range nalus {
		layer.Buf = append(layer.Buf, StartCode[:]...)
		layer.Buf = append(layer.Buf, n...)
		layer.NALLengths = append(layer.NALLengths, StartCodeLen+len(n))
	}
	return layer
}

type rateCall struct {
	bitrateBps int
	framerate  float32
}

// fakeEncoder is a scripted EncoderBackend. Without a script it emits an IDR
// access unit for the first or a forced picture and a P slice otherwise, each
// preceded by an SVC prefix unit.
type fakeEncoder struct {
	params     EncoderParams
	initCalls  int
	initErr    error
	encodeErr  error
	forceErr   error
	forced     bool
	forceCalls int
	pictures   []SourcePicture
	rates      []rateCall
	destroyed  int
	script     func(n int, forced bool) (BitstreamFrameType, []LayerBitstream)
}

func (f *fakeEncoder) Initialize(params EncoderParams) error {
	f.initCalls++
	f.params = params
	return f.initErr
}

func (f *fakeEncoder) EncodeFrame(pic *SourcePicture, out *FrameBitstream) error {
	if f.encodeErr != nil {
		return f.encodeErr
	}
	n := len(f.pictures)
	f.pictures = append(f.pictures, *pic)
	forced := f.forced
	f.forced = false

	var ft BitstreamFrameType
	var layers []LayerBitstream
	if f.script != nil {
		ft, layers = f.script(n, forced)
	} else if n == 0 || forced {
		ft = BitstreamFrameIDR
		layers = []LayerBitstream{annexLayer(ft, testSPS, testPPS, testPrefix, testIDR)}
	} else {
		ft = BitstreamFrameP
		layers = []LayerBitstream{annexLayer(ft, testPrefix, testSlice)}
	}

	out.FrameType = ft
	out.Timestamp = pic.Timestamp
	for _, l := range layers {
		layer := out.nextLayer()
		*layer = l
		out.Size += len(l.Buf)
	}
	return nil
}

func (f *fakeEncoder) ForceIntraFrame(idr bool) error {
	f.forceCalls++
	if f.forceErr != nil {
		return f.forceErr
	}
	f.forced = idr
	return nil
}

func (f *fakeEncoder) SetRates(bitrateBps int, framerate float32) error {
	f.rates = append(f.rates, rateCall{bitrateBps, framerate})
	return nil
}

func (f *fakeEncoder) Destroy() {
	f.destroyed++
}

// encoderFactory returns a factory handing out the given backends in order.
func encoderFactory(backends ...*fakeEncoder) EncoderBackendFactory {
	i := 0
	return func() (EncoderBackend, error) {
		if i >= len(backends) {
			return nil, errors.New("no more fake encoders")
		}
		b := backends[i]
		i++
		return b, nil
	}
}

// fakeDecoder is a scripted DecoderBackend. It completes a picture on every
// slice unit unless a script says otherwise.
type fakeDecoder struct {
	params       DecoderParams
	initErr      error
	inputs       [][]byte
	uninitCalls  int
	destroyed    int
	width        int
	height       int
	padding      int
	script       func(n int, src []byte) (DecodingState, bool)
	planeStorage [3][]byte
}

func (f *fakeDecoder) Initialize(params DecoderParams) error {
	f.params = params
	return f.initErr
}

func (f *fakeDecoder) DecodeFrame(src []byte, out *DecodedPlanes) (DecodingState, error) {
	n := len(f.inputs)
	f.inputs = append(f.inputs, append([]byte(nil), src...))

	state, ready := DecodingStateOK, false
	if f.script != nil {
		state, ready = f.script(n, src)
	} else if len(src) > StartCodeLen {
		ready = IsVCL(HeaderType(src[StartCodeLen]))
	}
	if state != DecodingStateOK || !ready {
		return state, nil
	}

	w, h := f.width, f.height
	if w == 0 || h == 0 {
		w, h = 16, 8
	}
	uvW, uvH := (w+1)/2, (h+1)/2
	strides := [3]int{w + f.padding, uvW + f.padding, uvW + f.padding}
	rows := [3]int{h, uvH, uvH}
	for i := range f.planeStorage {
		f.planeStorage[i] = make([]byte, strides[i]*rows[i])
		for j := range f.planeStorage[i] {
			f.planeStorage[i][j] = byte(i*64 + n)
		}
	}

	out.Ready = true
	out.Width = w
	out.Height = h
	out.Strides = strides
	out.Planes = f.planeStorage
	out.Timestamp = uint64(n)
	return state, nil
}

func (f *fakeDecoder) Uninitialize() {
	f.uninitCalls++
}

func (f *fakeDecoder) Destroy() {
	f.destroyed++
}

func decoderFactory(backends ...*fakeDecoder) DecoderBackendFactory {
	i := 0
	return func() (DecoderBackend, error) {
		if i >= len(backends) {
			return nil, errors.New("no more fake decoders")
		}
		b := backends[i]
		i++
		return b, nil
	}
}
