//go:build (darwin || linux) && !noh264

// OpenH264 encoder and decoder backends via libopenh264 using purego.

package openh264

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	openh264Once    sync.Once
	openh264Handle  uintptr
	openh264InitErr error
)

// libopenh264 function pointers
var (
	welsCreateSVCEncoder  func(ppEncoder *uintptr) int32
	welsDestroySVCEncoder func(encoder uintptr)
	welsCreateDecoder     func(ppDecoder *uintptr) int64
	welsDestroyDecoder    func(decoder uintptr)
	welsGetCodecVersionEx func(version *openh264Version)
)

// Constants from codec_def.h and codec_app_def.h
const (
	videoFormatI420 = 23

	cameraVideoRealTime = 0
	rcQualityMode       = 0

	encoderOptionFrameRate = 4
	encoderOptionBitrate   = 5
	spatialLayerAll        = 4

	errorConSliceCopy     = 2
	videoBitstreamDefault = 1

	maxLayerNumOfFrame = 128

	cmResultSuccess = 0
)

// ISVCEncoderVtbl slots
const (
	encInitialize = iota
	encInitializeExt
	encGetDefaultParams
	encUninitialize
	encEncodeFrame
	encEncodeParameterSets
	encForceIntraFrame
	encSetOption
	encGetOption
)

// ISVCDecoderVtbl slots
const (
	decInitialize = iota
	decUninitialize
	decDecodeFrame
	decDecodeFrameNoDelay
	decDecodeFrame2
	decFlushFrame
	decDecodeParser
	decDecodeFrameEx
	decSetOption
	decGetOption
)

// Go mirrors of the library structs. Field order and types follow the C
// declarations so the Go layout matches on 64-bit targets.

type openh264Version struct {
	Major    uint32
	Minor    uint32
	Revision uint32
	Reserved uint32
}

type sEncParamBase struct {
	UsageType     int32
	PicWidth      int32
	PicHeight     int32
	TargetBitrate int32
	RCMode        int32
	MaxFrameRate  float32
}

type sSourcePicture struct {
	ColorFormat int32
	Stride      [4]int32
	Data        [4]uintptr
	PicWidth    int32
	PicHeight   int32
	TimeStamp   int64
}

type sLayerBSInfo struct {
	TemporalID      uint8
	SpatialID       uint8
	QualityID       uint8
	FrameType       int32
	LayerType       uint8
	SubSeqID        int32
	NalCount        int32
	NalLengthInByte uintptr // int*
	BsBuf           uintptr // unsigned char*
}

type sFrameBSInfo struct {
	LayerNum         int32
	LayerInfo        [maxLayerNumOfFrame]sLayerBSInfo
	FrameType        int32
	FrameSizeInBytes int32
	TimeStamp        int64
}

type sBitrateInfo struct {
	Layer   int32
	Bitrate int32
}

type sVideoProperty struct {
	Size        uint32
	VideoBsType int32
}

type sDecodingParam struct {
	FileNameRestructed uintptr
	CpuLoad            uint32
	TargetDqLayer      uint8
	EcActiveIdc        int32
	ParseOnly          bool
	VideoProperty      sVideoProperty
}

type sSysMemBuffer struct {
	Width  int32
	Height int32
	Format int32
	Stride [2]int32
}

type sBufferInfo struct {
	BufferStatus    int32
	InBsTimeStamp   uint64
	OutYuvTimeStamp uint64
	SystemBuffer    sSysMemBuffer
	Dst             [3]uintptr
}

func loadOpenH264() error {
	openh264Once.Do(func() {
		openh264InitErr = loadOpenH264Lib()
	})
	return openh264InitErr
}

func loadOpenH264Lib() error {
	paths := getOpenH264LibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			openh264Handle = handle
			if err := loadOpenH264Symbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libopenh264: %w", lastErr)
	}
	return errors.New("libopenh264 not found in any standard location")
}

func getOpenH264LibPaths() []string {
	var paths []string

	libNames := []string{"libopenh264.so", "libopenh264.so.7", "libopenh264.so.6"}
	if runtime.GOOS == "darwin" {
		libNames = []string{"libopenh264.dylib", "libopenh264.7.dylib"}
	}
	libName := libNames[0]

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("OPENH264_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to working directory
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", libName),
		)
	}

	// Search relative to source root (uses runtime.Caller - works in IDE/tests)
	if sourceRoot := findSourceRoot(); sourceRoot != "" {
		paths = append(paths, filepath.Join(sourceRoot, "build", libName))
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths, filepath.Join(moduleRoot, "build", libName))
	}

	// System paths (lowest priority)
	for _, name := range libNames {
		paths = append(paths, name)
	}
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"/usr/local/lib/libopenh264.dylib",
			"/opt/homebrew/lib/libopenh264.dylib",
		)
	case "linux":
		paths = append(paths,
			"/usr/local/lib/libopenh264.so",
			"/usr/lib/libopenh264.so",
			"/usr/lib/x86_64-linux-gnu/libopenh264.so.7",
			"/usr/lib/aarch64-linux-gnu/libopenh264.so.7",
		)
	}

	return paths
}

func loadOpenH264Symbols() (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libopenh264: %v", r)
		}
	}()

	purego.RegisterLibFunc(&welsCreateSVCEncoder, openh264Handle, "WelsCreateSVCEncoder")
	purego.RegisterLibFunc(&welsDestroySVCEncoder, openh264Handle, "WelsDestroySVCEncoder")
	purego.RegisterLibFunc(&welsCreateDecoder, openh264Handle, "WelsCreateDecoder")
	purego.RegisterLibFunc(&welsDestroyDecoder, openh264Handle, "WelsDestroyDecoder")
	purego.RegisterLibFunc(&welsGetCodecVersionEx, openh264Handle, "WelsGetCodecVersionEx")

	return nil
}

// OpenH264Available reports whether libopenh264 was loaded.
func OpenH264Available() bool {
	return loadOpenH264() == nil
}

// OpenH264LoadError returns the reason libopenh264 could not be loaded.
func OpenH264LoadError() error {
	return loadOpenH264()
}

// OpenH264Version returns the version of the loaded library.
func OpenH264Version() (string, error) {
	if err := loadOpenH264(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderNotFound, err)
	}
	v := &openh264Version{}
	welsGetCodecVersionEx(v)
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision), nil
}

// openh264Encoder implements EncoderBackend on an ISVCEncoder.
type openh264Encoder struct {
	obj cObject

	// Heap-allocated for the duration of the backend: the library reads
	// and writes these during the call.
	param   *sEncParamBase
	pic     *sSourcePicture
	info    *sFrameBSInfo
	bitrate *sBitrateInfo
	fps     *float32
}

func newOpenH264Encoder() (EncoderBackend, error) {
	if err := loadOpenH264(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderNotFound, err)
	}

	var obj uintptr
	if rv := welsCreateSVCEncoder(&obj); rv != 0 || obj == 0 {
		return nil, encoderError("WelsCreateSVCEncoder", int(rv))
	}

	return &openh264Encoder{
		obj:     cObject(obj),
		param:   &sEncParamBase{},
		pic:     &sSourcePicture{},
		info:    &sFrameBSInfo{},
		bitrate: &sBitrateInfo{},
		fps:     new(float32),
	}, nil
}

// Initialize configures the encoder with the base parameter set. The base
// set has no thread control, so params.Threads is not used.
func (e *openh264Encoder) Initialize(params EncoderParams) error {
	*e.param = sEncParamBase{
		UsageType:     cameraVideoRealTime,
		PicWidth:      int32(params.Width),
		PicHeight:     int32(params.Height),
		TargetBitrate: int32(params.TargetBitrateBps),
		RCMode:        rcQualityMode,
		MaxFrameRate:  params.MaxFramerate,
	}

	rv := e.obj.call(encInitialize, uintptr(unsafe.Pointer(e.param)))
	runtime.KeepAlive(e.param)
	if rv != cmResultSuccess {
		return encoderError("Initialize", int(rv))
	}
	return nil
}

// EncodeFrame implements EncoderBackend.
func (e *openh264Encoder) EncodeFrame(pic *SourcePicture, out *FrameBitstream) error {
	*e.pic = sSourcePicture{
		ColorFormat: videoFormatI420,
		PicWidth:    int32(pic.Width),
		PicHeight:   int32(pic.Height),
		TimeStamp:   pic.Timestamp,
	}
	for i := 0; i < 3; i++ {
		e.pic.Stride[i] = int32(pic.Strides[i])
		e.pic.Data[i] = uintptr(unsafe.Pointer(&pic.Planes[i][0]))
	}
	*e.info = sFrameBSInfo{}

	rv := e.obj.call(encEncodeFrame, uintptr(unsafe.Pointer(e.pic)), uintptr(unsafe.Pointer(e.info)))

	// Keep the planes and structs alive during and after the C call
	runtime.KeepAlive(pic.Planes)
	runtime.KeepAlive(e.pic)
	runtime.KeepAlive(e.info)

	if rv != cmResultSuccess {
		return encoderError("EncodeFrame", int(rv))
	}

	info := e.info
	out.FrameType = BitstreamFrameType(info.FrameType)
	out.Size = int(info.FrameSizeInBytes)
	out.Timestamp = info.TimeStamp

	if out.FrameType == BitstreamFrameSkip {
		return nil
	}

	layers := int(info.LayerNum)
	if layers > maxLayerNumOfFrame {
		layers = maxLayerNumOfFrame
	}
	for i := 0; i < layers; i++ {
		src := &info.LayerInfo[i]
		layer := out.nextLayer()
		layer.TemporalID = src.TemporalID
		layer.SpatialID = src.SpatialID
		layer.FrameType = BitstreamFrameType(src.FrameType)

		if src.NalCount <= 0 || src.NalLengthInByte == 0 || src.BsBuf == 0 {
			continue
		}

		lengths := unsafe.Slice((*int32)(unsafe.Pointer(src.NalLengthInByte)), int(src.NalCount))
		total := 0
		for _, n := range lengths {
			layer.NALLengths = append(layer.NALLengths, int(n))
			total += int(n)
		}
		layer.Buf = unsafe.Slice((*byte)(unsafe.Pointer(src.BsBuf)), total)
	}

	return nil
}

// ForceIntraFrame implements EncoderBackend.
func (e *openh264Encoder) ForceIntraFrame(idr bool) error {
	var flag uintptr
	if idr {
		flag = 1
	}
	// iLayerId -1 forces every layer.
	if rv := e.obj.call(encForceIntraFrame, flag, ^uintptr(0)); rv != cmResultSuccess {
		return encoderError("ForceIntraFrame", int(rv))
	}
	return nil
}

// SetRates implements EncoderBackend.
func (e *openh264Encoder) SetRates(bitrateBps int, framerate float32) error {
	*e.bitrate = sBitrateInfo{Layer: spatialLayerAll, Bitrate: int32(bitrateBps)}
	rv := e.obj.call(encSetOption, encoderOptionBitrate, uintptr(unsafe.Pointer(e.bitrate)))
	runtime.KeepAlive(e.bitrate)
	if rv != cmResultSuccess {
		return encoderError("SetOption(bitrate)", int(rv))
	}

	*e.fps = framerate
	rv = e.obj.call(encSetOption, encoderOptionFrameRate, uintptr(unsafe.Pointer(e.fps)))
	runtime.KeepAlive(e.fps)
	if rv != cmResultSuccess {
		return encoderError("SetOption(framerate)", int(rv))
	}
	return nil
}

// Destroy implements EncoderBackend.
func (e *openh264Encoder) Destroy() {
	if e.obj == 0 {
		return
	}
	e.obj.call(encUninitialize)
	welsDestroySVCEncoder(uintptr(e.obj))
	e.obj = 0
}

// openh264Decoder implements DecoderBackend on an ISVCDecoder.
type openh264Decoder struct {
	obj cObject

	param *sDecodingParam
	info  *sBufferInfo
	dst   *[3]uintptr
}

func newOpenH264Decoder() (DecoderBackend, error) {
	if err := loadOpenH264(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderNotFound, err)
	}

	var obj uintptr
	if rv := welsCreateDecoder(&obj); rv != 0 || obj == 0 {
		return nil, decoderError("WelsCreateDecoder", int(rv))
	}

	return &openh264Decoder{
		obj:   cObject(obj),
		param: &sDecodingParam{},
		info:  &sBufferInfo{},
		dst:   &[3]uintptr{},
	}, nil
}

// Initialize implements DecoderBackend.
func (d *openh264Decoder) Initialize(params DecoderParams) error {
	*d.param = sDecodingParam{
		TargetDqLayer: params.TargetDQLayer,
		VideoProperty: sVideoProperty{
			Size:        uint32(unsafe.Sizeof(sVideoProperty{})),
			VideoBsType: videoBitstreamDefault,
		},
	}
	if params.ErrorConcealment {
		d.param.EcActiveIdc = errorConSliceCopy
	}

	rv := d.obj.call(decInitialize, uintptr(unsafe.Pointer(d.param)))
	runtime.KeepAlive(d.param)
	if rv != cmResultSuccess {
		return decoderError("Initialize", int(rv))
	}
	return nil
}

// DecodeFrame implements DecoderBackend.
func (d *openh264Decoder) DecodeFrame(src []byte, out *DecodedPlanes) (DecodingState, error) {
	if len(src) == 0 {
		return DecodingStateOK, ErrInvalidParameter
	}

	*d.info = sBufferInfo{}
	*d.dst = [3]uintptr{}

	rv := d.obj.call(decDecodeFrame2,
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(len(src)),
		uintptr(unsafe.Pointer(d.dst)),
		uintptr(unsafe.Pointer(d.info)),
	)

	runtime.KeepAlive(src)
	runtime.KeepAlive(d.dst)
	runtime.KeepAlive(d.info)

	state := DecodingState(rv)
	if state != DecodingStateOK {
		return state, nil
	}

	info := d.info
	if info.BufferStatus != 1 {
		return state, nil
	}

	buf := &info.SystemBuffer
	w, h := int(buf.Width), int(buf.Height)
	strideY, strideUV := int(buf.Stride[0]), int(buf.Stride[1])
	if w <= 0 || h <= 0 || strideY <= 0 || strideUV <= 0 || d.dst[0] == 0 || d.dst[1] == 0 || d.dst[2] == 0 {
		return state, fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d", strideY, strideUV, w, h)
	}

	uvH := (h + 1) / 2
	out.Ready = true
	out.Width = w
	out.Height = h
	out.Timestamp = info.OutYuvTimeStamp
	out.Strides = [3]int{strideY, strideUV, strideUV}
	out.Planes[0] = unsafe.Slice((*byte)(unsafe.Pointer(d.dst[0])), strideY*h)
	out.Planes[1] = unsafe.Slice((*byte)(unsafe.Pointer(d.dst[1])), strideUV*uvH)
	out.Planes[2] = unsafe.Slice((*byte)(unsafe.Pointer(d.dst[2])), strideUV*uvH)

	return state, nil
}

// Uninitialize implements DecoderBackend.
func (d *openh264Decoder) Uninitialize() {
	if d.obj != 0 {
		d.obj.call(decUninitialize)
	}
}

// Destroy implements DecoderBackend.
func (d *openh264Decoder) Destroy() {
	if d.obj == 0 {
		return
	}
	welsDestroyDecoder(uintptr(d.obj))
	d.obj = 0
}

// Register OpenH264 encoder and decoder
func init() {
	if err := loadOpenH264(); err != nil {
		return
	}
	setProviderAvailable(ProviderOpenH264)
	RegisterEncoderBackend(ProviderOpenH264, newOpenH264Encoder)
	RegisterDecoderBackend(ProviderOpenH264, newOpenH264Decoder)
}
