// Package openh264 adapts the OpenH264 codec library to per-NAL-unit
// delivery, as needed by RTP based transports.
//
// Key pieces include:
//   - H264Encoder: raw I420 pictures in, one callback per NAL unit out, with
//     the Annex-B start code stripped and SVC prefix units dropped
//   - H264Decoder: NAL units in (whole, or with the header carried out of
//     band after FU-A reassembly), decoded I420 pictures out
//   - H264Packetizer/H264Depacketizer: RTP framing of single units
//   - NALTrack/EncoderSink: a pion webrtc.TrackLocal fed by the encoder
//
// # Architecture
//
//	Encode: VideoFrame -> H264Encoder -> EncodeCompleteFunc (per NAL) -> EncoderSink -> NALTrack
//	Decode: RTP -> H264Depacketizer -> H264Decoder.Decode -> DecodeCompleteFunc (per picture)
//
// Every call completes synchronously on the caller's goroutine, callbacks
// included. Encoders and decoders are not safe for concurrent use.
//
// # Native Library
//
// The OpenH264 backend loads libopenh264 at runtime with purego, so the
// package builds with CGO_ENABLED=0. Set OPENH264_LIB_PATH to the library
// file, or MEDIA_SDK_LIB_PATH to the directory containing it. When the
// library is missing, InitEncode and InitDecode fail with
// ErrProviderNotFound; tests and custom backends can be plugged in with
// WithEncoderBackend and WithDecoderBackend.
//
// # Build Tags
//
//   - noh264: build without the OpenH264 backend
//
// # Logging
//
// Encoders and decoders log through zerolog. The package logger discards
// everything until SetLogger is called; NewLogger builds one from LogConfig.
package openh264
