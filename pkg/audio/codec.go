// Package audio provides the audio types, codec, and format conversions for
// the Echoline voice pipeline.
//
// The codec functions are pure and stateless: transport encoding is plain
// base64 (an exact round trip for arbitrary bytes), sample conversion scales
// float samples into the int16 range, and [DecodeCompressed] turns inbound
// payload bytes — raw PCM, WAV containers, or Opus packets — into playable
// buffers at a target format. All functions are safe to call from any
// goroutine.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"layeh.com/gopus"
)

// ErrDecode indicates a malformed inbound audio payload. Decode failures are
// fatal to the one chunk only — callers drop the chunk and continue.
var ErrDecode = errors.New("audio: malformed audio payload")

// EncodeTransport encodes raw bytes into the transport-safe string form used
// for outbound frames.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport decodes a transport string produced by [EncodeTransport].
// EncodeTransport and DecodeTransport form an exact round trip for arbitrary
// byte sequences.
func DecodeTransport(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	return data, nil
}

// Float32ToPCM16 converts float samples in [-1, 1] to little-endian int16
// PCM bytes. Samples are scaled by the int16 range and truncated; values
// outside [-1, 1] are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to float samples in
// [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// opusDefaultFrameSize is the largest frame gopus may produce per packet at
// 48 kHz (120 ms).
const opusDefaultFrameSize = 5760

// DecodeCompressed converts inbound payload bytes into a playable [Buffer]
// at the target format. The mimeType selects the container:
//
//   - "audio/pcm" (optionally with a ";rate=N" parameter) — raw s16le PCM
//   - "audio/wav", "audio/x-wav", "audio/wave" — RIFF/WAVE container
//   - "audio/opus" — a single Opus packet
//
// The decoded samples are resampled and channel-converted to target.
// Returns an error wrapping [ErrDecode] if the byte stream is malformed or
// the mime type is unknown.
func DecodeCompressed(data []byte, mimeType string, target Format) (Buffer, error) {
	if target.SampleRate <= 0 || target.Channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid target format %+v", target)
	}

	kind, rate := ParseMIME(mimeType)
	var (
		pcm []byte
		src Format
	)

	switch kind {
	case "audio/pcm", "audio/l16", "":
		if len(data)%2 != 0 {
			return Buffer{}, fmt.Errorf("%w: odd pcm byte count %d", ErrDecode, len(data))
		}
		if rate <= 0 {
			rate = target.SampleRate
		}
		pcm = data
		src = Format{SampleRate: rate, Channels: 1}

	case "audio/wav", "audio/x-wav", "audio/wave":
		var err error
		pcm, src, err = DecodeWAV(data)
		if err != nil {
			return Buffer{}, err
		}

	case "audio/opus":
		dec, err := gopus.NewDecoder(target.SampleRate, target.Channels)
		if err != nil {
			return Buffer{}, fmt.Errorf("audio: create opus decoder: %w", err)
		}
		samples, err := dec.Decode(data, opusDefaultFrameSize, false)
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: opus: %v", ErrDecode, err)
		}
		pcm = Int16ToBytes(samples)
		src = target

	default:
		return Buffer{}, fmt.Errorf("%w: unsupported mime type %q", ErrDecode, mimeType)
	}

	conv := FormatConverter{Target: target}
	frame := conv.Convert(AudioFrame{Data: pcm, SampleRate: src.SampleRate, Channels: src.Channels})
	if len(pcm) > 0 && len(frame.Data) == 0 {
		return Buffer{}, fmt.Errorf("%w: conversion produced no samples", ErrDecode)
	}
	return Buffer{PCM: frame.Data, Format: target}, nil
}

// ParseMIME splits an audio mime tag like "audio/pcm;rate=24000" into its
// media type and sample-rate parameter. The rate is 0 when absent.
func ParseMIME(mimeType string) (kind string, rate int) {
	parts := strings.Split(mimeType, ";")
	kind = strings.ToLower(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if v, ok := strings.CutPrefix(p, "rate="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				rate = n
			}
		}
	}
	return kind, rate
}

// Int16ToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16 converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
