package audio

import (
	"fmt"
	"time"
)

// AudioFrame represents a single fixed-size block of captured audio flowing
// outward through the pipeline. Frames are the atomic unit of outbound
// transport — produced by the capture pipeline on each buffer-full, encoded
// by the codec, and handed to the live channel for sending. A frame is
// immutable once encoded.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for model output).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// MIMEType returns the transport format tag for this frame,
// e.g. "audio/pcm;rate=16000".
func (f AudioFrame) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Duration returns the playback duration of the frame's PCM data.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), Format{SampleRate: f.SampleRate, Channels: f.Channels})
}

// Buffer is a decoded, playable block of audio: the unit handed to the
// playback scheduler. Unlike [AudioFrame], a Buffer always carries audio in
// the format the output device expects.
type Buffer struct {
	// PCM audio data, little-endian signed 16-bit samples.
	PCM []byte

	// Format is the sample rate and channel count of PCM.
	Format Format
}

// Duration returns the playback duration of the buffer.
func (b Buffer) Duration() time.Duration {
	return PCMDuration(len(b.PCM), b.Format)
}

// PCMDuration returns how long n bytes of little-endian int16 PCM last when
// played at the given format. Returns 0 for invalid formats.
func PCMDuration(n int, f Format) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}
