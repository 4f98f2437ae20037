package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16 // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM data and returns
// the raw sample bytes and their format. Only uncompressed PCM with a plain
// 44-byte header is accepted; anything else fails with [ErrDecode].
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 44 {
		return nil, Format{}, fmt.Errorf("%w: wav data too short (%d bytes)", ErrDecode, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, Format{}, fmt.Errorf("%w: wav header: %v", ErrDecode, err)
	}

	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: not a RIFF/WAVE container", ErrDecode)
	}
	if string(header.Subchunk1ID[:]) != "fmt " || string(header.Subchunk2ID[:]) != "data" {
		return nil, Format{}, fmt.Errorf("%w: unexpected wav chunk layout", ErrDecode)
	}
	if header.AudioFormat != 1 {
		return nil, Format{}, fmt.Errorf("%w: wav audio format %d is not PCM", ErrDecode, header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("%w: wav bits per sample %d (want 16)", ErrDecode, header.BitsPerSample)
	}
	if header.NumChannels != 1 && header.NumChannels != 2 {
		return nil, Format{}, fmt.Errorf("%w: wav channel count %d", ErrDecode, header.NumChannels)
	}

	pcm := data[44:]
	if int(header.Subchunk2Size) > len(pcm) {
		return nil, Format{}, fmt.Errorf("%w: wav declares %d data bytes but only %d are present",
			ErrDecode, header.Subchunk2Size, len(pcm))
	}
	if int(header.Subchunk2Size) < len(pcm) {
		pcm = pcm[:header.Subchunk2Size]
	}
	if len(pcm)%2 != 0 {
		return nil, Format{}, fmt.Errorf("%w: odd wav data length %d", ErrDecode, len(pcm))
	}

	f := Format{SampleRate: int(header.SampleRate), Channels: int(header.NumChannels)}
	return pcm, f, nil
}

// EncodeWAV wraps little-endian 16-bit PCM bytes in a RIFF/WAVE container.
// Useful for dumping captured or received audio for offline inspection.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: cannot encode %d pcm bytes as wav", len(pcm))
	}
	if f.SampleRate <= 0 || (f.Channels != 1 && f.Channels != 2) {
		return nil, fmt.Errorf("audio: invalid wav format %+v", f)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.Channels * 2),
		BlockAlign:    uint16(f.Channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
