package audio

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// EncodeWAV frames little-endian 16-bit PCM as a self-contained RIFF/WAVE file.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// WAVDuration returns the playback length in seconds of a PCM payload.
func WAVDuration(pcmBytes, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(pcmBytes) / float64(sampleRate*channels*2)
}

// StripWAVHeader returns the PCM payload of a canonical 44-byte header WAV.
// Data that does not start with RIFF/WAVE is returned unchanged.
func StripWAVHeader(data []byte) []byte {
	if len(data) >= wavHeaderSize && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return data[wavHeaderSize:]
	}
	return data
}
