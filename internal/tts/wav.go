package tts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo is the subset of a RIFF/WAVE header needed to size a narration.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
	Duration      float64
}

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// ProbeWAV walks the RIFF chunks for "fmt " and "data" and derives the duration.
func ProbeWAV(b []byte) (WAVInfo, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}
	var info WAVInfo
	var haveFmt bool
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return WAVInfo{}, fmt.Errorf("wav: short fmt chunk")
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			// streamed writers leave the size at 0 or 0xFFFFFFFF
			if size == 0 || body+size > len(b) {
				size = len(b) - body
			}
			info.DataBytes = size
		}
		if info.DataBytes > 0 && haveFmt {
			break
		}
		off = body + size + size%2
	}
	if !haveFmt {
		return WAVInfo{}, fmt.Errorf("wav: missing fmt chunk")
	}
	frame := info.Channels * info.BitsPerSample / 8
	if info.SampleRate <= 0 || frame <= 0 {
		return WAVInfo{}, fmt.Errorf("wav: invalid format (rate=%d frame=%d)", info.SampleRate, frame)
	}
	info.Duration = float64(info.DataBytes) / float64(frame*info.SampleRate)
	return info, nil
}

// EncodeWAV builds a 16-bit PCM WAVE stream from samples. Used by fakes and tests.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataLen := len(samples) * 2
	out := make([]byte, 44+dataLen)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(out[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(s))
	}
	return out
}
