package chunker

import (
	"encoding/binary"
	"os"
)

// resamplePCM16 resamples interleaved signed 16-bit little-endian PCM from
// srcRate to dstRate using linear interpolation.
func resamplePCM16(data []byte, srcRate, dstRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(data) < 2*channels {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}

	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	if frames == 0 {
		return nil
	}

	samples := make([][]int16, channels)
	for ch := range samples {
		samples[ch] = make([]int16, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*2
			samples[ch][i] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
		}
	}

	ratio := float64(srcRate) / float64(dstRate)
	outFrames := int(float64(frames) / ratio)
	out := make([]byte, outFrames*frameBytes)
	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		i1 := i0 + 1
		if i1 >= frames {
			i1 = frames - 1
		}
		frac := srcPos - float64(i0)
		for ch := 0; ch < channels; ch++ {
			v := float64(samples[ch][i0])*(1-frac) + float64(samples[ch][i1])*frac
			off := i*frameBytes + ch*2
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(int16(v)))
		}
	}
	return out
}

// writeWAV writes a minimal canonical WAV file wrapping signed 16-bit
// little-endian PCM.
func writeWAV(path string, pcm []byte, sampleRate, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataLen := uint32(len(pcm))

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataLen)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err = f.Write(pcm)
	return err
}
