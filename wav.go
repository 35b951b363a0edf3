package tapefour

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wav converts an AudioBuffer into a valid WAV file. If pcm16 is set, the
// samples are converted to 16-bit signed PCM; otherwise they are saved as
// 32-bit floats. The sample rate written to the header is always SampleRate.
func Wav(buffer AudioBuffer, pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	wavHeader(len(buffer)*2, pcm16, buf)
	err := rawToBuffer(buffer, pcm16, buf)
	if err != nil {
		return nil, fmt.Errorf("Wav failed: %v", err)
	}
	return buf.Bytes(), nil
}

// Raw converts an AudioBuffer into headerless interleaved PCM data.
func Raw(buffer AudioBuffer, pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := rawToBuffer(buffer, pcm16, buf)
	if err != nil {
		return nil, fmt.Errorf("Raw failed: %v", err)
	}
	return buf.Bytes(), nil
}

func rawToBuffer(data AudioBuffer, pcm16 bool, buf *bytes.Buffer) error {
	var err error
	if pcm16 {
		int16data := make([]int16, len(data)*2)
		for i, v := range data {
			int16data[i*2] = int16(clamp(int(v[0]*math.MaxInt16), math.MinInt16, math.MaxInt16))
			int16data[i*2+1] = int16(clamp(int(v[1]*math.MaxInt16), math.MinInt16, math.MaxInt16))
		}
		err = binary.Write(buf, binary.LittleEndian, int16data)
	} else {
		floatdata := make([]float32, len(data)*2)
		for i, v := range data {
			floatdata[i*2], floatdata[i*2+1] = v[0], v[1]
		}
		err = binary.Write(buf, binary.LittleEndian, floatdata)
	}
	if err != nil {
		return fmt.Errorf("could not binary write data to binary buffer: %v", err)
	}
	return nil
}

// wavHeader writes a wave header for either float32 or int16 .wav file into
// the bytes.Buffer. It needs to know the length of the buffer in total samples
// (L + R), so the length in stereo frames is bufferLength / 2. If pcm16 =
// true, then the header is for int16 audio; pcm16 = false means the header is
// for float32 audio.
func wavHeader(bufferLength int, pcm16 bool, buf *bytes.Buffer) {
	// Refer to: http://www-mmsp.ece.mcgill.ca/Documents/AudioFormats/WAVE/WAVE.html
	numChannels := 2
	sampleRate := SampleRate
	var bytesPerSample, chunkSize, fmtChunkSize, waveFormat int
	var factChunk bool
	if pcm16 {
		bytesPerSample = 2
		chunkSize = 36 + bytesPerSample*bufferLength
		fmtChunkSize = 16
		waveFormat = 1 // PCM
		factChunk = false
	} else {
		bytesPerSample = 4
		chunkSize = 50 + bytesPerSample*bufferLength
		fmtChunkSize = 18
		waveFormat = 3 // IEEE float
		factChunk = true
	}
	buf.Write([]byte("RIFF"))
	binary.Write(buf, binary.LittleEndian, uint32(chunkSize))
	buf.Write([]byte("WAVE"))
	buf.Write([]byte("fmt "))
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(waveFormat))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*numChannels*bytesPerSample)) // avgBytesPerSec
	binary.Write(buf, binary.LittleEndian, uint16(numChannels*bytesPerSample))            // blockAlign
	binary.Write(buf, binary.LittleEndian, uint16(8*bytesPerSample))                      // bits per sample
	if factChunk {
		binary.Write(buf, binary.LittleEndian, uint16(0)) // size of extension
		buf.Write([]byte("fact"))
		binary.Write(buf, binary.LittleEndian, uint32(4)) // fact chunk size
		binary.Write(buf, binary.LittleEndian, uint32(bufferLength/numChannels))
	}
	buf.Write([]byte("data"))
	binary.Write(buf, binary.LittleEndian, uint32(bytesPerSample*bufferLength))
}

var errWavCorrupt = errors.New("wav data is corrupt or truncated")

// ReadWav decodes a WAV file into an AudioBuffer. 16-bit PCM and 32-bit float
// files are accepted, mono or stereo; mono samples are duplicated to both
// channels. Files at a different sample rate than SampleRate are rejected.
func ReadWav(data []byte) (AudioBuffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("not a wav file")
	}
	var format, channels uint16
	var rate uint32
	var sampleData []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, errWavCorrupt
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errWavCorrupt
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate = binary.LittleEndian.Uint32(data[body+4 : body+8])
		case "data":
			sampleData = data[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word aligned
		}
	}
	if sampleData == nil {
		return nil, errors.New("wav file has no data chunk")
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if rate != SampleRate {
		return nil, fmt.Errorf("unsupported sample rate %d, expected %d", rate, SampleRate)
	}
	switch format {
	case 1: // 16-bit PCM
		frames := len(sampleData) / 2 / int(channels)
		ret := make(AudioBuffer, frames)
		for i := 0; i < frames; i++ {
			l := float32(int16(binary.LittleEndian.Uint16(sampleData[i*2*int(channels):]))) / math.MaxInt16
			r := l
			if channels == 2 {
				r = float32(int16(binary.LittleEndian.Uint16(sampleData[i*4+2:]))) / math.MaxInt16
			}
			ret[i] = [2]float32{l, r}
		}
		return ret, nil
	case 3: // IEEE float
		frames := len(sampleData) / 4 / int(channels)
		ret := make(AudioBuffer, frames)
		for i := 0; i < frames; i++ {
			l := math.Float32frombits(binary.LittleEndian.Uint32(sampleData[i*4*int(channels):]))
			r := l
			if channels == 2 {
				r = math.Float32frombits(binary.LittleEndian.Uint32(sampleData[i*8+4:]))
			}
			ret[i] = [2]float32{l, r}
		}
		return ret, nil
	}
	return nil, fmt.Errorf("unsupported wav format %d", format)
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
