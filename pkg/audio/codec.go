// Package audio converts between capture-side float samples and the 16-bit
// PCM the conversation service speaks, and queues inbound agent audio for
// playback one buffer at a time.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// Wire format defaults for the conversation channel.
const (
	SampleRate = 16000
	FrameSize  = 4096
)

// Direction tags a buffer as captured (outbound) or received (inbound).
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Buffer is an ordered run of 16-bit mono samples.
type Buffer struct {
	Samples    []int16
	SampleRate int
	Direction  Direction
}

// Duration returns how long the buffer takes to play.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// FloatToInt16 converts one normalized sample to 16-bit PCM. Input is clamped
// to [-1, 1]; negatives scale by 32768 and positives by 32767. NaN maps to
// silence.
func FloatToInt16(s float32) int16 {
	switch {
	case s != s:
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Int16ToFloat is the inverse of FloatToInt16.
func Int16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(s) / 32768
	}
	return float32(s) / 32767
}

// FloatToPCM16 converts normalized float samples to 16-bit PCM.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToInt16(s)
	}
	return out
}

// PCM16ToFloat converts 16-bit PCM to normalized float samples.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = Int16ToFloat(s)
	}
	return out
}

// ConvertPCM16ToInt16 converts little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func ConvertPCM16ToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// ConvertInt16ToPCM16 converts int16 samples to little-endian bytes.
func ConvertInt16ToPCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// EncodeFrame packs samples as base64 little-endian PCM16, the form the
// conversation channel expects for user audio chunks.
func EncodeFrame(samples []int16) string {
	return base64.StdEncoding.EncodeToString(ConvertInt16ToPCM16(samples))
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(encoded string) ([]int16, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("decode audio frame: odd byte length %d", len(data))
	}
	return ConvertPCM16ToInt16(data), nil
}

// Resample converts samples between rates using linear interpolation.
// Adequate for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	result := make([]int16, newLen)

	for i := range result {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		if idx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
			continue
		}
		frac := srcPos - float64(idx)
		s1 := float64(samples[idx])
		s2 := float64(samples[idx+1])
		result[i] = int16(s1 + frac*(s2-s1))
	}

	return result
}

// Framer cuts a continuous capture stream into fixed-size frames.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer returns a Framer emitting frames of size samples.
// A non-positive size falls back to FrameSize.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{size: size, pending: make([]float32, 0, size*2)}
}

// Push appends samples and returns every complete frame now available.
// Leftover samples are held for the next call.
func (f *Framer) Push(samples []float32) [][]float32 {
	f.pending = append(f.pending, samples...)

	var frames [][]float32
	for len(f.pending) >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}

	// Compact so the backing array does not grow without bound.
	if len(f.pending) > 0 && cap(f.pending) > f.size*4 {
		rest := make([]float32, len(f.pending), f.size*2)
		copy(rest, f.pending)
		f.pending = rest
	}
	return frames
}

// Pending returns how many samples are buffered toward the next frame.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset discards any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
