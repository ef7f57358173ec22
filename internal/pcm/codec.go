// Package pcm converts between float samples and the 16-bit little-endian
// wire format exchanged with the remote model.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// BytesPerSample is the size of one encoded sample.
	BytesPerSample = 2

	scale = 32768.0
)

// ErrDecode reports a malformed audio payload.
var ErrDecode = errors.New("audio decode failed")

// Encode maps samples in [-1, 1] to signed 16-bit little-endian PCM.
// Values outside the range saturate.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	v := math.Floor(float64(s) * scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Decode reads signed 16-bit little-endian samples.
func Decode(payload []byte) ([]int16, error) {
	if len(payload)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: payload length %d is not a multiple of %d", ErrDecode, len(payload), BytesPerSample)
	}
	out := make([]int16, len(payload)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(payload[i*BytesPerSample:]))
	}
	return out, nil
}

// Buffer is a decoded, playable block of audio.
type Buffer struct {
	sampleRate int
	planes     [][]float32
}

// ToPlayableBuffer rescales interleaved samples to float and splits them into
// channel planes.
func ToPlayableBuffer(samples []int16, sampleRate int, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format rate=%d channels=%d", ErrDecode, sampleRate, channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples do not fill %d-channel frames", ErrDecode, len(samples), channels)
	}

	frames := len(samples) / channels
	planes := make([][]float32, channels)
	for ch := range planes {
		plane := make([]float32, frames)
		for i := 0; i < frames; i++ {
			plane[i] = float32(samples[i*channels+ch]) / scale
		}
		planes[ch] = plane
	}
	return &Buffer{sampleRate: sampleRate, planes: planes}, nil
}

// DecodePlayable decodes a wire payload straight into a playable buffer.
func DecodePlayable(payload []byte, sampleRate int, channels int) (*Buffer, error) {
	samples, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	return ToPlayableBuffer(samples, sampleRate, channels)
}

func (b *Buffer) SampleRate() int { return b.sampleRate }

func (b *Buffer) Channels() int { return len(b.planes) }

func (b *Buffer) Frames() int {
	if len(b.planes) == 0 {
		return 0
	}
	return len(b.planes[0])
}

// Duration is the playback length at the buffer's sample rate.
func (b *Buffer) Duration() time.Duration {
	return FramesToDuration(b.Frames(), b.sampleRate)
}

// Channel returns the samples of one channel plane.
func (b *Buffer) Channel(index int) []float32 {
	return b.planes[index]
}

// FramesToDuration converts a frame count at rate to wall time.
func FramesToDuration(frames int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

// DurationToFrames is the inverse of FramesToDuration, rounded to the
// nearest frame so back-to-back durations land on adjacent frames.
func DurationToFrames(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int((int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second))
}

// Float32FromLE reads raw float32 little-endian frames as produced by the
// capture device.
func Float32FromLE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: float payload length %d is not a multiple of 4", ErrDecode, len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// MIMEType describes outbound chunks.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}
