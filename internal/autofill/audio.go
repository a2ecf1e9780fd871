package autofill

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/wav"
)

// transcriptionRate is the rate clips are resampled to when the recognizer
// does not accept their native rate.
const transcriptionRate = 16000

// recognizerRates are the sample rates the speech recognizer accepts as-is.
var recognizerRates = map[int]bool{
	8000:  true,
	16000: true,
	32000: true,
	48000: true,
}

var ErrInvalidAudio = errors.New("autofill: invalid audio payload")

// Clip is a mono PCM clip normalized to float32 samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// DecodeWAV parses a WAV payload and mixes it down to mono. Stereo input is
// averaged across channels.
func DecodeWAV(payload []byte) (Clip, error) {
	decoder := wav.NewDecoder(bytes.NewReader(payload))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not a WAV file", ErrInvalidAudio)
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return Clip{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidAudio, decoder.BitDepth)
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return Clip{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidAudio, decoder.NumChans)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if len(buffer.Data) == 0 {
		return Clip{}, fmt.Errorf("%w: empty clip", ErrInvalidAudio)
	}

	divisor := float32(int(1) << (decoder.BitDepth - 1))
	channels := int(decoder.NumChans)
	samples := make([]float32, 0, len(buffer.Data)/channels)
	for frame := 0; frame+channels <= len(buffer.Data); frame += channels {
		var sum float32
		for channel := 0; channel < channels; channel++ {
			sum += float32(buffer.Data[frame+channel]) / divisor
		}
		samples = append(samples, sum/float32(channels))
	}

	return Clip{Samples: samples, SampleRate: int(decoder.SampleRate)}, nil
}

// DecodePCM16 interprets a raw little-endian 16-bit PCM payload recorded at
// the given rate, averaging interleaved channels down to mono.
func DecodePCM16(payload []byte, sampleRate, channels int) (Clip, error) {
	if sampleRate <= 0 {
		return Clip{}, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, sampleRate)
	}
	if channels != 1 && channels != 2 {
		return Clip{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidAudio, channels)
	}
	frameBytes := 2 * channels
	if len(payload) == 0 || len(payload)%frameBytes != 0 {
		return Clip{}, fmt.Errorf("%w: payload is not whole 16-bit frames", ErrInvalidAudio)
	}

	samples := make([]float32, 0, len(payload)/frameBytes)
	for offset := 0; offset < len(payload); offset += frameBytes {
		var sum float32
		for channel := 0; channel < channels; channel++ {
			raw := int16(binary.LittleEndian.Uint16(payload[offset+2*channel:]))
			sum += float32(raw) / 32768
		}
		samples = append(samples, sum/float32(channels))
	}

	return Clip{Samples: samples, SampleRate: sampleRate}, nil
}

// ForTranscription returns a clip at a rate the recognizer accepts,
// resampling only when the native rate is unsupported. Clips too short for
// cubic interpolation are returned untouched so their rate label stays
// honest.
func (c Clip) ForTranscription() Clip {
	if recognizerRates[c.SampleRate] || len(c.Samples) < 4 {
		return c
	}
	return Clip{
		Samples:    resample(c.Samples, c.SampleRate, transcriptionRate),
		SampleRate: transcriptionRate,
	}
}

// resample converts between sample rates using cubic interpolation.
func resample(samples []float32, originalRate, targetRate int) []float32 {
	if originalRate == targetRate || len(samples) < 4 {
		return samples
	}

	ratio := float64(targetRate) / float64(originalRate)
	newLength := int(float64(len(samples)) * ratio)
	resampled := make([]float32, newLength)
	lastIndex := len(samples) - 3

	for i := 0; i < newLength; i++ {
		origPos := float64(i) / ratio
		index := int(origPos)
		if index < 1 {
			index = 1
		} else if index > lastIndex {
			index = lastIndex
		}

		frac := float32(origPos) - float32(index)

		y0, y1, y2, y3 := samples[index-1], samples[index], samples[index+1], samples[index+2]
		mu2 := frac * frac
		a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		a2 := -0.5*y0 + 0.5*y2
		a3 := y1

		resampled[i] = a0*frac*mu2 + a1*mu2 + a2*frac + a3
	}

	return resampled
}

// PCM16Bytes renders the clip as little-endian 16-bit PCM for the
// recognizer request body.
func (c Clip) PCM16Bytes() []byte {
	encoded := make([]byte, 2*len(c.Samples))
	for i, sample := range c.Samples {
		scaled := math.Round(float64(sample) * 32767)
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(encoded[2*i:], uint16(int16(scaled)))
	}
	return encoded
}
