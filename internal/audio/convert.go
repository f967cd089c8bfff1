package audio

import (
	"encoding/binary"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Convert returns a copy of buf rendered at the requested sample rate and
// channel count. The input buffer is never modified. Only mono and stereo
// layouts are supported on either side.
func Convert(buf Buffer, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, fmt.Errorf("convert: invalid target format %dHz/%dch", sampleRate, channels)
	}
	if buf.Channels < 1 || buf.Channels > 2 || channels > 2 {
		return Buffer{}, fmt.Errorf("convert: unsupported channel layout %d -> %d", buf.Channels, channels)
	}
	if len(buf.PCM)%(2*buf.Channels) != 0 {
		return Buffer{}, fmt.Errorf("convert: pcm payload not frame aligned")
	}

	pcm := buf.PCM
	if buf.Channels != channels {
		if channels == 2 {
			pcm = monoToStereo(pcm)
		} else {
			pcm = stereoToMono(pcm)
		}
	}

	if buf.SampleRate != sampleRate {
		resampled, err := resample(pcm, channels, buf.SampleRate, sampleRate)
		if err != nil {
			return Buffer{}, err
		}
		pcm = resampled
	} else if buf.Channels == channels {
		// No conversion at all; still hand back a copy so callers can treat
		// every returned buffer as independently owned.
		pcm = append([]byte(nil), pcm...)
	}

	return Buffer{PCM: pcm, SampleRate: sampleRate, Channels: channels}, nil
}

func resample(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	input := make([]float64, len(pcm)/2)
	for i := range input {
		input[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	out := make([]byte, len(output)/channels*channels*2)
	for i := 0; i < len(out)/2; i++ {
		s := output[i]
		var v int16
		switch {
		case s > 1.0:
			v = 32767
		case s < -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

// monoToStereo duplicates each sample into left and right channels.
func monoToStereo(src []byte) []byte {
	dst := make([]byte, len(src)*2)
	for i := 0; i < len(src)/2; i++ {
		dst[i*4] = src[i*2]
		dst[i*4+1] = src[i*2+1]
		dst[i*4+2] = src[i*2]
		dst[i*4+3] = src[i*2+1]
	}
	return dst
}

// stereoToMono averages left and right channels.
func stereoToMono(src []byte) []byte {
	frames := len(src) / 4
	dst := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(src[i*4:]))
		r := int16(binary.LittleEndian.Uint16(src[i*4+2:]))
		m := int16((int32(l) + int32(r)) / 2)
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(m))
	}
	return dst
}
