package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes the buffer as a 16-bit PCM WAV file.
func EncodeWAV(ws io.WriteSeeker, buf Buffer) error {
	if len(buf.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	ib := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: buf.Channels, SampleRate: buf.SampleRate}}
	samples := make([]int, len(buf.PCM)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(buf.PCM[i*2:])))
	}
	ib.Data = samples

	enc := wav.NewEncoder(ws, buf.SampleRate, 16, buf.Channels, 1)
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads a PCM WAV stream into a Buffer, converting 8/24/32-bit
// source samples down to 16-bit.
func DecodeWAV(rs io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(rs)
	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav: %w", err)
	}
	if ib == nil || ib.Format == nil || len(ib.Data) == 0 {
		return Buffer{}, fmt.Errorf("decode wav: empty stream")
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	pcm := make([]byte, len(ib.Data)*2)
	for i, s := range ib.Data {
		var v int16
		switch bitDepth {
		case 8:
			// WAV 8-bit is unsigned.
			v = int16((s - 128) << 8)
		case 16:
			v = int16(s)
		case 24:
			v = int16(s >> 8)
		case 32:
			v = int16(s >> 16)
		default:
			return Buffer{}, fmt.Errorf("decode wav: unsupported bit depth %d", bitDepth)
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	return Buffer{
		PCM:        pcm,
		SampleRate: ib.Format.SampleRate,
		Channels:   ib.Format.NumChannels,
	}, nil
}
