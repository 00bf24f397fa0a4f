package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	wave "github.com/zenwerk/go-wave"
)

// EncodeWAV wraps little-endian 16-bit PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("pcm length is not a whole number of 16-bit samples")
	}

	var out bytes.Buffer
	writer, err := wave.NewWriter(wave.WriterParam{
		Out:           nopCloser{&out},
		Channel:       channels,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("create wav writer: %w", err)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	if _, err := writer.WriteSample16(samples); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish wav: %w", err)
	}
	return out.Bytes(), nil
}

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }
