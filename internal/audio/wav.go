// Package audio converts the raw PCM returned by the speech backend into a playable
// uncompressed WAV container.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voiceover-service/internal/core"
)

// Default container settings, matching the speech model output.
const (
	DefaultSampleRate    = 24000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// HeaderSize is the length of the canonical RIFF/WAVE header written by EncodeWAV.
const HeaderSize = 44

const (
	fmtChunkSize    = 16
	formatLinearPCM = 1
	riffSizeOffset  = 36
	bytesPerSample  = 2
	maxSampleRate   = 192000
	maxChannels     = 8
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtBitDepth        = "%w: only 16-bit samples are supported, got %d"
)

var (
	// ErrInvalidFormat indicates unusable container settings.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrNotWAV indicates a buffer that is not a canonical PCM WAV container.
	ErrNotWAV = errors.New("not a canonical PCM wav container")
)

// Format describes the PCM layout of a container.
type Format struct {
	SampleRate    int `json:"sampleRate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bitsPerSample"`
}

// MonoFormat returns 16-bit mono at the given sample rate.
func MonoFormat(sampleRate int) Format {
	return Format{
		SampleRate:    sampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
	}
}

// BlockAlign is the size in bytes of one frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the play time of sampleCount interleaved samples.
func (f Format) Duration(sampleCount int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}

	frames := int64(sampleCount / f.Channels)

	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Validate checks that the format can be written by EncodeWAV.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, maxSampleRate, f.SampleRate)
	}

	if f.Channels <= 0 || f.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, maxChannels, f.Channels)
	}

	if f.BitsPerSample != DefaultBitsPerSample {
		return fmt.Errorf(errFmtBitDepth, ErrInvalidFormat, f.BitsPerSample)
	}

	return nil
}

// DecodePCM16 decodes standard base64 text into little-endian signed 16-bit samples.
func DecodePCM16(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64 audio payload: %w", core.ErrDecode, err)
	}

	if len(raw)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: pcm payload has odd length %d", core.ErrDecode, len(raw))
	}

	samples := make([]int16, len(raw)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*bytesPerSample:]))
	}

	return samples, nil
}

// EncodePCM16 is the inverse of DecodePCM16.
func EncodePCM16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(sampleBytes(samples))
}

// EncodeWAV wraps samples in a 44-byte RIFF/WAVE header. An empty sample slice yields a
// valid container with a zero-length data chunk.
func EncodeWAV(samples []int16, format Format) ([]byte, error) {
	err := format.Validate()
	if err != nil {
		return nil, err
	}

	dataSize := len(samples) * bytesPerSample
	buf := make([]byte, HeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(riffSizeOffset+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], formatLinearPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(format.ByteRate()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(format.BlockAlign()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(format.BitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[HeaderSize+i*bytesPerSample:], uint16(sample))
	}

	return buf, nil
}

// ParseWAV reads back a container produced by EncodeWAV.
func ParseWAV(buf []byte) (Format, []int16, error) {
	if len(buf) < HeaderSize ||
		string(buf[0:4]) != "RIFF" ||
		string(buf[8:12]) != "WAVE" ||
		string(buf[12:16]) != "fmt " ||
		string(buf[36:40]) != "data" {
		return Format{}, nil, ErrNotWAV
	}

	if binary.LittleEndian.Uint16(buf[20:22]) != formatLinearPCM {
		return Format{}, nil, fmt.Errorf("%w: audio format %d", ErrNotWAV, binary.LittleEndian.Uint16(buf[20:22]))
	}

	format := Format{
		Channels:      int(binary.LittleEndian.Uint16(buf[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(buf[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(buf[34:36])),
	}

	dataSize := int(binary.LittleEndian.Uint32(buf[40:44]))
	if dataSize%bytesPerSample != 0 || HeaderSize+dataSize > len(buf) {
		return Format{}, nil, fmt.Errorf("%w: data chunk size %d", ErrNotWAV, dataSize)
	}

	samples := make([]int16, dataSize/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[HeaderSize+i*bytesPerSample:]))
	}

	return format, samples, nil
}

func sampleBytes(samples []int16) []byte {
	raw := make([]byte, len(samples)*bytesPerSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(raw[i*bytesPerSample:], uint16(sample))
	}

	return raw
}
