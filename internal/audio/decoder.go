package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// DecodeError reports bytes that could not be decoded into audio.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode turns encoded audio bytes into a Buffer. WAV and MP3 are decoded
// natively, anything else is handed to FFmpeg.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Format: "empty", Err: errors.New("no data")}
	}

	switch sniff(data) {
	case "wav":
		return decodeWAV(data)
	case "mp3":
		return decodeMP3(data)
	default:
		return decodeFFmpeg(data)
	}
}

// DecodeFile reads and decodes an audio file from disk.
func DecodeFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	buf, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return buf, nil
}

func sniff(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return "wav"
	}
	if bytes.HasPrefix(data, []byte("ID3")) {
		return "mp3"
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return "mp3"
	}
	return "other"
}

// wavFormatFloat is the IEEE float format tag of a WAV fmt chunk.
const wavFormatFloat = 3

func decodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, &DecodeError{Format: "wav", Err: errors.New("invalid WAV header")}
	}
	// go-audio only converts integer PCM
	if dec.WavAudioFormat == wavFormatFloat {
		return decodeFFmpeg(data)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Format: "wav", Err: err}
	}
	if pcm.Format == nil || pcm.Format.NumChannels == 0 || pcm.Format.SampleRate == 0 {
		return nil, &DecodeError{Format: "wav", Err: errors.New("missing format chunk")}
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		return nil, &DecodeError{Format: "wav", Err: errors.New("unknown bit depth")}
	}
	if len(pcm.Data) == 0 {
		return nil, &DecodeError{Format: "wav", Err: errors.New("no samples")}
	}

	factor := math.Pow(2, float64(bitDepth-1))
	offset := 0.0
	if bitDepth == 8 {
		offset = factor // 8-bit WAV samples are unsigned
	}
	out := make([]float32, len(pcm.Data))
	for i, s := range pcm.Data {
		out[i] = float32((float64(s) - offset) / factor)
	}

	return &Buffer{
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
		Data:       out,
	}, nil
}

func decodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: "mp3", Err: err}
	}

	// go-mp3 always yields 16-bit little-endian stereo
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, &DecodeError{Format: "mp3", Err: err}
	}
	samples := bytesToFloats(raw)
	if len(samples) == 0 {
		return nil, &DecodeError{Format: "mp3", Err: errors.New("no samples")}
	}

	return &Buffer{
		SampleRate: dec.SampleRate(),
		Channels:   2,
		Data:       samples,
	}, nil
}

// decodeFFmpeg runs FFmpeg to decode anything else to raw PCM int16,
// interleaved stereo at 48kHz.
func decodeFFmpeg(data []byte) (*Buffer, error) {
	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &DecodeError{Format: "ffmpeg", Err: err}
	}

	samples := bytesToFloats(out)
	if len(samples) == 0 {
		return nil, &DecodeError{Format: "ffmpeg", Err: errors.New("no samples")}
	}

	return &Buffer{SampleRate: SampleRate, Channels: Channels, Data: samples}, nil
}

// bytesToFloats converts little-endian int16 PCM to floats in [-1, 1].
func bytesToFloats(raw []byte) []float32 {
	// Ensure even byte count for int16 alignment
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768
	}
	return samples
}

// EncodeWAV writes the buffer as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, b *Buffer) error {
	enc := wav.NewEncoder(w, b.SampleRate, BitDepth, b.Channels, 1)

	ints := make([]int, len(b.Data))
	for i, s := range b.Data {
		ints[i] = int(Clip16(float64(s)))
	}

	pcm := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           ints,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(pcm); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}
