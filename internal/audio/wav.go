// Package audio reads and writes the RIFF/WAVE container used between the
// transcoder and the transcription engine.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// formatPCM is the WAVE_FORMAT_PCM tag.
const formatPCM = 1

// headerSize is the length of the canonical header WriteHeader emits.
const headerSize = 44

var (
	// ErrNotWAV means the stream is not a RIFF/WAVE file.
	ErrNotWAV = errors.New("not a RIFF/WAVE stream")
	// ErrFormatMismatch means the stream is WAV but not the expected encoding.
	ErrFormatMismatch = errors.New("unexpected audio format")
)

// Format describes the sample encoding of a WAV stream.
type Format struct {
	Encoding      uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// SpeechFormat is the contract between transcoder and transcriber:
// linear PCM, 16-bit signed little-endian, mono, 16 kHz.
var SpeechFormat = Format{
	Encoding:      formatPCM,
	Channels:      1,
	SampleRate:    16000,
	BitsPerSample: 16,
}

// BlockAlign is the size in bytes of one sample frame.
func (f Format) BlockAlign() uint16 {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() uint32 {
	return f.SampleRate * uint32(f.BlockAlign())
}

func (f Format) String() string {
	return fmt.Sprintf("enc=%d ch=%d rate=%d bits=%d", f.Encoding, f.Channels, f.SampleRate, f.BitsPerSample)
}

// Validate returns ErrFormatMismatch unless f equals want.
func (f Format) Validate(want Format) error {
	if f != want {
		return fmt.Errorf("%w: got %s, want %s", ErrFormatMismatch, f, want)
	}
	return nil
}

// Header is the parsed result of ReadHeader.
type Header struct {
	Format Format
	// DataSize is the declared length of the sample data in bytes. Streaming
	// writers leave it at 0 or 0xFFFFFFFF; readers should rely on EOF.
	DataSize uint32
}

// ReadHeader consumes chunks from r up to the start of the "data" payload.
// On success r is positioned at the first sample byte.
func ReadHeader(r io.Reader) (Header, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Header{}, ErrNotWAV
	}

	var (
		h      Header
		haveFm bool
		chunk  [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Header{}, fmt.Errorf("%w: no data chunk: %v", ErrNotWAV, err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Header{}, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrNotWAV, size)
			}
			var fm [16]byte
			if _, err := io.ReadFull(r, fm[:]); err != nil {
				return Header{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
			h.Format = Format{
				Encoding:      binary.LittleEndian.Uint16(fm[0:2]),
				Channels:      binary.LittleEndian.Uint16(fm[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(fm[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(fm[14:16]),
			}
			// WAVE_FORMAT_EXTENSIBLE carries the real tag in its sub-format GUID.
			if h.Format.Encoding == 0xFFFE && size >= 26 {
				var ext [10]byte
				if _, err := io.ReadFull(r, ext[:]); err != nil {
					return Header{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
				}
				h.Format.Encoding = binary.LittleEndian.Uint16(ext[8:10])
				if err := skip(r, int64(size)-26+int64(size&1)); err != nil {
					return Header{}, err
				}
			} else if err := skip(r, int64(size)-16+int64(size&1)); err != nil {
				return Header{}, err
			}
			haveFm = true
		case "data":
			if !haveFm {
				return Header{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			h.DataSize = size
			return h, nil
		default:
			if err := skip(r, int64(size)+int64(size&1)); err != nil {
				return Header{}, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("%w: truncated chunk: %v", ErrNotWAV, err)
	}
	return nil
}

// WriteHeader writes a canonical 44-byte PCM header for dataSize bytes of samples.
func WriteHeader(w io.Writer, f Format, dataSize uint32) error {
	var b [headerSize]byte
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], 36+dataSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], f.Encoding)
	binary.LittleEndian.PutUint16(b[22:24], f.Channels)
	binary.LittleEndian.PutUint32(b[24:28], f.SampleRate)
	binary.LittleEndian.PutUint32(b[28:32], f.ByteRate())
	binary.LittleEndian.PutUint16(b[32:34], f.BlockAlign())
	binary.LittleEndian.PutUint16(b[34:36], f.BitsPerSample)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], dataSize)
	_, err := w.Write(b[:])
	return err
}

// Reader streams the sample payload of a WAV file.
type Reader struct {
	Header Header
	f      *os.File
	r      *bufio.Reader
}

// Open opens path, checks its header against want and positions the
// returned Reader at the first sample byte.
func Open(path string, want Format) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	br := bufio.NewReader(f)
	h, err := ReadHeader(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := h.Format.Validate(want); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{Header: h, f: f, r: br}, nil
}

// Read reads sample bytes.
func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Verify checks that the file at path is a WAV stream in format want.
func Verify(path string, want Format) error {
	r, err := Open(path, want)
	if err != nil {
		return err
	}
	return r.Close()
}
