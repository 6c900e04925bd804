// Package transcode extracts the speech track of a video into the audio
// format the transcription engine consumes.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/video-summary-worker/internal/audio"
	"github.com/fpang/video-summary-worker/internal/command"
)

// ErrTranscode is wrapped by every ExtractAudio failure.
var ErrTranscode = errors.New("audio extraction failed")

// Transcoder converts a video file into a speech WAV.
type Transcoder interface {
	// ExtractAudio writes outputPath as 16 kHz mono 16-bit PCM WAV.
	ExtractAudio(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg implements Transcoder by shelling out to ffmpeg.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	runner  command.Runner
}

var _ Transcoder = (*FFmpeg)(nil)

// NewFFmpeg creates an FFmpeg transcoder. A zero timeout means the call is
// bounded only by the caller's context.
func NewFFmpeg(binary string, timeout time.Duration, runner command.Runner) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &FFmpeg{binary: binary, timeout: timeout, runner: runner}
}

// Check validates that the ffmpeg binary is available. Call at startup.
func (f *FFmpeg) Check() error {
	path, err := command.LookPath(f.binary)
	if err != nil {
		return fmt.Errorf("audio extraction unavailable, install FFmpeg (apt install ffmpeg): %w", err)
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// ExtractAudio drops the video stream, downmixes to mono, resamples to
// 16 kHz and encodes signed 16-bit little-endian PCM. The result is read
// back and its header checked before success is reported.
func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("%w: input: %v", ErrTranscode, err)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := buildFFmpegArgs(inputPath, outputPath, audio.SpeechFormat)
	start := time.Now()
	if _, err := f.runner.Run(ctx, f.binary, args...); err != nil {
		log.Warn().
			Err(err).
			Str("input_path", inputPath).
			Dur("duration", time.Since(start)).
			Msg("FFmpeg audio extraction failed")
		return fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	if err := audio.Verify(outputPath, audio.SpeechFormat); err != nil {
		return fmt.Errorf("%w: output check: %v", ErrTranscode, err)
	}

	var outputSize int64
	if info, err := os.Stat(outputPath); err == nil {
		outputSize = info.Size()
	}
	log.Info().
		Str("input_path", inputPath).
		Str("output_path", outputPath).
		Int64("output_size_bytes", outputSize).
		Dur("extraction_time", time.Since(start)).
		Msg("Audio extraction complete")
	return nil
}

// buildFFmpegArgs constructs the ffmpeg command line for speech extraction.
func buildFFmpegArgs(inputPath, outputPath string, f audio.Format) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, "-i", inputPath)

	// Audio only: first audio stream, no video, subtitles or data.
	args = append(args, "-vn", "-sn", "-dn", "-map", "0:a:0")

	args = append(args, "-acodec", "pcm_s"+strconv.Itoa(int(f.BitsPerSample))+"le")
	args = append(args, "-ac", strconv.Itoa(int(f.Channels)))
	args = append(args, "-ar", strconv.Itoa(int(f.SampleRate)))
	args = append(args, "-f", "wav")

	// Overwrite output file
	args = append(args, "-y", outputPath)
	return args
}
