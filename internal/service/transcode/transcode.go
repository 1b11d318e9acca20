// Package transcode re-encodes annotated videos into browser-playable MP4.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/logger"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Transcoder wraps the ffmpeg binary.
type Transcoder struct {
	ffmpegPath string
	logger     *logger.Logger
}

func New(logger *logger.Logger) *Transcoder {
	return &Transcoder{ffmpegPath: "ffmpeg", logger: logger}
}

// OutputPath is the MP4 written next to in. An input that is already .mp4
// gets a _h264 suffix so it is never overwritten.
func OutputPath(in string) string {
	ext := filepath.Ext(in)
	base := strings.TrimSuffix(in, ext)
	if strings.EqualFold(ext, ".mp4") {
		return base + "_h264.mp4"
	}
	return base + ".mp4"
}

// ConvertContainer writes an H.264/AAC MP4 copy of in and returns its path.
// The input file is kept.
func (t *Transcoder) ConvertContainer(ctx context.Context, in string) (string, error) {
	info, err := os.Stat(in)
	if err != nil {
		return "", fmt.Errorf("%w: input %s: %v", apperr.ErrTranscode, in, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: input %s is not a regular file", apperr.ErrTranscode, in)
	}

	// make sure ffmpeg is in the path before doing anything else
	if _, err := exec.LookPath(t.ffmpegPath); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrTranscode, err)
	}

	out := OutputPath(in)
	var stderr bytes.Buffer

	stream := ffmpeg.Input(in).
		Output(out, ffmpeg.KwArgs{
			"c:v":      "libx264",
			"c:a":      "aac",
			"pix_fmt":  "yuv420p",
			"movflags": "+faststart",
		}).
		OverWriteOutput()
	// stderr is carried on the stream context, so attach it after the context is set
	stream.Context = ctx

	if err := stream.WithErrorOutput(&stderr).Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperr.FromContext(fmt.Errorf("transcode of %s: %w", in, ctxErr))
		}
		return "", fmt.Errorf("%w: %v: %s", apperr.ErrTranscode, err, lastLine(stderr.String()))
	}

	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: ffmpeg produced no output at %s", apperr.ErrTranscode, out)
	}

	t.logger.Info("Transcoded %s -> %s", filepath.Base(in), filepath.Base(out))
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
