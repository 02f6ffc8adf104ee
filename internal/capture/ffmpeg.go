package capture

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// FFmpegStillEncoder shells out to ffmpeg to turn a retained preview frame
// into a JPEG still.
type FFmpegStillEncoder struct {
	ffmpegPath string
}

// NewFFmpegStillEncoder assumes ffmpeg is in PATH.
func NewFFmpegStillEncoder() *FFmpegStillEncoder {
	return &FFmpegStillEncoder{ffmpegPath: "ffmpeg"}
}

// CheckAvailable reports whether ffmpeg is installed and runnable.
func (f *FFmpegStillEncoder) CheckAvailable() error {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return errors.Wrap(err, "ffmpeg not found")
	}
	if !strings.Contains(string(output), "ffmpeg version") {
		return errors.New("ffmpeg not properly installed")
	}
	return nil
}

// Version returns the first line of ffmpeg's version banner.
func (f *FFmpegStillEncoder) Version() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(err, "ffmpeg version probe failed")
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "", errors.New("ffmpeg produced no version info")
}

// EncodeStill implements StillEncoder: decode the frame on stdin, emit one
// high-quality JPEG on stdout.
func (f *FFmpegStillEncoder) EncodeStill(ctx context.Context, frame []byte, _ string) ([]byte, string, error) {
	args := []string{
		"-i", "pipe:0",
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(frame)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil // ffmpeg writes progress to stderr

	if err := cmd.Run(); err != nil {
		return nil, "", errors.Wrap(err, "ffmpeg still extraction")
	}
	if out.Len() == 0 {
		return nil, "", errors.New("ffmpeg produced no still output")
	}
	return out.Bytes(), "image/jpeg", nil
}
