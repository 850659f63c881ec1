package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestVideo creates a silent test video using ffmpeg.
func createTestVideo(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=blue:s=64x64:d=%.1f", duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

// createTestAudio creates a sine wave WAV file using ffmpeg.
func createTestAudio(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%.1f", duration),
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test audio: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	p := NewFFmpegProcessor("")
	if p.ffmpegPath != "ffmpeg" {
		t.Errorf("expected default path ffmpeg, got %s", p.ffmpegPath)
	}

	p = NewFFmpegProcessor("/usr/local/bin/ffmpeg")
	if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
		t.Errorf("expected custom path, got %s", p.ffmpegPath)
	}
}

func TestFFmpegProcessor_MuxAudio(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	audio := filepath.Join(dir, "audio.wav")
	output := filepath.Join(dir, "combined.mp4")
	createTestVideo(t, video, 2)
	createTestAudio(t, audio, 3)

	p := NewFFmpegProcessor("")
	if err := p.MuxAudio(context.Background(), video, audio, output); err != nil {
		t.Fatalf("MuxAudio() error = %v", err)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("output not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("output file is empty")
	}

	// The combined file must carry an audio stream.
	probe := exec.Command("ffprobe", "-v", "error", "-select_streams", "a",
		"-show_entries", "stream=codec_name", "-of", "csv=p=0", output)
	out, err := probe.Output()
	if err == nil && !strings.Contains(string(out), "aac") {
		t.Errorf("expected aac audio stream, got %q", out)
	}
}

func TestFFmpegProcessor_MuxAudio_MissingInput(t *testing.T) {
	p := NewFFmpegProcessor("")

	err := p.MuxAudio(context.Background(), "", "a.wav", "out.mp4")
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestFFmpegProcessor_MuxAudio_InvalidInput(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	bogus := filepath.Join(dir, "not-a-video.mp4")
	if err := os.WriteFile(bogus, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}

	p := NewFFmpegProcessor("")
	err := p.MuxAudio(context.Background(), bogus, bogus, filepath.Join(dir, "out.mp4"))

	var ffErr *FFmpegError
	if !errors.As(err, &ffErr) {
		t.Fatalf("expected *FFmpegError, got %v", err)
	}
	if ffErr.Stderr == "" {
		t.Error("expected stderr to be captured")
	}
}

func TestFFmpegProcessor_MuxAudio_Cancelled(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	p := NewFFmpegProcessor("")
	err := p.MuxAudio(ctx, filepath.Join(dir, "v.mp4"), filepath.Join(dir, "a.wav"), filepath.Join(dir, "o.mp4"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{Args: []string{"-i", "x"}, Stderr: "x: No such file", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected FFmpegError to unwrap to inner error")
	}
	if !strings.Contains(err.Error(), "No such file") {
		t.Errorf("expected stderr in message, got %s", err.Error())
	}
}
