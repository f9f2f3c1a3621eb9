// Package media extracts playback metadata and generates preview
// thumbnails by shelling out to ffprobe/ffmpeg. Hosts without the tools
// degrade to zero metadata; callers treat both operations as best-effort.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Meta describes a local media file.
type Meta struct {
	Duration int // seconds
	Width    int
	Height   int
}

var ErrToolMissing = errors.New("media: ffprobe/ffmpeg not installed")

type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Extract probes the file for duration and dimensions.
func Extract(ctx context.Context, path string) (Meta, error) {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return Meta{}, ErrToolMissing
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return Meta{}, err
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probed); err != nil {
		return Meta{}, err
	}

	var m Meta
	if len(probed.Streams) > 0 {
		m.Width = probed.Streams[0].Width
		m.Height = probed.Streams[0].Height
	}
	if probed.Format.Duration != "" {
		if f, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			m.Duration = int(f)
		}
	}
	return m, nil
}

// MakePreview grabs a frame from the middle of the file and writes it as
// a JPEG under dir, returning the thumbnail path. The caller owns the
// file and is responsible for deleting it.
func MakePreview(ctx context.Context, path string, duration int, dir string) (string, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", ErrToolMissing
	}
	if duration <= 0 {
		return "", errors.New("media: duration unknown, no preview")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	thumb := filepath.Join(dir, "thumb-"+uuid.NewString()+".jpg")
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y",
		"-ss", strconv.Itoa(duration/2),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "4",
		thumb,
	)
	if err := cmd.Run(); err != nil {
		_ = os.Remove(thumb)
		return "", err
	}
	if _, err := os.Stat(thumb); err != nil {
		return "", err
	}
	return thumb, nil
}
