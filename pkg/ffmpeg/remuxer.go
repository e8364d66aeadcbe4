// Package ffmpeg shells out to ffmpeg/ffprobe for lossless stream
// assembly and probing.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Remuxer assembles and inspects media files.
type Remuxer struct {
	ffmpegPath  string
	ffprobePath string
}

// NewRemuxer creates a Remuxer, locating ffmpeg and ffprobe in PATH.
func NewRemuxer() (*Remuxer, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Remuxer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// IsAvailable reports whether ffmpeg and ffprobe can be found in PATH.
func IsAvailable() bool {
	_, err := NewRemuxer()
	return err == nil
}

// ConcatRemux concatenates segment files into outPath using the concat
// demuxer with stream copy; no re-encoding happens.
func (r *Remuxer) ConcatRemux(ctx context.Context, segmentFiles []string, outPath string) error {
	if len(segmentFiles) == 0 {
		return fmt.Errorf("no segments to remux")
	}

	// The concat demuxer reads its inputs from a list file.
	listPath := filepath.Join(filepath.Dir(outPath), "concat.txt")
	var list strings.Builder
	for _, seg := range segmentFiles {
		abs, err := filepath.Abs(seg)
		if err != nil {
			return fmt.Errorf("resolve segment path: %w", err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, r.ffmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, tail(output, 400))
	}
	return nil
}

// MediaInfo contains probed metadata.
type MediaInfo struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

// Probe extracts duration and dimensions from a media file.
func (r *Remuxer) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, r.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if parsed.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			info.Duration = dur
		}
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if info.Width == 0 && s.Width > 0 {
				info.Width = s.Width
			}
			if info.Height == 0 && s.Height > 0 {
				info.Height = s.Height
			}
		}
	}
	return info, nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
