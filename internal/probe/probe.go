// Package probe implements the Media Prober (§4.C): it invokes ffprobe with
// a fixed argv under a bounded timeout and parses its JSON output into
// typed stream/chapter/duration records, grounded on the teacher's
// internal/ffmpeg/ffprobe.go but adding the timeout the teacher lacks.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rustfin/rustfin/internal/coreerr"
)

// DefaultTimeout is applied when the caller's context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Prober wraps an ffprobe binary path.
type Prober struct {
	Path string
}

func New(path string) *Prober {
	return &Prober{Path: path}
}

// Result is the raw ffprobe JSON shape.
type Result struct {
	Format   FormatInfo    `json:"format"`
	Streams  []StreamInfo  `json:"streams"`
	Chapters []ChapterInfo `json:"chapters"`
}

type FormatInfo struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
	Bitrate  string `json:"bit_rate"`
}

type StreamInfo struct {
	Index          int               `json:"index"`
	CodecType      string            `json:"codec_type"`
	CodecName      string            `json:"codec_name"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Channels       int               `json:"channels"`
	ChannelLayout  string            `json:"channel_layout"`
	SampleRate     string            `json:"sample_rate"`
	BitRate        string            `json:"bit_rate"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	Profile        string            `json:"profile"`
	SideDataList   []SideDataItem    `json:"side_data_list"`
	Tags           map[string]string `json:"tags"`
	Disposition    Disposition       `json:"disposition"`
}

type SideDataItem struct {
	SideDataType string `json:"side_data_type"`
}

type Disposition struct {
	Default         int `json:"default"`
	Forced          int `json:"forced"`
	Comment         int `json:"comment"`
	HearingImpaired int `json:"hearing_impaired"`
}

type ChapterInfo struct {
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Tags      map[string]string `json:"tags"`
}

// Probe runs ffprobe on path with the fixed, non-shell argv, bounded by
// ctx's deadline (DefaultTimeout if none is set). Returns coreerr.KindProbeError
// on non-zero exit, timeout, or malformed JSON.
func (p *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", "-show_chapters", path)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &coreerr.Error{Kind: coreerr.KindProbeError, Message: "probe timed out", Fields: map[string]string{"file": path}}
		}
		return nil, &coreerr.Error{Kind: coreerr.KindProbeError, Message: "probe failed", Fields: map[string]string{"file": path}, Cause: err}
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, &coreerr.Error{Kind: coreerr.KindProbeError, Message: "malformed probe output", Fields: map[string]string{"file": path}, Cause: err}
	}
	return &result, nil
}

// ──────────────────── Derived accessors ────────────────────

func (r *Result) DurationSeconds() float64 {
	d, _ := strconv.ParseFloat(r.Format.Duration, 64)
	return d
}

func (r *Result) Bitrate() int64 {
	br, _ := strconv.ParseInt(r.Format.Bitrate, 10, 64)
	return br
}

func (r *Result) VideoStream() (StreamInfo, bool) {
	for _, s := range r.Streams {
		if s.CodecType == "video" {
			return s, true
		}
	}
	return StreamInfo{}, false
}

func (r *Result) AudioStream() (StreamInfo, bool) {
	for _, s := range r.Streams {
		if s.CodecType == "audio" {
			return s, true
		}
	}
	return StreamInfo{}, false
}

func (r *Result) VideoCodec() string {
	if s, ok := r.VideoStream(); ok {
		return s.CodecName
	}
	return ""
}

func (r *Result) AudioCodec() string {
	if s, ok := r.AudioStream(); ok {
		return s.CodecName
	}
	return ""
}

func (r *Result) Width() int {
	if s, ok := r.VideoStream(); ok {
		return s.Width
	}
	return 0
}

func (r *Result) Height() int {
	if s, ok := r.VideoStream(); ok {
		return s.Height
	}
	return 0
}

func (r *Result) AudioChannels() int {
	if s, ok := r.AudioStream(); ok {
		return s.Channels
	}
	return 0
}

// HDRFormat classifies dynamic range from color metadata and Dolby Vision
// side data. Returns "" for SDR content.
func (r *Result) HDRFormat() string {
	s, ok := r.VideoStream()
	if !ok {
		return ""
	}
	for _, sd := range s.SideDataList {
		if sd.SideDataType == "DOVI configuration record" || sd.SideDataType == "Dolby Vision RPU Data" {
			return "Dolby Vision"
		}
	}
	switch s.ColorTransfer {
	case "smpte2084":
		if s.ColorPrimaries == "bt2020" {
			return "HDR10"
		}
		return "PQ"
	case "arib-std-b67":
		return "HLG"
	}
	return ""
}

// AudioFormat enriches the base audio codec name with Atmos/DTS:X detection
// from side data and profile strings.
func (r *Result) AudioFormat() string {
	s, ok := r.AudioStream()
	if !ok {
		return ""
	}
	codec := strings.ToUpper(s.CodecName)
	profile := strings.ToLower(s.Profile)

	display := s.CodecName
	switch codec {
	case "TRUEHD":
		display = "TrueHD"
	case "EAC3":
		display = "EAC3"
	case "DTS":
		switch {
		case strings.Contains(profile, "dts-hd ma") || strings.Contains(profile, "ma"):
			display = "DTS-HD MA"
		case strings.Contains(profile, "dts-hd hra") || strings.Contains(profile, "hra"):
			display = "DTS-HD HRA"
		default:
			display = "DTS"
		}
	}

	isAtmos := false
	for _, sd := range s.SideDataList {
		t := strings.ToLower(sd.SideDataType)
		if strings.Contains(t, "atmos") || strings.Contains(t, "joint object coding") {
			isAtmos = true
		}
	}
	if codec == "EAC3" && (strings.Contains(profile, "atmos") || s.Channels > 8) {
		isAtmos = true
	}
	if codec == "TRUEHD" && s.Channels > 8 {
		isAtmos = true
	}
	if isAtmos {
		return display + " Atmos"
	}

	if codec == "DTS" {
		if strings.Contains(profile, "dts:x") || strings.Contains(profile, "dtsx") {
			return display + " DTS:X"
		}
		for _, sd := range s.SideDataList {
			if strings.Contains(strings.ToLower(sd.SideDataType), "dts:x") {
				return display + " DTS:X"
			}
		}
	}
	return display
}

// AsJSON serializes the result for MediaFile.StreamInfoJSON caching.
func (r *Result) AsJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal probe result: %w", err)
	}
	return string(b), nil
}
