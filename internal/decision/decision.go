// Package decision implements the Decision Engine (§4.D): a pure function
// that, given a probed media source and a client device profile, chooses
// Direct Play, Remux, or Transcode with an explicit, ordered reason set.
// The teacher has no device-profile negotiation of its own; this package is
// built fresh in its plain-function, typed-const-set idiom (the closed enum
// style of internal/stream's Quality table).
package decision

import "strconv"

// TranscodeReason is one member of the closed reason set accumulated while
// deciding a playback method.
type TranscodeReason string

const (
	ContainerNotSupported        TranscodeReason = "ContainerNotSupported"
	ContainerBitrateExceedsLimit TranscodeReason = "ContainerBitrateExceedsLimit"
	VideoCodecNotSupported       TranscodeReason = "VideoCodecNotSupported"
	AudioCodecNotSupported       TranscodeReason = "AudioCodecNotSupported"
	VideoResolutionNotSupported  TranscodeReason = "VideoResolutionNotSupported"
	VideoBitDepthNotSupported    TranscodeReason = "VideoBitDepthNotSupported"
	VideoBitrateNotSupported     TranscodeReason = "VideoBitrateNotSupported"
	AudioChannelsNotSupported    TranscodeReason = "AudioChannelsNotSupported"
	SubtitleNotSupported         TranscodeReason = "SubtitleNotSupported"
)

// Method is the chosen playback method.
type Method string

const (
	MethodDirectPlay Method = "direct_play"
	MethodRemux      Method = "remux"
	MethodTranscode  Method = "transcode"
)

// MediaSource is the probed shape of a file the engine decides on.
type MediaSource struct {
	Container     string
	VideoCodec    string
	AudioCodec    string
	Width         int
	Height        int
	BitDepth      int
	BitrateBps    int64
	AudioChannels int
	Subtitles     []string
}

// DeviceProfile enumerates what a requesting client can play natively.
type DeviceProfile struct {
	Containers      []string
	VideoCodecs     []string
	AudioCodecs     []string
	SubtitleFormats []string
	MaxWidth        int
	MaxHeight       int
	MaxVideoBitrate int64
	MaxAudioBitrate int64
	MaxChannels     int
}

// Policy caps transcode output independent of what the device could accept,
// e.g. an admin-configured bandwidth ceiling.
type Policy struct {
	MaxTranscodeBitrate int64
	Encoder             string // e.g. "libx264", or an hwaccel encoder name
	SegmentSeconds      int
}

// TranscodePlan is the language-neutral output handed to the Transcode
// Session Manager (§4.F) when the decision is Transcode.
type TranscodePlan struct {
	VideoCodec     string
	AudioCodec     string
	BitrateBps     int64
	SegmentSeconds int
}

// FFmpegArgs builds the fixed, non-shell-interpolated argv for this plan.
// input and outDir are filesystem paths supplied by the session manager.
func (p TranscodePlan) FFmpegArgs(input, outDir string) []string {
	segSeconds := p.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 4
	}
	return []string{
		"-i", input,
		"-c:v", p.VideoCodec,
		"-b:v", strconv.FormatInt(p.BitrateBps, 10),
		"-c:a", p.AudioCodec,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segSeconds),
		"-hls_playlist_type", "event",
		"-hls_segment_filename", outDir + "/seg_%03d.ts",
		outDir + "/master.m3u8",
	}
}

// RemuxTarget is the chosen rewrap container when only the container fails
// to match the device.
type RemuxTarget string

const (
	RemuxTS  RemuxTarget = "ts"
	RemuxMP4 RemuxTarget = "mp4"
)

// Plan is the decision's output: exactly one of the three methods applies,
// and Reasons records every rule that fired, in evaluation order.
type Plan struct {
	Method      Method
	MimeType    string
	RemuxTarget RemuxTarget
	Transcode   TranscodePlan
	Reasons     []TranscodeReason
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

var mimeByContainer = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"ts":   "video/mp2t",
	"m2ts": "video/mp2t",
}

// Decide applies the ordered rule set from §4.D and returns the resulting
// Plan. It is a pure function: no I/O, no shared state.
func Decide(source MediaSource, profile DeviceProfile, policy Policy) Plan {
	var reasons []TranscodeReason

	if !contains(profile.Containers, source.Container) {
		reasons = append(reasons, ContainerNotSupported)
	}
	if profile.MaxVideoBitrate > 0 && source.BitrateBps > profile.MaxVideoBitrate {
		reasons = append(reasons, ContainerBitrateExceedsLimit)
	}
	if !contains(profile.VideoCodecs, source.VideoCodec) {
		reasons = append(reasons, VideoCodecNotSupported)
	}
	if (profile.MaxWidth > 0 && source.Width > profile.MaxWidth) ||
		(profile.MaxHeight > 0 && source.Height > profile.MaxHeight) {
		reasons = append(reasons, VideoResolutionNotSupported)
	}
	if !contains(profile.AudioCodecs, source.AudioCodec) {
		reasons = append(reasons, AudioCodecNotSupported)
	}
	if profile.MaxChannels > 0 && source.AudioChannels > profile.MaxChannels {
		reasons = append(reasons, AudioChannelsNotSupported)
	}

	if len(reasons) == 0 {
		return Plan{Method: MethodDirectPlay, MimeType: mimeFor(source.Container), Reasons: reasons}
	}

	if len(reasons) == 1 && reasons[0] == ContainerNotSupported {
		target := RemuxTS
		if contains(profile.Containers, "mp4") {
			target = RemuxMP4
		}
		return Plan{Method: MethodRemux, RemuxTarget: target, Reasons: reasons}
	}

	encoder := policy.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	bitrate := source.BitrateBps
	if policy.MaxTranscodeBitrate > 0 && (bitrate == 0 || bitrate > policy.MaxTranscodeBitrate) {
		bitrate = policy.MaxTranscodeBitrate
	}
	segSeconds := policy.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 4
	}

	return Plan{
		Method:  MethodTranscode,
		Reasons: reasons,
		Transcode: TranscodePlan{
			VideoCodec:     encoder,
			AudioCodec:     "aac",
			BitrateBps:     bitrate,
			SegmentSeconds: segSeconds,
		},
	}
}

func mimeFor(container string) string {
	if m, ok := mimeByContainer[container]; ok {
		return m
	}
	return "application/octet-stream"
}
