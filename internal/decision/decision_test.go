package decision

import (
	"reflect"
	"testing"
)

func profile1080p() DeviceProfile {
	return DeviceProfile{
		Containers:      []string{"mp4"},
		VideoCodecs:     []string{"h264"},
		AudioCodecs:     []string{"aac"},
		MaxWidth:        1920,
		MaxHeight:       1080,
		MaxVideoBitrate: 5_000_000,
		MaxChannels:     6,
	}
}

func TestDecideDirectPlayWhenEverythingMatches(t *testing.T) {
	source := MediaSource{Container: "mp4", VideoCodec: "h264", AudioCodec: "aac", Width: 1920, Height: 1080, BitrateBps: 3_000_000, AudioChannels: 2}
	plan := Decide(source, profile1080p(), Policy{})

	if plan.Method != MethodDirectPlay {
		t.Fatalf("expected DirectPlay, got %v", plan.Method)
	}
	if len(plan.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", plan.Reasons)
	}
}

func TestDecideRemuxWhenOnlyContainerFails(t *testing.T) {
	source := MediaSource{Container: "mkv", VideoCodec: "h264", AudioCodec: "aac", Width: 1920, Height: 1080, BitrateBps: 3_000_000, AudioChannels: 2}
	plan := Decide(source, profile1080p(), Policy{})

	if plan.Method != MethodRemux {
		t.Fatalf("expected Remux, got %v", plan.Method)
	}
	if !reflect.DeepEqual(plan.Reasons, []TranscodeReason{ContainerNotSupported}) {
		t.Fatalf("expected [ContainerNotSupported], got %v", plan.Reasons)
	}
}

func TestDecideTranscodeWhenCodecAlsoFails(t *testing.T) {
	source := MediaSource{Container: "mkv", VideoCodec: "hevc", AudioCodec: "aac", Width: 1920, Height: 1080, BitrateBps: 3_000_000, AudioChannels: 2}
	plan := Decide(source, profile1080p(), Policy{})

	if plan.Method != MethodTranscode {
		t.Fatalf("expected Transcode, got %v", plan.Method)
	}
	want := []TranscodeReason{ContainerNotSupported, VideoCodecNotSupported}
	if !reflect.DeepEqual(plan.Reasons, want) {
		t.Fatalf("expected %v, got %v", want, plan.Reasons)
	}
	if plan.Transcode.VideoCodec != "libx264" || plan.Transcode.AudioCodec != "aac" {
		t.Fatalf("unexpected transcode plan: %+v", plan.Transcode)
	}
}

func TestDecideReasonsAreOrderedNotSorted(t *testing.T) {
	// Audio codec and resolution both fail; the evaluation order in §4.D
	// puts resolution (step 4) before audio codec (step 5).
	source := MediaSource{Container: "mp4", VideoCodec: "h264", AudioCodec: "flac", Width: 3840, Height: 2160, BitrateBps: 1_000_000, AudioChannels: 2}
	plan := Decide(source, profile1080p(), Policy{})

	want := []TranscodeReason{VideoResolutionNotSupported, AudioCodecNotSupported}
	if !reflect.DeepEqual(plan.Reasons, want) {
		t.Fatalf("expected %v, got %v", want, plan.Reasons)
	}
}
