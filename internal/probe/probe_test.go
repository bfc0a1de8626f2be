package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustfin/rustfin/internal/coreerr"
)

func TestProbeTimesOutOnSlowBinary(t *testing.T) {
	// /bin/sleep never prints JSON and outlives a 10ms budget, exercising the
	// bounded-timeout path without depending on a real ffprobe binary.
	p := New("/bin/sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Probe(ctx, "5")

	var coreErr *coreerr.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected a *coreerr.Error, got %T: %v", err, err)
	}
	if coreErr.Kind != coreerr.KindProbeError {
		t.Fatalf("expected KindProbeError, got %v", coreErr.Kind)
	}
}

func TestHDRFormatDetectsDolbyVision(t *testing.T) {
	r := &Result{Streams: []StreamInfo{
		{CodecType: "video", SideDataList: []SideDataItem{{SideDataType: "DOVI configuration record"}}},
	}}
	if got := r.HDRFormat(); got != "Dolby Vision" {
		t.Fatalf("expected Dolby Vision, got %q", got)
	}
}

func TestHDRFormatHDR10RequiresBT2020Primaries(t *testing.T) {
	r := &Result{Streams: []StreamInfo{
		{CodecType: "video", ColorTransfer: "smpte2084", ColorPrimaries: "bt2020"},
	}}
	if got := r.HDRFormat(); got != "HDR10" {
		t.Fatalf("expected HDR10, got %q", got)
	}

	r2 := &Result{Streams: []StreamInfo{
		{CodecType: "video", ColorTransfer: "smpte2084", ColorPrimaries: "bt709"},
	}}
	if got := r2.HDRFormat(); got != "PQ" {
		t.Fatalf("expected bare PQ without bt2020 primaries, got %q", got)
	}
}

func TestAudioFormatDetectsAtmosFromSideData(t *testing.T) {
	r := &Result{Streams: []StreamInfo{
		{CodecType: "audio", CodecName: "truehd", SideDataList: []SideDataItem{{SideDataType: "Dolby Atmos"}}},
	}}
	if got := r.AudioFormat(); got != "TrueHD Atmos" {
		t.Fatalf("expected TrueHD Atmos, got %q", got)
	}
}

func TestAudioFormatDetectsDTSXFromProfile(t *testing.T) {
	r := &Result{Streams: []StreamInfo{
		{CodecType: "audio", CodecName: "DTS", Profile: "DTS:X"},
	}}
	if got := r.AudioFormat(); got != "DTS DTS:X" {
		t.Fatalf("expected DTS DTS:X, got %q", got)
	}
}
