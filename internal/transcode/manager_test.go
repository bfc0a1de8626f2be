package transcode

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/coreerr"
	"github.com/rustfin/rustfin/internal/decision"
)

func testPlan() decision.TranscodePlan {
	return decision.TranscodePlan{VideoCodec: "libx264", AudioCodec: "aac", BitrateBps: 2_000_000, SegmentSeconds: 4}
}

func TestCreateSessionExhaustsCapacityThenResourceBusy(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.MaxConcurrentSessions = 1
	cfg.FFmpegPath = "sleep"
	m := New(cfg, nil)
	defer m.Close()

	id1, err := m.CreateSession(uuid.New(), uuid.New(), "5", testPlan())
	if err != nil {
		t.Fatalf("expected first session to succeed, got %v", err)
	}
	defer m.StopSession(id1)

	_, err = m.CreateSession(uuid.New(), uuid.New(), "5", testPlan())
	var coreErr *coreerr.Error
	if err == nil {
		t.Fatal("expected second session to be rejected")
	}
	if ce, ok := asCoreErr(err); ok {
		coreErr = ce
	}
	if coreErr == nil || coreErr.Kind != coreerr.KindResourceBusy {
		t.Fatalf("expected ResourceBusy, got %v", err)
	}
}

func TestStopSessionReleasesPermitForNextCreate(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.MaxConcurrentSessions = 1
	cfg.FFmpegPath = "sleep"
	m := New(cfg, nil)
	defer m.Close()

	id1, err := m.CreateSession(uuid.New(), uuid.New(), "5", testPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.StopSession(id1)

	id2, err := m.CreateSession(uuid.New(), uuid.New(), "5", testPlan())
	if err != nil {
		t.Fatalf("expected capacity to be free after stop, got %v", err)
	}
	m.StopSession(id2)
}

func TestServeFileRejectsPathTraversalFilename(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.FFmpegPath = "sleep"
	m := New(cfg, nil)
	defer m.Close()

	userID := uuid.New()
	id, err := m.CreateSession(userID, uuid.New(), "5", testPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.StopSession(id)

	_, _, err = m.ServeFile(id, userID, "../../etc/passwd")
	if err == nil {
		t.Fatal("expected path traversal filename to be rejected")
	}
}

func TestServeFileRejectsWrongOwner(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.FFmpegPath = "sleep"
	m := New(cfg, nil)
	defer m.Close()

	owner := uuid.New()
	id, err := m.CreateSession(owner, uuid.New(), "5", testPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.StopSession(id)

	_, _, err = m.ServeFile(id, uuid.New(), masterPlaylistName)
	if ce, ok := asCoreErr(err); !ok || ce.Kind != coreerr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestServeFileReturnsBytesOnceSegmentExists(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.FFmpegPath = "sleep"
	m := New(cfg, nil)
	defer m.Close()

	userID := uuid.New()
	id, err := m.CreateSession(userID, uuid.New(), "5", testPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.StopSession(id)

	m.mu.Lock()
	dir := m.sessions[id].Dir
	m.mu.Unlock()

	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "seg_000.ts"), []byte("segment-data"), 0o644)
	}()

	data, ct, err := m.ServeFile(id, userID, "seg_000.ts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "segment-data" || ct != "video/mp2t" {
		t.Fatalf("unexpected data/content-type: %q %q", data, ct)
	}
}

func asCoreErr(err error) (*coreerr.Error, bool) {
	ce, ok := err.(*coreerr.Error)
	return ce, ok
}
