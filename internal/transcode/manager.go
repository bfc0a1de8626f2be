// Package transcode implements the Transcode Session Manager (§4.F): a
// process-wide registry of live ffmpeg-backed HLS sessions, gated by a
// bounded worker pool. Grounded on the teacher's internal/stream/transcoder.go
// for process spawning and playlist/segment naming, but redesigned so the
// semaphore permit is owned by the session struct for its entire lifetime —
// the teacher's Transcoder never acquired the permit it appeared to model,
// releasing resources at spawn time instead of at teardown, which would let
// concurrent sessions exceed max_concurrent_sessions under load.
package transcode

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/coreerr"
	"github.com/rustfin/rustfin/internal/decision"
	"github.com/rustfin/rustfin/internal/events"
)

// State is a session's position in its monotonic lifecycle.
type State int

const (
	StateSpawning State = iota
	StateServing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateServing:
		return "serving"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config holds the manager's tunables (§4.F).
type Config struct {
	MaxConcurrentSessions int
	TranscodeRoot         string
	IdleTimeout           time.Duration
	SpawnTimeout          time.Duration
	FFmpegPath            string
}

// DefaultConfig returns the spec's defaults: 4 concurrent sessions, 120s
// idle timeout, 10s spawn timeout.
func DefaultConfig(transcodeRoot string) Config {
	return Config{
		MaxConcurrentSessions: 4,
		TranscodeRoot:         transcodeRoot,
		IdleTimeout:           120 * time.Second,
		SpawnTimeout:          10 * time.Second,
		FFmpegPath:            "ffmpeg",
	}
}

// Session is one live transcode. sem is the manager's permit channel; the
// session releases its single slot from it exactly once, on termination —
// never earlier — so the permit's lifetime matches the session's.
type Session struct {
	ID        string
	UserID    uuid.UUID
	FileID    uuid.UUID
	Dir       string
	CreatedAt time.Time

	mu         sync.Mutex
	cmd        *exec.Cmd
	state      State
	lastAccess time.Time

	sem      chan struct{}
	released bool
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAccess)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Monotonic: never move backward.
	if st > s.state {
		s.state = st
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) exited() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.ProcessState == nil {
		return false
	}
	return true
}

// release returns the session's permit to the semaphore exactly once.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	<-s.sem
}

// Manager mediates access to a bounded pool of concurrent transcode
// sessions and runs a background idle-GC loop.
type Manager struct {
	cfg Config
	bus *events.Bus

	mu       sync.Mutex
	sessions map[string]*Session
	sem      chan struct{}

	stopGC chan struct{}
}

func New(cfg Config, bus *events.Bus) *Manager {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = 10 * time.Second
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	m := &Manager{
		cfg:      cfg,
		bus:      bus,
		sessions: make(map[string]*Session),
		sem:      make(chan struct{}, cfg.MaxConcurrentSessions),
		stopGC:   make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Close stops the idle GC loop. It does not tear down live sessions.
func (m *Manager) Close() {
	close(m.stopGC)
}

// CreateSession acquires a permit, spawns ffmpeg per plan, and registers a
// new session — or returns ResourceBusy/SpawnFailed per §4.F step 1/5.
func (m *Manager) CreateSession(userID, fileID uuid.UUID, inputPath string, plan decision.TranscodePlan) (string, error) {
	select {
	case m.sem <- struct{}{}:
	default:
		return "", coreerr.ResourceBusy("no transcode capacity available")
	}

	sessionID, err := generateSessionID()
	if err != nil {
		<-m.sem
		return "", coreerr.Internal(fmt.Errorf("generate session id: %w", err))
	}

	dir := filepath.Join(m.cfg.TranscodeRoot, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		<-m.sem
		return "", coreerr.Internal(fmt.Errorf("create transcode dir: %w", err))
	}

	args := plan.FFmpegArgs(inputPath, dir)
	cmd := exec.Command(m.cfg.FFmpegPath, args...)

	spawned := make(chan error, 1)
	go func() { spawned <- cmd.Start() }()

	select {
	case err := <-spawned:
		if err != nil {
			<-m.sem
			os.RemoveAll(dir)
			return "", coreerr.Wrap(coreerr.KindSpawnFailed, "failed to start transcoder", err)
		}
	case <-time.After(m.cfg.SpawnTimeout):
		<-m.sem
		os.RemoveAll(dir)
		return "", coreerr.New(coreerr.KindSpawnFailed, "transcoder did not start within the spawn timeout")
	}

	session := &Session{
		ID:         sessionID,
		UserID:     userID,
		FileID:     fileID,
		Dir:        dir,
		CreatedAt:  time.Now(),
		cmd:        cmd,
		state:      StateSpawning,
		lastAccess: time.Now(),
		sem:        m.sem,
	}
	session.setState(StateServing)

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	go func() {
		cmd.Wait()
	}()

	if m.bus != nil {
		m.bus.Publish(events.KindTranscodeStarted, events.TranscodeSessionData{
			SessionID: sessionID, UserID: userID.String(), FileID: fileID.String(),
		})
	}

	return sessionID, nil
}

const (
	masterPlaylistName = "master.m3u8"
	playlistPollBudget = 5 * time.Second
	segmentPollBudget  = 10 * time.Second
	pollInterval       = 100 * time.Millisecond
)

// ServeFile implements serve_file(session_id, filename) (§4.F): validates
// the filename, enforces ownership, refreshes last_access, and waits for
// the requested artifact to appear on disk before returning its bytes and
// content type.
func (m *Manager) ServeFile(sessionID string, callerUserID uuid.UUID, filename string) ([]byte, string, error) {
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		return nil, "", coreerr.Validation("invalid filename", map[string]string{"filename": filename})
	}

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, "", coreerr.NotFound("transcode session not found")
	}
	if session.UserID != callerUserID {
		return nil, "", coreerr.Forbidden("not the owner of this transcode session")
	}

	session.touch()

	path := filepath.Join(session.Dir, filename)
	budget := segmentPollBudget
	contentType := contentTypeFor(filename)
	if filename == masterPlaylistName {
		budget = playlistPollBudget
	}

	data, err := pollForFile(path, budget)
	if err != nil {
		return nil, "", coreerr.NotFound(fmt.Sprintf("%s not available", filename))
	}
	return data, contentType, nil
}

func contentTypeFor(filename string) string {
	switch {
	case filename == masterPlaylistName:
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(filename, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(filename, ".m4s"), strings.HasSuffix(filename, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func pollForFile(path string, budget time.Duration) ([]byte, error) {
	deadline := time.Now().Add(budget)
	for {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for %s", path)
		}
		time.Sleep(pollInterval)
	}
}

// StopSession terminates the child (SIGTERM, escalating to SIGKILL after
// 5s), removes the working directory, drops the session from the registry,
// and releases its permit.
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.terminate(session)
}

func (m *Manager) terminate(session *Session) {
	session.setState(StateTerminated)

	session.mu.Lock()
	cmd := session.cmd
	session.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			cmd.Process.Kill()
			<-done
		}
	}

	os.RemoveAll(session.Dir)
	session.release()

	if m.bus != nil {
		m.bus.Publish(events.KindTranscodeEnded, events.TranscodeSessionData{
			SessionID: session.ID, UserID: session.UserID.String(), FileID: session.FileID.String(),
		})
	}
}

// gcLoop runs every 10s, stopping sessions that have gone idle or whose
// child has already exited.
func (m *Manager) gcLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopGC:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.idleFor() > m.cfg.IdleTimeout || s.exited() {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.terminate(s)
	}
}

// ActiveSessionCount reports the number of live sessions, mainly for
// diagnostics.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func generateSessionID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
