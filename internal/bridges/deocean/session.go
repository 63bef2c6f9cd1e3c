package deocean

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// defaultSceneQueueSize is the buffer size for triggered scenes.
const defaultSceneQueueSize = 32

// SessionConfig holds configuration for a gateway session.
type SessionConfig struct {
	Gateway GatewayConfig

	// CoverPolarity selects the open/close control codes for covers.
	CoverPolarity CoverPolarity

	// TogglePolicy decides how Toggle treats an unknown status.
	TogglePolicy TogglePolicy

	// ToggleSyncTimeout bounds the wait under ToggleSyncFirst.
	// Default: 2 seconds.
	ToggleSyncTimeout time.Duration

	// SceneQueueSize bounds the number of triggered scenes waiting to run.
	// Default: 32.
	SceneQueueSize int
}

// SessionStats holds session statistics.
type SessionStats struct {
	Gateway       GatewayStats
	Devices       int
	Scenes        int
	ScenesRun     uint64
	ScenesDropped uint64 // Scenes dropped due to a full queue
}

// Session ties one gateway connection to its device and scene registry.
//
// Frames from the gateway update devices inline on the receive goroutine,
// so state changes are applied in stream order. Triggered scenes run on a
// separate worker so a scene issuing commands (or waiting for a status
// reply) never stalls frame reception.
//
// Lifecycle: NewSession, optionally Connect and load tables, Start, Stop.
type Session struct {
	id       string
	gateway  *Gateway
	registry *Registry

	sceneQueue chan *SceneTask
	workerOnce sync.Once
	done       *closeOnce
	wg         sync.WaitGroup

	scenesRun     atomic.Uint64
	scenesDropped atomic.Uint64

	logSink
}

// NewSession creates a session. No connection is made until Connect or Start.
//
// Parameters:
//   - cfg: Session configuration
//   - logger: Optional logger shared by the gateway and registry
func NewSession(cfg SessionConfig, logger Logger) *Session {
	queueSize := cfg.SceneQueueSize
	if queueSize <= 0 {
		queueSize = defaultSceneQueueSize
	}

	s := &Session{
		id:         uuid.NewString(),
		gateway:    NewGateway(cfg.Gateway),
		sceneQueue: make(chan *SceneTask, queueSize),
		done:       newCloseOnce(),
	}
	s.registry = NewRegistry(RegistryOptions{
		Sender:            s.gateway,
		CoverPolarity:     cfg.CoverPolarity,
		TogglePolicy:      cfg.TogglePolicy,
		ToggleSyncTimeout: cfg.ToggleSyncTimeout,
	})
	s.registry.SetSceneRunner(s.enqueueScene)
	s.gateway.SetOnFrame(func(f Frame) { s.registry.Dispatch(f) })
	s.SetLogger(logger)
	return s
}

// SetLogger sets the logger for the session and its components.
func (s *Session) SetLogger(logger Logger) {
	s.set(logger)
	s.gateway.SetLogger(logger)
	s.registry.SetLogger(logger)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Gateway returns the gateway connection.
func (s *Session) Gateway() *Gateway { return s.gateway }

// Registry returns the device and scene registry.
func (s *Session) Registry() *Registry { return s.registry }

// Connect opens the gateway socket so commands can be sent before the
// receive loop starts. Replies are buffered by the socket until Start.
func (s *Session) Connect(ctx context.Context) error {
	return s.gateway.Connect(ctx)
}

// Start starts the scene worker and the gateway receive loop.
//
// Returns:
//   - error: ErrConnectionFailed if the gateway cannot be reached
func (s *Session) Start(ctx context.Context) error {
	s.workerOnce.Do(func() {
		s.wg.Add(1)
		go s.sceneWorker()
	})

	if err := s.gateway.Start(ctx); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.logInfo("session started", "session_id", s.id, "gateway", s.gateway.Config().Address())
	return nil
}

// Stop stops the receive loop and the scene worker and waits for both.
// Safe to call multiple times; must not be called from a frame handler
// or scene action.
func (s *Session) Stop() {
	s.gateway.Stop()
	s.done.Close()
	s.wg.Wait()
	s.logInfo("session stopped", "session_id", s.id)
}

// LoadDevices registers the devices of a device table and syncs them.
func (s *Session) LoadDevices(text string) int {
	return s.registry.LoadDevices(text)
}

// LoadScenes registers the scenes of a scene table.
func (s *Session) LoadScenes(text string) int {
	return s.registry.LoadScenes(text)
}

// Stats returns session statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Gateway:       s.gateway.Stats(),
		Devices:       s.registry.DeviceCount(),
		Scenes:        len(s.registry.Scenes()),
		ScenesRun:     s.scenesRun.Load(),
		ScenesDropped: s.scenesDropped.Load(),
	}
}

// enqueueScene queues a triggered scene for the worker, dropping it when
// the queue is full.
func (s *Session) enqueueScene(task *SceneTask) {
	select {
	case <-s.done.Done():
		return
	default:
	}

	select {
	case s.sceneQueue <- task:
	default:
		s.scenesDropped.Add(1)
		s.logError("dropping scene", ErrSceneQueueFull, "scene_id", task.ID)
	}
}

// sceneWorker runs queued scenes one at a time.
func (s *Session) sceneWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			s.drainSceneQueue()
			return
		case task := <-s.sceneQueue:
			s.registry.RunScene(task)
			s.scenesRun.Add(1)
		}
	}
}

// drainSceneQueue discards scenes still queued at shutdown.
func (s *Session) drainSceneQueue() {
	for {
		select {
		case task := <-s.sceneQueue:
			s.logDebug("discarding queued scene at shutdown", "scene_id", task.ID)
		default:
			return
		}
	}
}
