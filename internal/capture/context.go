package capture

import (
	"sync"

	"github.com/google/uuid"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/logging"
)

// Context is the per-pipeline capture session. It replaces process-wide
// library state: Init starts a session, Shutdown tears down every
// connection made through it, and the registry admits one live worker per
// source key.
type Context struct {
	logger logging.Logger

	mu          sync.Mutex
	initialized bool
	sessionID   string
	conns       map[string]*Worker
}

// NewContext creates an uninitialized context.
func NewContext(logger logging.Logger) *Context {
	return &Context{
		logger: logger,
		conns:  make(map[string]*Worker),
	}
}

// Init starts a session. Calling it on an initialized context is a no-op
// that returns the current session id.
func (c *Context) Init() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		c.initialized = true
		c.sessionID = uuid.NewString()
		c.logger.Info("Capture session started", "session_id", c.sessionID)
	}
	return c.sessionID
}

// SessionID returns the current session id, empty when not initialized.
func (c *Context) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Initialized reports whether Init has run since the last Shutdown.
func (c *Context) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Active returns the sources with a registered connection.
func (c *Context) Active() []frame.SourceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame.SourceHandle, 0, len(c.conns))
	for _, w := range c.conns {
		out = append(out, w.Source())
	}
	return out
}

// Shutdown stops every registered worker, closes their receivers and ends
// the session. It is safe to call more than once.
func (c *Context) Shutdown() {
	c.mu.Lock()
	workers := make([]*Worker, 0, len(c.conns))
	for _, w := range c.conns {
		workers = append(workers, w)
	}
	c.conns = make(map[string]*Worker)
	wasInit := c.initialized
	c.initialized = false
	session := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	for _, w := range workers {
		w.Stop()
		if !w.running.Load() {
			w.disconnect("context shutdown")
		}
	}
	if wasInit {
		c.logger.Info("Capture session ended", "session_id", session, "closed", len(workers))
	}
}

// acquire registers w as the holder of its source key.
func (c *Context) acquire(w *Worker) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return "", frame.ErrContextClosed
	}
	key := w.src.Key()
	if holder, ok := c.conns[key]; ok && holder != w {
		return "", frame.ErrHandleBusy
	}
	c.conns[key] = w
	return c.sessionID, nil
}

// release drops w from the registry if it still holds its key.
func (c *Context) release(w *Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := w.src.Key()
	if c.conns[key] == w {
		delete(c.conns, key)
	}
}
