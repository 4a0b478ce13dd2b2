package face

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Models owns the detector and recognizer. The engine is loaded on first use
// and kept for the life of the process; a failed load is not retried.
type Models struct {
	load   Loader
	logger logr.Logger

	once    sync.Once
	engine  Engine
	loadErr error

	mu     sync.Mutex // serializes engine calls
	closed bool
}

// NewModels creates an unloaded model holder. Nothing touches disk until
// the first extraction or an explicit Warm.
func NewModels(load Loader, logger logr.Logger) *Models {
	return &Models{load: load, logger: logger}
}

func (m *Models) init() {
	m.once.Do(func() {
		if m.load == nil {
			m.loadErr = errors.New("no model loader configured")
		} else {
			m.engine, m.loadErr = m.load()
			if m.loadErr == nil && m.engine == nil {
				m.loadErr = errors.New("model loader returned no engine")
			}
		}
		if m.loadErr != nil {
			m.logger.Error(m.loadErr, "face models failed to load, descriptor extraction is disabled until restart")
			return
		}
		m.logger.Info("face models loaded")
	})
}

// Warm loads the models now instead of on first use.
func (m *Models) Warm() error {
	m.init()
	if m.loadErr != nil {
		return fmt.Errorf("%w: %v", ErrModelsUnavailable, m.loadErr)
	}
	return nil
}

// Do runs fn with exclusive access to the loaded engine. A panic inside the
// engine is converted into ErrRecognition.
func (m *Models) Do(fn func(Engine) error) (err error) {
	m.init()
	if m.loadErr != nil {
		return fmt.Errorf("%w: %v", ErrModelsUnavailable, m.loadErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: models closed", ErrModelsUnavailable)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: engine panic: %v", ErrRecognition, r)
		}
	}()
	return fn(m.engine)
}

// Close releases the engine. Later calls to Do fail with ErrModelsUnavailable.
func (m *Models) Close() error {
	// Keep a later Do from loading an engine nobody will close.
	m.once.Do(func() { m.loadErr = errors.New("models closed before first use") })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.engine == nil {
		return nil
	}
	if err := m.engine.Close(); err != nil {
		return fmt.Errorf("closing face models: %w", err)
	}
	return nil
}
