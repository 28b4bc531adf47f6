package store

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/singleflight"
	"os"
	"path/filepath"
	"sync"
)

// --------------------------------------------------------------------------
// Backends
// --------------------------------------------------------------------------

// extraBackends are engines compiled in with build tags
var extraBackends []func() db.Backend

func defaultBackends() map[db.Implementation]db.Backend {
	backends := map[db.Implementation]db.Backend{
		db.ImplBolt:  bolt.NewBackend(nil),
		db.ImplMaple: maple.NewBackend(nil),
	}
	for _, newBackend := range extraBackends {
		b := newBackend()
		backends[b.Name()] = b
	}
	return backends
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Manager is the registry of open environments. It guarantees that a process
// opens every canonical path at most once, as long as all callers share the
// same Manager. Concurrent requests for a path that is not open yet result in
// a single backend open, requests for different paths only contend on the
// registry lookup.
//
// Thread-safety: All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex // protects envs and environment.refs
	envs     map[string]*environment
	opening  singleflight.Group
	backends map[db.Implementation]db.Backend
	log      logger.ILogger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithBackend registers b under b.Name(), replacing a built-in engine of the same name
func WithBackend(b db.Backend) ManagerOption {
	return func(m *Manager) {
		m.backends[b.Name()] = b
	}
}

// WithLogger replaces the package logger for messages of this manager
func WithLogger(l logger.ILogger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates an empty registry
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		envs:     make(map[string]*environment),
		backends: defaultBackends(),
		log:      plog,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanonicalPath returns the registry key of path. With resolve the path is
// made absolute and symlinks are resolved, so the directory must exist.
func CanonicalPath(path string, resolve bool) (string, error) {
	if !resolve {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// GetOrCreate returns the environment of path, opening it with cfg if it is
// not open yet. cfg is ignored for environments that are already open. Every
// call returns a reference that must be released with Environment.Close.
func (m *Manager) GetOrCreate(path string, cfg *Config) (*Environment, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := CanonicalPath(path, cfg.Canonicalize)
	if err != nil {
		return nil, WrapError(RetCOpenFailed, fmt.Sprintf("environment %s", path), err)
	}

	for {
		if env := m.acquire(key); env != nil {
			return env, nil
		}

		v, err, _ := m.opening.Do(key, func() (interface{}, error) {
			m.mu.Lock()
			env, ok := m.envs[key]
			m.mu.Unlock()
			if ok {
				return env, nil
			}

			// the backend open runs without the registry lock
			env, err := m.open(key, cfg)
			if err != nil {
				return nil, err
			}
			m.mu.Lock()
			m.envs[key] = env
			m.mu.Unlock()
			return env, nil
		})
		if err != nil {
			return nil, err
		}

		env := v.(*environment)
		m.mu.Lock()
		if m.envs[key] == env {
			env.refs++
			m.mu.Unlock()
			return &Environment{environment: env}, nil
		}
		// released by every holder before this caller took its reference
		m.mu.Unlock()
	}
}

// Get returns a new reference to the open environment of path or
// ErrNotFound. It never opens an environment.
func (m *Manager) Get(path string) (*Environment, error) {
	for _, resolve := range []bool{true, false} {
		key, err := CanonicalPath(path, resolve)
		if err != nil {
			continue
		}
		if env := m.acquire(key); env != nil {
			return env, nil
		}
	}
	return nil, WrapError(RetCNotFound, fmt.Sprintf("environment %s is not open", path), os.ErrNotExist)
}

// Len returns the number of open environments
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envs)
}

// CloseAll closes every open environment regardless of outstanding references
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	envs := make([]*environment, 0, len(m.envs))
	for key, env := range m.envs {
		env.refs = 0
		envs = append(envs, env)
		delete(m.envs, key)
	}
	m.mu.Unlock()

	var errs []error
	for _, env := range envs {
		if err := env.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) acquire(key string) *Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envs[key]
	if !ok {
		return nil
	}
	env.refs++
	return &Environment{environment: env}
}

// release drops one reference and closes the environment with the last one
func (m *Manager) release(env *environment) error {
	m.mu.Lock()
	if env.refs == 0 {
		m.mu.Unlock()
		return nil
	}
	env.refs--
	if env.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	if m.envs[env.path] == env {
		delete(m.envs, env.path)
	}
	m.mu.Unlock()
	return env.shutdown()
}

func (m *Manager) open(key string, cfg *Config) (*environment, error) {
	backend, ok := m.backends[cfg.Backend]
	if !ok {
		return nil, NewError(RetCOpenFailed, fmt.Sprintf("backend %q is not available", cfg.Backend))
	}
	raw, err := backend.Open(key, cfg.envOptions())
	if err != nil {
		m.log.Errorf("opening %s with %s failed: %v", key, cfg.Backend, err)
		return nil, WrapError(RetCOpenFailed, fmt.Sprintf("environment %s", key), err)
	}
	m.log.Infof("opened environment %s (%s)", key, cfg.Backend)
	return newEnvironment(m, key, cfg, raw), nil
}
