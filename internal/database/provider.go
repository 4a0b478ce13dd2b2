package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Backend names, derived from the DATABASE_URL scheme
const (
	BackendPostgres = "postgres"
	BackendMariaDB  = "mariadb"
)

var (
	providerMu      sync.RWMutex
	studentReader   func() StudentReader
	studentWriter   func() StudentWriter
	backendName     string
	descriptorIndex *DescriptorIndex
	initialized     bool
)

// BackendForURL returns the backend that serves a DATABASE_URL.
func BackendForURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("database URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "mysql", "mariadb":
		return BackendMariaDB, nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
}

// RegisterBackend registers student repository constructors.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(name string, reader func() StudentReader, writer func() StudentWriter) {
	providerMu.Lock()
	defer providerMu.Unlock()
	backendName = name
	studentReader = reader
	studentWriter = writer
	initialized = true
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return initialized
}

// BackendName returns the registered backend name, empty if none.
func BackendName() string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return backendName
}

// GetStudentReader returns a StudentReader from the registered backend
func GetStudentReader(ctx context.Context) (StudentReader, error) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if !initialized {
		return nil, errors.New("database backend not initialized: DATABASE_URL is required")
	}
	if studentReader == nil {
		return nil, fmt.Errorf("%s student reader not registered", backendName)
	}
	return studentReader(), nil
}

// GetStudentWriter returns a StudentWriter from the registered backend
func GetStudentWriter(ctx context.Context) (StudentWriter, error) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if !initialized {
		return nil, errors.New("database backend not initialized: DATABASE_URL is required")
	}
	if studentWriter == nil {
		return nil, fmt.Errorf("%s student writer not registered", backendName)
	}
	return studentWriter(), nil
}

// RegisterDescriptorIndex registers the shared in-memory descriptor index.
func RegisterDescriptorIndex(idx *DescriptorIndex) {
	providerMu.Lock()
	defer providerMu.Unlock()
	descriptorIndex = idx
}

// GetDescriptorIndex returns the registered descriptor index, or nil if not registered.
func GetDescriptorIndex() *DescriptorIndex {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return descriptorIndex
}

// ResetForTesting clears all registrations.
func ResetForTesting() {
	providerMu.Lock()
	defer providerMu.Unlock()
	studentReader = nil
	studentWriter = nil
	backendName = ""
	descriptorIndex = nil
	initialized = false
}
