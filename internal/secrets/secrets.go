// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps provider API keys out of gita.yaml. Config values
// of the form keyring://service/key are looked up in the OS keyring after
// the file is loaded.
package secrets

import (
	"slices"
	"sync"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// DefaultService is the keyring service gita writes its keys under.
const DefaultService = "gita"

// Store saves and looks up secrets by service and key. Retrieve and Delete
// fail with CodeSecretNotFound for unknown keys.
type Store interface {
	Store(service, key, value string) error
	Retrieve(service, key string) (string, error)
	Delete(service, key string) error
	List(service string) ([]string, error)
}

func validate(op, service, key string) error {
	if service == "" {
		return gitaerr.Errorf(gitaerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return gitaerr.Errorf(gitaerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and for hosts without a
// keyring daemon.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (m *MemoryStore) Store(service, key, value string) error {
	if err := validate("store", service, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[service] == nil {
		m.data[service] = make(map[string]string)
	}
	m.data[service][key] = value
	return nil
}

func (m *MemoryStore) Retrieve(service, key string) (string, error) {
	if err := validate("retrieve", service, key); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[service][key]
	if !ok {
		return "", gitaerr.Errorf(gitaerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return v, nil
}

func (m *MemoryStore) Delete(service, key string) error {
	if err := validate("delete", service, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service][key]; !ok {
		return gitaerr.Errorf(gitaerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	delete(m.data[service], key)
	return nil
}

func (m *MemoryStore) List(service string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[service]))
	for k := range m.data[service] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
