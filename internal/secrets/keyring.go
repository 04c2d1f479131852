// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/zalando/go-keyring"
)

// The keyring cannot enumerate entries, so each service keeps a JSON list
// of its key names under this suffix.
const keysIndexSuffix = "::keys-index"

// KeyringStore keeps secrets in the OS keyring: Keychain on macOS,
// secret-service on Linux and Credential Manager on Windows.
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := validate("store", service, key); err != nil {
		return err
	}

	if err := keyring.Set(service, key, value); err != nil {
		return gitaerr.Wrapf(err, gitaerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}

	if err := s.addToIndex(service, key); err != nil {
		return err
	}

	return nil
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := validate("retrieve", service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", gitaerr.Errorf(gitaerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", gitaerr.Wrapf(err, gitaerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := validate("delete", service, key); err != nil {
		return err
	}

	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return gitaerr.Errorf(gitaerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return gitaerr.Wrapf(err, gitaerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}

	if err := s.removeFromIndex(service, key); err != nil {
		return err
	}

	return nil
}

// List returns the key names stored for service, sorted.
func (s *KeyringStore) List(service string) ([]string, error) {
	keys, err := s.loadIndex(service)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *KeyringStore) loadIndex(service string) ([]string, error) {
	indexKey := service + keysIndexSuffix
	raw, err := keyring.Get(service, indexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, gitaerr.Wrapf(err, gitaerr.CodeSecretListFailure, "loading key index for service %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeSecretListFailure, "decoding key index for service %s", service)
	}

	return keys, nil
}

func (s *KeyringStore) saveIndex(service string, keys []string) error {
	indexKey := service + keysIndexSuffix

	if len(keys) == 0 {
		if delErr := keyring.Delete(service, indexKey); delErr != nil {
			slog.Debug("failed to clean up empty key index", "service", service, "error", delErr)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return gitaerr.Wrapf(err, gitaerr.CodeSecretListFailure, "encoding key index for service %s", service)
	}

	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return gitaerr.Wrapf(err, gitaerr.CodeSecretListFailure, "saving key index for service %s", service)
	}

	return nil
}

func (s *KeyringStore) addToIndex(service, key string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}

	if slices.Contains(keys, key) {
		return nil
	}

	keys = append(keys, key)
	return s.saveIndex(service, keys)
}

func (s *KeyringStore) removeFromIndex(service, key string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}

	return s.saveIndex(service, slices.DeleteFunc(keys, func(k string) bool { return k == key }))
}
