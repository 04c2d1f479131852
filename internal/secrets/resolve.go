// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"log/slog"
	"strings"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/viper"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// KeyringURI renders the reference written into gita.yaml for a stored key.
func KeyringURI(service, key string) string {
	return keyringScheme + service + "/" + key
}

// ParseKeyringURI splits keyring://service/key. The key may contain
// slashes; the service may not.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", gitaerr.Errorf(gitaerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", gitaerr.Errorf(gitaerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// ResolveKeyringURI returns the secret behind a keyring URI. Any other
// value is returned unchanged.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", gitaerr.Wrapf(err, gitaerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string in v with its
// secret. Keys that cannot be resolved keep the URI, are logged and are
// returned so callers can report them; the provider using such a key fails
// later with an authentication error.
func ResolveViperSecrets(v *viper.Viper, store Store) []string {
	var unresolved []string
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok || !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			slog.Warn("keyring reference left unresolved",
				"config_key", key,
				"error", err,
			)
			unresolved = append(unresolved, key)
			continue
		}
		v.Set(key, resolved)
	}
	return unresolved
}
