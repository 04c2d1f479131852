// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/secrets"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withMemorySecrets points the secret commands at an in-memory store.
func withMemorySecrets(t *testing.T) *secrets.MemoryStore {
	t.Helper()
	store := secrets.NewMemoryStore()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = orig })
	return store
}

func TestSecretSet(t *testing.T) {
	store := withMemorySecrets(t)

	out, _, err := runCmd(t, "secret", "set", "openai-api-key", "sk-test-123")
	require.NoError(t, err)
	assert.Contains(t, out, "keyring://gita/openai-api-key")

	got, err := store.Retrieve(secrets.DefaultService, "openai-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", got)
}

func TestSecretSet_FromStdin(t *testing.T) {
	store := withMemorySecrets(t)

	root := NewRootCmd()
	root.SetIn(strings.NewReader("sk-from-stdin\n"))
	root.SetOut(new(strings.Builder))
	root.SetArgs([]string{"secret", "set", "anthropic-api-key"})
	require.NoError(t, root.Execute())

	got, err := store.Retrieve(secrets.DefaultService, "anthropic-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-stdin", got)
}

func TestSecretSet_EmptyValue(t *testing.T) {
	withMemorySecrets(t)

	root := NewRootCmd()
	root.SetIn(strings.NewReader("\n"))
	root.SetOut(new(strings.Builder))
	root.SetArgs([]string{"secret", "set", "anthropic-api-key"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeCLIInputInvalid))
}

func TestSecretGet(t *testing.T) {
	store := withMemorySecrets(t)
	require.NoError(t, store.Store(secrets.DefaultService, "openai-api-key", "sk-abcdefghijklmnop"))

	out, _, err := runCmd(t, "secret", "get", "openai-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-a***********mnop\n", out)

	out, _, err = runCmd(t, "secret", "get", "--reveal", "openai-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdefghijklmnop\n", out)

	_, _, err = runCmd(t, "secret", "get", "missing")
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeSecretNotFound))
}

func TestSecretList(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{name: "empty store", want: "No secrets stored.\n"},
		{name: "sorted keys", keys: []string{"openai-api-key", "anthropic-api-key"}, want: "anthropic-api-key\nopenai-api-key\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := withMemorySecrets(t)
			for _, k := range tt.keys {
				require.NoError(t, store.Store(secrets.DefaultService, k, "v"))
			}
			out, _, err := runCmd(t, "secret", "list")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSecretDelete(t *testing.T) {
	store := withMemorySecrets(t)
	require.NoError(t, store.Store(secrets.DefaultService, "openai-api-key", "sk"))

	out, _, err := runCmd(t, "secret", "delete", "openai-api-key")
	require.NoError(t, err)
	assert.Equal(t, "Deleted secret: openai-api-key\n", out)

	_, _, err = runCmd(t, "secret", "delete", "openai-api-key")
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeSecretNotFound))
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"exactly12chr", "************"},
		{"sk-1234567890abcd", "sk-1*********abcd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mask(tt.in), tt.in)
	}
}
