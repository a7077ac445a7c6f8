// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

// Package vault provides symmetric at-rest encryption for integration secrets:
// access tokens, refresh tokens, API keys, and uploaded credential files.
// Callers never handle raw tokens without going through the vault.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Vault errors
var (
	// ErrKeyMissing indicates no encryption key was configured.
	ErrKeyMissing = errors.New("encryption key not configured")

	// ErrDecryptionFailed indicates the ciphertext failed authentication.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrFieldMissing indicates the requested container field is absent.
	ErrFieldMissing = errors.New("field not present in container")
)

// Vault provides AES-GCM authenticated encryption with a process-wide key.
// The working key is derived from the configured master key via HKDF so the
// same master key can serve multiple encryption contexts.
type Vault struct {
	aead cipher.AEAD
}

// Config holds vault configuration.
type Config struct {
	// MasterKey is the base64-encoded master encryption key.
	// Must carry at least 16 bytes of entropy; 32 bytes recommended.
	MasterKey string

	// Context is used for key derivation (default: "laika-sync-secrets").
	Context string
}

// New creates a vault from the configured master key. Unlike optional
// encryption layers, a missing key is an error: the sync engine never
// persists provider secrets in plaintext.
func New(cfg Config) (*Vault, error) {
	if cfg.MasterKey == "" {
		return nil, ErrKeyMissing
	}

	masterKey, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(masterKey) < 16 {
		return nil, errors.New("master key must be at least 16 bytes")
	}

	context := cfg.Context
	if context == "" {
		context = "laika-sync-secrets"
	}

	derivedKey, err := deriveKey(masterKey, []byte(context), 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// deriveKey derives a key using HKDF-SHA256.
func deriveKey(secret, context []byte, keyLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, context)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt encrypts the plaintext and returns base64-encoded ciphertext.
// The nonce is prepended to the ciphertext. Empty strings stay empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext and returns the plaintext.
// Fails with ErrDecryptionFailed on tamper and ErrInvalidCiphertext on
// malformed input. Empty strings stay empty.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrInvalidCiphertext)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize+1+v.aead.Overhead() {
		return "", fmt.Errorf("%w: data too short", ErrInvalidCiphertext)
	}

	nonce := data[:nonceSize]
	plaintext, err := v.aead.Open(nil, nonce, data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}

	return string(plaintext), nil
}

// GetOrReencrypt reads container[key] and returns the decrypted value. When
// decryption fails the field is assumed to hold legacy plaintext from before
// encryption at rest: it is re-encrypted in place and persisted through the
// callback. Persist failures (e.g. a concurrent row update) do not fail the
// read; the re-encryption is retried on next access.
func (v *Vault) GetOrReencrypt(container map[string]string, key string, persist func(map[string]string) error) (string, error) {
	value, ok := container[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFieldMissing, key)
	}

	plaintext, err := v.Decrypt(value)
	if err == nil {
		return plaintext, nil
	}

	// Legacy plaintext migration.
	encrypted, encErr := v.Encrypt(value)
	if encErr != nil {
		return "", fmt.Errorf("re-encrypt legacy field %s: %w", key, encErr)
	}
	container[key] = encrypted

	if persist != nil {
		if persistErr := persist(container); persistErr != nil {
			// The read still succeeds; the row keeps its legacy value until
			// the next access wins the write.
			container[key] = value
			return value, nil
		}
	}

	return value, nil
}

// GenerateKey generates a cryptographically secure 256-bit key, returned
// base64-encoded for use in configuration.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
