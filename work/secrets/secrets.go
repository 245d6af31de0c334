package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"svp-gateway/work/database"
	"svp-gateway/work/logger"
)

// settings key under which the random salt is persisted
const saltKey = "secret_salt"

// SaltStore persists the random half of the signing secret. The database
// settings table satisfies this; tests substitute an in-memory store.
type SaltStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Keeper assembles the process-wide token signing secret from a static
// application secret and a durable random salt. The salt is created exactly
// once on first use; initialization runs under a mutex so two concurrent
// callers cannot persist different salts. Once loaded, the assembled secret
// is effectively immutable until an explicit rotation.
type Keeper struct {
	appSecret string
	store     SaltStore
	mu        sync.Mutex
	secret    []byte // assembled appSecret+salt, nil until first load
}

// NewKeeper creates a Keeper over the given static secret and salt store.
func NewKeeper(appSecret string, store SaltStore) *Keeper {
	return &Keeper{
		appSecret: appSecret,
		store:     store,
	}
}

// Secret returns the signing secret, loading or creating the persisted salt
// on first call.
func (k *Keeper) Secret() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.secret != nil {
		return k.secret, nil
	}

	salt, err := k.store.GetSetting(saltKey)
	if errors.Is(err, database.ErrSettingNotFound) {
		salt, err = k.createSalt()
	}
	if err != nil {
		return nil, err
	}

	k.secret = []byte(k.appSecret + salt)
	return k.secret, nil
}

// Rotate replaces the persisted salt with a fresh random value. Any token
// signed with the previous secret stops verifying immediately; tokens are
// short-lived and reissuable, so callers simply request a new one.
func (k *Keeper) Rotate() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	salt, err := k.createSalt()
	if err != nil {
		return err
	}

	k.secret = []byte(k.appSecret + salt)
	logger.Warn("{secrets - Rotate} Signing salt rotated, in-flight tokens invalidated")
	return nil
}

// createSalt generates a fresh 64-character salt and persists it.
// Caller must hold k.mu.
func (k *Keeper) createSalt() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)

	if err := k.store.SetSetting(saltKey, salt); err != nil {
		return "", fmt.Errorf("failed to persist salt: %w", err)
	}
	return salt, nil
}
