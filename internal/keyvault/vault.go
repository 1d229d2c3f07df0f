// Package keyvault keeps each user's Gemini API key encrypted at rest and
// decides whether it can be used for a generation.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/keyed"
	"github.com/ubuygold/gosparklio/internal/logger"
	"github.com/ubuygold/gosparklio/internal/model"
)

// CredentialStore is the encrypted document store, keyed by user id.
type CredentialStore interface {
	// GetCredential returns nil without error when the user has no record.
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)
	PutCredential(ctx context.Context, cred *model.Credential) error
	UpdateCredentialStatus(ctx context.Context, userID string, status model.CredentialStatus, reason string) error
	ReviveCredentials(ctx context.Context, from model.CredentialStatus) (int64, error)
}

// LiveChecker makes one minimal authenticated provider call.
// Errors are classified with the failure kinds.
type LiveChecker interface {
	CheckKey(ctx context.Context, apiKey string) error
}

// LiveStatus is the outcome of a successful liveness check.
type LiveStatus int

const (
	// LiveOK means the provider accepted the key.
	LiveOK LiveStatus = iota
	// LiveThrottled means the key is valid but currently out of quota.
	LiveThrottled
)

func (s LiveStatus) String() string {
	if s == LiveThrottled {
		return "throttled"
	}
	return "ok"
}

var keyFormat = regexp.MustCompile(`^AIza[A-Za-z0-9_-]{35}$`)

// Vault resolves, validates and stores user API keys.
type Vault struct {
	store   CredentialStore
	checker LiveChecker
	cipher  *Cipher
	locks   *keyed.Mutex
	logger  *slog.Logger
}

// New creates a Vault. The encryption key is derived from secret once.
func New(store CredentialStore, checker LiveChecker, secret string, log *slog.Logger) (*Vault, error) {
	c, err := NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise credential cipher: %w", err)
	}
	return &Vault{
		store:   store,
		checker: checker,
		cipher:  c,
		locks:   keyed.NewMutex(),
		logger:  log.With("component", "keyvault"),
	}, nil
}

// Resolve returns the plaintext API key for userID.
// A key already marked invalid or out of quota fails without contacting the provider.
func (v *Vault) Resolve(ctx context.Context, userID string) (string, error) {
	cred, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		return "", failure.Wrap(failure.KindGeneric, "could not load API key", err)
	}
	if cred == nil || cred.Ciphertext == "" || cred.Status == model.StatusRemoved {
		return "", failure.ErrNeedsCredential
	}

	switch cred.Status {
	case model.StatusInvalid:
		return "", failure.Wrap(failure.KindInvalidCredential, failure.ErrInvalidCredential.Message, statusReason(cred))
	case model.StatusQuotaExceeded:
		return "", failure.Wrap(failure.KindQuotaExceeded, failure.ErrQuotaExceeded.Message, statusReason(cred))
	}

	secret, err := v.cipher.Decrypt(cred.Ciphertext)
	if err != nil {
		// Most likely the process secret changed; the user has to enter the key again.
		v.logger.Warn("Failed to decrypt stored API key", "user_id", userID, "error", err)
		return "", failure.Wrap(failure.KindNeedsCredential, failure.ErrNeedsCredential.Message, err)
	}
	if strings.TrimSpace(secret) == "" {
		return "", failure.ErrNeedsCredential
	}
	return secret, nil
}

func statusReason(cred *model.Credential) error {
	if cred.StatusReason == "" {
		return nil
	}
	return errors.New(cred.StatusReason)
}

// ValidateFormat checks the shape of a Gemini API key without any network call.
func ValidateFormat(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return failure.Validationf("API key is required")
	}
	if !keyFormat.MatchString(secret) {
		return failure.Validationf("invalid API key format: Gemini keys start with \"AIza\" and are 39 characters long")
	}
	return nil
}

// VerifyLive makes one minimal provider call with secret.
// A quota response still proves the key is valid and yields LiveThrottled.
func (v *Vault) VerifyLive(ctx context.Context, secret string) (LiveStatus, error) {
	err := v.checker.CheckKey(ctx, strings.TrimSpace(secret))
	if err == nil {
		return LiveOK, nil
	}
	if errors.Is(err, failure.ErrQuotaExceeded) {
		return LiveThrottled, nil
	}
	return LiveOK, failure.Classify(err)
}

// Persist validates secret, verifies it with the provider and stores it encrypted for userID.
func (v *Vault) Persist(ctx context.Context, userID, secret string) error {
	secret = strings.TrimSpace(secret)
	if err := ValidateFormat(secret); err != nil {
		return err
	}
	live, err := v.VerifyLive(ctx, secret)
	if err != nil {
		v.logger.Info("API key rejected during verification", "user_id", userID, "key_suffix", logger.KeySuffix(secret), "error", err)
		return err
	}

	sealed, err := v.cipher.Encrypt(secret)
	if err != nil {
		return failure.Wrap(failure.KindGeneric, "could not encrypt API key", err)
	}

	cred := &model.Credential{UserID: userID, Ciphertext: sealed, Status: model.StatusActive}
	if live == LiveThrottled {
		cred.Status = model.StatusQuotaExceeded
		cred.StatusReason = "quota exhausted during verification"
	}

	err = v.locks.Do(ctx, userID, func() error {
		return v.store.PutCredential(ctx, cred)
	})
	if err != nil {
		return failure.Wrap(failure.KindGeneric, "could not save API key", err)
	}
	v.logger.Info("Stored API key", "user_id", userID, "key_suffix", logger.KeySuffix(secret), "status", cred.Status)
	return nil
}

// MarkStatus records a status transition for the user's key.
func (v *Vault) MarkStatus(ctx context.Context, userID string, status model.CredentialStatus, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("unknown credential status %q", status)
	}
	if len(reason) > 500 {
		reason = reason[:500]
	}
	err := v.locks.Do(ctx, userID, func() error {
		return v.store.UpdateCredentialStatus(ctx, userID, status, reason)
	})
	if err != nil {
		return err
	}
	v.logger.Info("Credential status changed", "user_id", userID, "status", status)
	return nil
}

// Remove logically deletes the user's key. Removing a missing key is not an error.
func (v *Vault) Remove(ctx context.Context, userID string) error {
	return v.locks.Do(ctx, userID, func() error {
		cred, err := v.store.GetCredential(ctx, userID)
		if err != nil {
			return err
		}
		if cred == nil {
			return nil
		}
		cred.Ciphertext = ""
		cred.Status = model.StatusRemoved
		cred.StatusReason = ""
		if err := v.store.PutCredential(ctx, cred); err != nil {
			return err
		}
		v.logger.Info("Removed API key", "user_id", userID)
		return nil
	})
}

// HasCredential reports whether the user has a stored key that is not removed or rejected.
func (v *Vault) HasCredential(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	cred, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		v.logger.Warn("Failed to look up credential", "user_id", userID, "error", err)
		return false
	}
	if cred == nil || cred.Ciphertext == "" {
		return false
	}
	return cred.Status == model.StatusActive || cred.Status == model.StatusQuotaExceeded
}

// ReviveThrottled puts keys that ran out of quota back into service.
func (v *Vault) ReviveThrottled(ctx context.Context) (int64, error) {
	n, err := v.store.ReviveCredentials(ctx, model.StatusQuotaExceeded)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		v.logger.Info("Revived throttled API keys", "count", n)
	}
	return n, nil
}
