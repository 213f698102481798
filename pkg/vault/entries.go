package vault

import (
	"errors"
	"strconv"

	"github.com/forest6511/rvault/pkg/audit"
	"github.com/forest6511/rvault/pkg/config"
	"github.com/forest6511/rvault/pkg/crypto"
	"github.com/forest6511/rvault/pkg/security"
	"github.com/forest6511/rvault/pkg/store"
)

// withKey runs fn with the active MEK and wipes it afterwards.
func (v *Vault) withKey(fn func(mek []byte) error) error {
	mek, err := v.ActiveKey()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(mek)
	return fn(mek)
}

// entryResult records the outcome of an entry operation.
func (v *Vault) entryResult(mek []byte, op, vault, platform, user string, err error) {
	r := audit.Record{Op: op, Vault: vault, Platform: platform, User: user}
	if err != nil {
		r.Result = audit.ResultError
		r.Error = &audit.ErrorInfo{Code: errorCode(err)}
	}
	v.record(mek, r)
}

// errorCode maps an error to a stable audit code without its message.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrVaultNotFound):
		return "vault_not_found"
	case errors.Is(err, store.ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrPinLimitExceeded):
		return "pin_limit"
	case errors.Is(err, store.ErrInvalidTableName), errors.Is(err, store.ErrInvalidEntry):
		return "invalid_input"
	}
	return "internal"
}

// CreateVault creates an empty vault table.
func (v *Vault) CreateVault(name string) error {
	return v.withKey(func(mek []byte) error {
		err := v.store.CreateTable(name)
		if !errors.Is(err, store.ErrInvalidTableName) {
			v.entryResult(mek, audit.OpVaultCreate, name, "", "", err)
		}
		return err
	})
}

// Vaults lists vault table names.
func (v *Vault) Vaults() ([]string, error) {
	var names []string
	err := v.withKey(func([]byte) error {
		var err error
		names, err = v.store.Tables()
		return err
	})
	return names, err
}

// UseVault records name as the last used vault after checking it exists.
// The name is stored as the vault was created, whatever its case here.
func (v *Vault) UseVault(name string) error {
	var stored string
	err := v.withKey(func([]byte) error {
		var err error
		stored, err = v.store.ResolveTable(name)
		return err
	})
	if err != nil {
		return err
	}
	return v.updateConfig("last_used_vault", func(c *config.Config) error {
		c.LastUsedVault = stored
		return nil
	})
}

// Add stores secret under (platform, user), replacing any existing entry.
func (v *Vault) Add(vault, platform, user string, secret []byte) error {
	platform, user = normalizeName(platform), normalizeName(user)
	return v.withKey(func(mek []byte) error {
		err := v.store.Put(vault, mek, platform, user, secret)
		v.entryResult(mek, audit.OpEntryAdd, vault, platform, user, err)
		return err
	})
}

// Get decrypts the secret for (platform, user). The caller should
// SecureWipe the result.
func (v *Vault) Get(vault, platform, user string) ([]byte, error) {
	platform, user = normalizeName(platform), normalizeName(user)
	var secret []byte
	err := v.withKey(func(mek []byte) error {
		var err error
		secret, err = v.store.Get(vault, mek, platform, user)
		v.entryResult(mek, audit.OpEntryGet, vault, platform, user, err)
		return err
	})
	return secret, err
}

// Update re-encrypts the entry and optionally renames its user. Renaming
// onto an existing (platform, user) fails with store.ErrConflict.
func (v *Vault) Update(vault, platform, oldUser, newUser string, secret []byte) error {
	platform = normalizeName(platform)
	oldUser, newUser = normalizeName(oldUser), normalizeName(newUser)
	return v.withKey(func(mek []byte) error {
		err := v.store.Update(vault, mek, platform, oldUser, newUser, secret)
		v.entryResult(mek, audit.OpEntryUpdate, vault, platform, newUser, err)
		return err
	})
}

// Remove deletes an entry. A missing entry is not an error.
func (v *Vault) Remove(vault, platform, user string) error {
	platform, user = normalizeName(platform), normalizeName(user)
	return v.withKey(func(mek []byte) error {
		err := v.store.Remove(vault, platform, user)
		v.entryResult(mek, audit.OpEntryRemove, vault, platform, user, err)
		return err
	})
}

// TogglePin flips the pinned flag and returns the new state.
func (v *Vault) TogglePin(vault, platform, user string) (bool, error) {
	platform, user = normalizeName(platform), normalizeName(user)
	var pinned bool
	err := v.withKey(func(mek []byte) error {
		var err error
		pinned, err = v.store.TogglePin(vault, platform, user)
		r := audit.Record{
			Op: audit.OpEntryPin, Vault: vault, Platform: platform, User: user,
			Context: map[string]string{"pinned": strconv.FormatBool(pinned)},
		}
		if err != nil {
			r.Result = audit.ResultError
			r.Error = &audit.ErrorInfo{Code: errorCode(err)}
			r.Context = nil
		}
		v.record(mek, r)
		return err
	})
	return pinned, err
}

// List returns entry metadata, pinned first, then ordered by mode.
// Ciphertext is returned unopened.
func (v *Vault) List(vault string, mode store.SortMode) ([]*store.Entry, error) {
	var entries []*store.Entry
	err := v.withKey(func(mek []byte) error {
		var err error
		entries, err = v.store.List(vault, mode)
		r := audit.Record{
			Op: audit.OpEntryList, Vault: vault,
			Context: map[string]string{"count": strconv.Itoa(len(entries)), "sort": mode.String()},
		}
		if err != nil {
			r.Result = audit.ResultError
			r.Error = &audit.ErrorInfo{Code: errorCode(err)}
			r.Context = nil
		}
		v.record(mek, r)
		return err
	})
	return entries, err
}

// Health decrypts every entry in vault and reports weak, reused and stale
// secrets. Entries that fail to decrypt are skipped and counted.
func (v *Vault) Health(vault string, includeLabels bool) (*security.Report, int, error) {
	var (
		report  *security.Report
		skipped int
	)
	err := v.withKey(func(mek []byte) error {
		entries, err := v.store.List(vault, store.SortPlatformAsc)
		if err != nil {
			return err
		}

		items := make([]security.Item, 0, len(entries))
		defer func() {
			for _, it := range items {
				crypto.SecureWipe(it.Secret)
			}
		}()
		for _, e := range entries {
			secret, err := v.store.Open(e, mek)
			if err != nil {
				skipped++
				v.logger.Warn("skipping entry that failed to decrypt", "vault", vault, "error", err)
				continue
			}
			items = append(items, security.Item{
				Platform:  e.Platform,
				User:      e.UserID,
				Secret:    secret,
				UpdatedAt: e.UpdatedAt,
			})
		}

		report, err = security.NewAnalyzer(security.WithClock(v.now)).Analyze(items, includeLabels)
		return err
	})
	return report, skipped, err
}
