package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forest6511/rvault/internal/fsutil"
	"github.com/forest6511/rvault/pkg/audit"
	"github.com/forest6511/rvault/pkg/config"
	"github.com/forest6511/rvault/pkg/keystore"
)

// Disk capacity thresholds.
const (
	MinDiskSpaceBytes  = 10 * 1024 * 1024
	DiskWarningPercent = 90
)

// IntegrityReport is the outcome of CheckIntegrity.
type IntegrityReport struct {
	Valid             bool              `json:"valid"`
	KeystoreValid     bool              `json:"keystore_valid"`
	KeystoreVersion   uint32            `json:"keystore_version,omitempty"`
	ConfigValid       bool              `json:"config_valid"`
	DatabaseExists    bool              `json:"database_exists"`
	DatabaseIntegrity bool              `json:"database_integrity"`
	PermissionsValid  bool              `json:"permissions_valid"`
	Disk              *fsutil.DiskSpace `json:"disk,omitempty"`
	Errors            []string          `json:"errors,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
}

func (r *IntegrityReport) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *IntegrityReport) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// CheckIntegrity inspects the on-disk state without the master password:
// keystore framing and checksum, configuration, SQLite integrity, file
// permissions and free disk space.
func (v *Vault) CheckIntegrity() (*IntegrityReport, error) {
	r := &IntegrityReport{Valid: true, PermissionsValid: true}

	rec, err := v.keystore.Inspect()
	switch {
	case err == nil:
		r.KeystoreValid = true
		r.KeystoreVersion = rec.Version
	case errors.Is(err, keystore.ErrNotFound):
		r.fail("keystore not found, run setup first")
	case errors.Is(err, keystore.ErrCorrupted), errors.Is(err, keystore.ErrUnsupportedVersion):
		r.fail("keystore: %v", err)
	default:
		return nil, err
	}

	if _, err := os.Stat(v.paths.ConfigFile()); err != nil {
		r.fail("configuration file not found")
	} else if cfg, err := config.Load(v.paths.ConfigFile()); err != nil {
		r.fail("configuration: %v", err)
	} else {
		r.ConfigValid = true
		if r.KeystoreValid && !cfg.IsSetUp() {
			r.warn("configuration has no master password hash")
		}
	}

	if _, err := os.Stat(v.paths.DatabaseFile()); err == nil {
		r.DatabaseExists = true
		result, err := v.store.IntegrityCheck()
		switch {
		case err != nil:
			r.fail("database: %v", err)
		case result != "ok":
			r.fail("database integrity check returned: %s", result)
		default:
			r.DatabaseIntegrity = true
		}
	} else {
		r.warn("database not created yet")
	}

	v.checkPermissions(r)
	v.checkDisk(r)
	return r, nil
}

func (v *Vault) checkPermissions(r *IntegrityReport) {
	paths := []string{
		v.paths.ConfigDir,
		v.paths.DataDir,
		v.paths.SessionDir,
		v.paths.ConfigFile(),
		v.paths.KeystoreFile(),
		v.paths.DatabaseFile(),
		v.paths.AuditDir(),
	}
	for _, p := range paths {
		private, err := fsutil.IsPrivate(p)
		if err != nil {
			continue
		}
		if !private {
			r.PermissionsValid = false
			r.fail("%s is accessible by other users", filepath.Base(p))
		}
	}
}

func (v *Vault) checkDisk(r *IntegrityReport) {
	ds, err := fsutil.FreeSpace(v.paths.DataDir)
	if errors.Is(err, fsutil.ErrUnsupported) {
		return
	}
	if err != nil {
		r.warn("disk space check failed: %v", err)
		return
	}
	r.Disk = ds
	if ds.Available < MinDiskSpaceBytes {
		r.fail("insufficient disk space: %d bytes available", ds.Available)
	} else if ds.UsedPct >= DiskWarningPercent {
		r.warn("disk is %d%% full", ds.UsedPct)
	}
}

// AuditVerify checks the audit log's HMAC chain. It requires an active
// session because the HMAC key is derived from the MEK.
func (v *Vault) AuditVerify() (*audit.VerifyResult, error) {
	var res *audit.VerifyResult
	err := v.withKey(func(mek []byte) error {
		if err := v.audit.SetKey(mek); err != nil {
			return err
		}
		var err error
		res, err = v.audit.Verify()
		return err
	})
	return res, err
}

// AuditEvents returns recent audit events; see audit.Logger.ListEvents.
func (v *Vault) AuditEvents(limit int, since time.Time) ([]audit.Event, error) {
	var events []audit.Event
	err := v.withKey(func([]byte) error {
		var err error
		events, err = v.audit.ListEvents(limit, since)
		return err
	})
	return events, err
}

// AuditSubject returns the keyed hash the audit log stores for an entry.
func (v *Vault) AuditSubject(platform, user string) (string, error) {
	var subject string
	err := v.withKey(func(mek []byte) error {
		if err := v.audit.SetKey(mek); err != nil {
			return err
		}
		subject = v.audit.Subject(normalizeName(platform), normalizeName(user))
		return nil
	})
	return subject, err
}
