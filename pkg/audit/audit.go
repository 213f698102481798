// Package audit provides an append-only audit log with an HMAC chain for
// tamper detection.
//
// Records are JSON lines in one file per month. Each record carries a
// sequence number, the previous record's HMAC and its own HMAC, computed with
// a key derived from the MEK, so records cannot be edited, dropped or
// reordered without Verify noticing. Platform and user identifiers are
// stored only as keyed hashes.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/rvault/internal/fsutil"
	"github.com/forest6511/rvault/pkg/crypto"
)

// MinDiskSpace is the free space required before appending a record.
const MinDiskSpace = 1024 * 1024

const (
	eventVersion = 1
	genesis      = "genesis"
	metaFile     = "audit.meta"
	hkdfInfo     = "rvault-audit-v1"
)

// Operation types
const (
	OpVaultSetup        = "vault.setup"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"
	OpVaultCreate       = "vault.create"

	OpEntryAdd    = "entry.add"
	OpEntryGet    = "entry.get"
	OpEntryUpdate = "entry.update"
	OpEntryRemove = "entry.remove"
	OpEntryPin    = "entry.pin"
	OpEntryList   = "entry.list"

	OpConfigChange = "config.change"
)

// SourceCLI marks events recorded on behalf of the command line.
const SourceCLI = "cli"

// Results
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// ErrKeyNotSet indicates SetKey has not been called.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is one audit record as stored on disk.
type Event struct {
	Version   int               `json:"v"`
	ID        string            `json:"id"`
	Timestamp string            `json:"ts"` // RFC 3339, nanoseconds, UTC
	Operation string            `json:"op"`
	Vault     string            `json:"vault,omitempty"`
	Subject   string            `json:"subject,omitempty"` // HMAC of platform and user
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Result    string            `json:"result"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Context   map[string]string `json:"ctx,omitempty"`
	Chain     Chain             `json:"chain"`
}

// ErrorInfo describes a failed operation. Messages must not carry secrets.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Record is the input to Log.
type Record struct {
	Op       string
	Source   string
	Result   string
	Vault    string
	Platform string
	User     string
	Error    *ErrorInfo
	Context  map[string]string
}

// Logger appends chained records to a directory.
type Logger struct {
	dir       string
	hmacKey   []byte
	mu        sync.Mutex
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Logger) { l.logger = lg }
}

// NewLogger returns a Logger writing to dir. SetKey must be called before
// Log or Verify.
func NewLogger(dir string, opts ...Option) *Logger {
	l := &Logger{
		dir:       dir,
		prevHash:  genesis,
		sessionID: randomHex(16),
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// SetKey derives the HMAC key from the MEK with HKDF-SHA256 and loads the
// chain state.
func (l *Logger) SetKey(mek []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, mek, nil, []byte(hkdfInfo)), key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	crypto.SecureWipe(l.hmacKey)
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("audit chain state unreadable, starting a new chain", "error", err)
		}
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Close wipes the HMAC key.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	crypto.SecureWipe(l.hmacKey)
	l.hmacKey = nil
}

// Log appends a record.
func (l *Logger) Log(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.dir, fsutil.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := fsutil.RequireSpace(l.dir, MinDiskSpace); err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	if r.Source == "" {
		r.Source = SourceCLI
	}
	if r.Result == "" {
		r.Result = ResultSuccess
	}

	now := l.now().UTC()
	event := Event{
		Version:   eventVersion,
		ID:        eventID(now),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: r.Op,
		Vault:     r.Vault,
		Source:    r.Source,
		SessionID: l.sessionID,
		Result:    r.Result,
		Error:     r.Error,
		Context:   r.Context,
	}
	if r.Platform != "" || r.User != "" {
		event.Subject = l.Subject(r.Platform, r.User)
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(&event)

	if err := l.writeEvent(&event, now); err != nil {
		return err
	}

	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, vault, platform, user string) error {
	return l.Log(Record{Op: op, Vault: vault, Platform: platform, User: user})
}

// LogError records a failed operation.
func (l *Logger) LogError(op, vault, platform, user, code, msg string) error {
	return l.Log(Record{
		Op: op, Vault: vault, Platform: platform, User: user,
		Result: ResultError,
		Error:  &ErrorInfo{Code: code, Message: msg},
	})
}

// Subject returns the keyed hash stored for (platform, user). Callers can
// use it to find the records of one entry. It must be called after SetKey.
func (l *Logger) Subject(platform, user string) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(platform))
	mac.Write([]byte{0})
	mac.Write([]byte(user))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) sign(e *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(recordData(e))
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData serializes every field except the record's own HMAC.
func recordData(e *Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s|%s|",
		e.Version, e.ID, e.Timestamp, e.Operation, e.Vault, e.Subject, e.Source, e.SessionID, e.Result)
	if e.Error != nil {
		fmt.Fprintf(&b, "%q|%q", e.Error.Code, e.Error.Message)
	}
	b.WriteByte('|')

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%q=%q;", k, e.Context[k])
	}
	fmt.Fprintf(&b, "|%d|%s", e.Chain.Sequence, e.Chain.PrevHash)
	return b.Bytes()
}

func (l *Logger) writeEvent(e *Event, now time.Time) error {
	path := filepath.Join(l.dir, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, metaFile))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(l.dir, metaFile), data); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify walks every record and checks sequence, links and HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for i := range events {
		e := &events[i]
		result.RecordsTotal++

		if e.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", e.ID, expectedSeq, e.Chain.Sequence))
		}
		if e.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("chain broken at record %s", e.ID))
		}
		if !hmac.Equal([]byte(e.Chain.HMAC), []byte(l.sign(e))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("HMAC mismatch at record %s: possible tampering", e.ID))
		}

		expectedPrev = e.Chain.HMAC
		expectedSeq = e.Chain.Sequence + 1
	}

	if result.RecordsTotal > 0 && l.sequence != expectedSeq-1 {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(
			"log ends at sequence %d but %d records were written", expectedSeq-1, l.sequence))
	}
	return result, nil
}

// ListEvents returns events after since (zero means all), keeping the most
// recent limit (0 means no limit).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil || !ts.After(since) {
				continue
			}
			filtered = append(filtered, e)
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		fileEvents, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, e)
	}
	return events, sc.Err()
}

// eventID is a time-sortable identifier: 48 bits of milliseconds followed
// by 80 random bits, hex encoded.
func eventID(now time.Time) string {
	ms := now.UnixMilli()
	b := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		b[i] = byte(ms)
		ms >>= 8
	}
	if _, err := rand.Read(b[6:]); err != nil {
		return fmt.Sprintf("%x", now.UnixNano())
	}
	return hex.EncodeToString(b)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
