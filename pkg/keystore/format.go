package keystore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/forest6511/rvault/pkg/crypto"
)

// Magic marks the start of a keystore record: "RVAULT\x00\x01".
var Magic = [8]byte{'R', 'V', 'A', 'U', 'L', 'T', 0x00, 0x01}

// FormatVersion is the record version written by this package.
const FormatVersion = 1

// AAD binds the wrapped MEK to this record format.
var AAD = []byte("rvault-keystore-v1")

const (
	// magic + version + flags + t + m + p + salt + nonce + ciphertext length
	headerLength = len(Magic) + 4*5 + crypto.SaltLength + crypto.NonceLength + 4
	crcLength    = 4

	maxCiphertextLength = 1024
)

// Record is the decoded keystore file.
type Record struct {
	Version    uint32
	Flags      uint32 // reserved, always 0
	Params     crypto.KDFParams
	Salt       [crypto.SaltLength]byte
	Nonce      [crypto.NonceLength]byte
	Ciphertext []byte
}

// MarshalBinary encodes the record with a trailing CRC-32.
func (r *Record) MarshalBinary() ([]byte, error) {
	if len(r.Ciphertext) == 0 || len(r.Ciphertext) > maxCiphertextLength {
		return nil, fmt.Errorf("keystore: invalid ciphertext length %d", len(r.Ciphertext))
	}

	buf := make([]byte, 0, headerLength+len(r.Ciphertext)+crcLength)
	buf = append(buf, Magic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, r.Version)
	buf = binary.LittleEndian.AppendUint32(buf, r.Flags)
	buf = binary.LittleEndian.AppendUint32(buf, r.Params.Time)
	buf = binary.LittleEndian.AppendUint32(buf, r.Params.MemoryKiB)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Params.Parallelism))
	buf = append(buf, r.Salt[:]...)
	buf = append(buf, r.Nonce[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Ciphertext)))
	buf = append(buf, r.Ciphertext...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

// ParseRecord decodes a keystore file. Any text before the magic tag is
// ignored, as are bytes after the checksum.
func ParseRecord(data []byte) (*Record, error) {
	start := bytes.Index(data, Magic[:])
	if start < 0 {
		return nil, fmt.Errorf("%w: magic not found", ErrCorrupted)
	}
	buf := data[start:]
	if len(buf) < headerLength+crcLength {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupted)
	}

	le := binary.LittleEndian
	off := len(Magic)
	next := func() uint32 {
		v := le.Uint32(buf[off:])
		off += 4
		return v
	}

	r := &Record{}
	r.Version = next()
	r.Flags = next()
	t, m, p := next(), next(), next()
	off += copy(r.Salt[:], buf[off:])
	off += copy(r.Nonce[:], buf[off:])
	ctLen := int(next())

	if ctLen == 0 || ctLen > maxCiphertextLength {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrCorrupted, ctLen)
	}
	end := headerLength + ctLen
	if len(buf) < end+crcLength {
		return nil, fmt.Errorf("%w: truncated ciphertext", ErrCorrupted)
	}
	if crc32.ChecksumIEEE(buf[:end]) != le.Uint32(buf[end:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	switch {
	case r.Version == 0:
		return nil, fmt.Errorf("%w: version 0", ErrCorrupted)
	case r.Version > FormatVersion:
		return nil, fmt.Errorf("%w: got %d, max supported %d", ErrUnsupportedVersion, r.Version, FormatVersion)
	}

	if p > math.MaxUint8 {
		return nil, fmt.Errorf("%w: parallelism %d", ErrCorrupted, p)
	}
	r.Params = crypto.KDFParams{Time: t, MemoryKiB: m, Parallelism: uint8(p)}
	if err := r.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	r.Ciphertext = append([]byte(nil), buf[headerLength:end]...)
	return r, nil
}
