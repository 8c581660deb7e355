// Package claim implements the persisted-claim lifecycle of spec section
// 4.5: an opaque per-device file holding serialized SDCP session material,
// modeled as a three-state machine (empty, live, expired) per spec section
// 9's design notes. Direct field mutation from outside the store is
// forbidden by construction — callers only ever see a Claim value copied
// out of Load, or hand one to Save.
package claim

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
)

// fileVersion is the binary layout version written to the claim file
// (spec section 6, "Persisted claim file").
const fileVersion uint32 = 1

// recordLen is the fixed on-disk size: u32 version + u64 realtime seconds +
// 32+32+32 secrets + 65 host pubkey + 32 host privkey + 1 reconnect flag.
const recordLen = 4 + 8 + 32 + 32 + 32 + 65 + 32 + 1

// Claim is the serialized SDCP session material persisted across process
// invocations.
type Claim struct {
	MasterSecret        [32]byte
	ApplicationSecret    [32]byte
	ApplicationSymmetric [32]byte
	HostPublicKey        [65]byte
	HostPrivateKey       [32]byte
	ConnectedRealtime    time.Time
	SupportsReconnect    bool
}

// State is the claim store's three-state lifecycle.
type State int

const (
	StateEmpty State = iota
	StateLive
	StateExpired
)

// Store persists one claim file per device identity under dir, named by
// the device's serial number.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir (a per-user state directory). dir
// is created with 0700 permissions if it does not already exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.General, "create claim state directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(deviceSerial string) string {
	return filepath.Join(s.dir, deviceSerial+".claim")
}

// Load reads the claim for deviceSerial and reports its lifecycle state
// against claimExpirationSeconds. On expiry or any validation error, the
// file is deleted (spec section 4.5, "Policy"); Load then returns
// (nil, StateExpired, nil) for an expired claim and (nil, StateEmpty, nil)
// for a corrupt one — expiry/corruption is not itself an error to the
// caller, only a reason there is no live claim.
func (s *Store) Load(deviceSerial string, claimExpirationSeconds int64, now time.Time) (*Claim, State, error) {
	path := s.path(deviceSerial)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, StateEmpty, nil
		}
		return nil, StateEmpty, errs.Wrap(errs.IO, "read claim file", err)
	}

	c, err := decode(data)
	if err != nil {
		// Corrupt claim: treat as empty, remove the bad file.
		_ = s.Delete(deviceSerial)
		return nil, StateEmpty, nil
	}

	age := now.Sub(c.ConnectedRealtime)
	if age < 0 || age > time.Duration(claimExpirationSeconds)*time.Second {
		_ = s.Delete(deviceSerial)
		return nil, StateExpired, nil
	}

	return c, StateLive, nil
}

// Save persists c for deviceSerial with 0600 permissions.
func (s *Store) Save(deviceSerial string, c *Claim) error {
	data := encode(c)
	path := s.path(deviceSerial)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.IO, "write claim file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.IO, "rename claim file into place", err)
	}
	return nil
}

// Delete removes the persisted claim for deviceSerial, if any. It is also
// exposed for explicit test/teardown use (spec section 4.5).
func (s *Store) Delete(deviceSerial string) error {
	err := os.Remove(s.path(deviceSerial))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IO, "delete claim file", err)
	}
	return nil
}

func encode(c *Claim) []byte {
	buf := make([]byte, recordLen)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], fileVersion)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(c.ConnectedRealtime.Unix()))
	off += 8
	off += copy(buf[off:], c.MasterSecret[:])
	off += copy(buf[off:], c.ApplicationSecret[:])
	off += copy(buf[off:], c.ApplicationSymmetric[:])
	off += copy(buf[off:], c.HostPublicKey[:])
	off += copy(buf[off:], c.HostPrivateKey[:])
	if c.SupportsReconnect {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	return buf
}

func decode(data []byte) (*Claim, error) {
	if len(data) != recordLen {
		return nil, fmt.Errorf("claim: unexpected record length %d, want %d", len(data), recordLen)
	}
	off := 0
	version := binary.BigEndian.Uint32(data[off:])
	off += 4
	if version != fileVersion {
		return nil, fmt.Errorf("claim: unsupported version %d", version)
	}
	realtimeSecs := binary.BigEndian.Uint64(data[off:])
	off += 8

	c := &Claim{ConnectedRealtime: time.Unix(int64(realtimeSecs), 0)}
	off += copy(c.MasterSecret[:], data[off:off+32])
	off += copy(c.ApplicationSecret[:], data[off:off+32])
	off += copy(c.ApplicationSymmetric[:], data[off:off+32])
	off += copy(c.HostPublicKey[:], data[off:off+65])
	off += copy(c.HostPrivateKey[:], data[off:off+32])
	c.SupportsReconnect = data[off] != 0

	return c, nil
}

// Zeroize overwrites the secret-bearing fields of c in place. Callers that
// hold a *Claim after handing its key material to an sdcp.Session should
// zeroize their own copy once the session has taken ownership.
func (c *Claim) Zeroize() {
	for i := range c.MasterSecret {
		c.MasterSecret[i] = 0
	}
	for i := range c.ApplicationSecret {
		c.ApplicationSecret[i] = 0
	}
	for i := range c.ApplicationSymmetric {
		c.ApplicationSymmetric[i] = 0
	}
	for i := range c.HostPrivateKey {
		c.HostPrivateKey[i] = 0
	}
}
