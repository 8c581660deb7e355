package claim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleClaim(connectedAt time.Time) *Claim {
	c := &Claim{ConnectedRealtime: connectedAt, SupportsReconnect: true}
	for i := range c.MasterSecret {
		c.MasterSecret[i] = byte(i)
	}
	for i := range c.ApplicationSecret {
		c.ApplicationSecret[i] = byte(i + 1)
	}
	for i := range c.ApplicationSymmetric {
		c.ApplicationSymmetric[i] = byte(i + 2)
	}
	for i := range c.HostPublicKey {
		c.HostPublicKey[i] = byte(i + 3)
	}
	for i := range c.HostPrivateKey {
		c.HostPrivateKey[i] = byte(i + 4)
	}
	return c
}

func TestLoadEmptyWhenNoFile(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	c, state, err := s.Load("dev-serial", 3600, time.Now())
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, StateEmpty, state)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	want := sampleClaim(now)
	require.NoError(t, s.Save("dev-serial", want))

	got, state, err := s.Load("dev-serial", 3600, now.Add(time.Hour/2))
	require.NoError(t, err)
	require.Equal(t, StateLive, state)
	require.NotNil(t, got)
	assert.Equal(t, want.MasterSecret, got.MasterSecret)
	assert.Equal(t, want.ApplicationSecret, got.ApplicationSecret)
	assert.Equal(t, want.ApplicationSymmetric, got.ApplicationSymmetric)
	assert.Equal(t, want.HostPublicKey, got.HostPublicKey)
	assert.Equal(t, want.HostPrivateKey, got.HostPrivateKey)
	assert.Equal(t, want.SupportsReconnect, got.SupportsReconnect)
	assert.Equal(t, want.ConnectedRealtime.Unix(), got.ConnectedRealtime.Unix())
}

func TestLoadExpiresAndDeletesStaleClaim(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.Save("dev-serial", sampleClaim(now)))

	c, state, err := s.Load("dev-serial", 3600, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, StateExpired, state)

	_, err = os.Stat(filepath.Join(dir, "dev-serial.claim"))
	assert.Error(t, err, "expired claim file should have been removed")
}

func TestLoadTreatsFutureConnectTimeAsExpired(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.Save("dev-serial", sampleClaim(now)))

	_, state, err := s.Load("dev-serial", 3600, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateExpired, state)
}

func TestLoadTreatsCorruptFileAsEmptyAndRemovesIt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "dev-serial.claim")
	require.NoError(t, os.WriteFile(path, []byte("not a claim"), 0o600))

	c, state, err := s.Load("dev-serial", 3600, time.Now())
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, StateEmpty, state)

	_, err = os.Stat(path)
	assert.Error(t, err)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Delete("never-existed"))
}

func TestZeroizeClearsClaimSecrets(t *testing.T) {
	c := sampleClaim(time.Now())
	c.Zeroize()
	assert.Equal(t, [32]byte{}, c.MasterSecret)
	assert.Equal(t, [32]byte{}, c.ApplicationSecret)
	assert.Equal(t, [32]byte{}, c.ApplicationSymmetric)
	assert.Equal(t, [32]byte{}, c.HostPrivateKey)
}
