// Package sdcp implements the host side of the Secure Device Connection
// Protocol: key agreement with the sensor, derivation of session secrets,
// verification of device attestation, and the Authorized-Identity and
// enrollment-id MAC primitives (spec section 4.4). This package is the
// security boundary — every other component in this module trusts its
// outputs only.
package sdcp

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
)

const (
	labelApplication = "application"
	labelSymmetric   = "symmetric"

	macDomainConnect   = "connect"
	macDomainReconnect = "reconnect"
	macDomainIdentify  = "identify"
	macDomainEnroll    = "enroll"

	secretLen = 32
)

// ConnectResponse is the device->host message consumed by Connect (spec
// section 3, "ConnectResponse").
type ConnectResponse struct {
	DeviceRandom      [32]byte
	ModelCertificate  []byte // DER-encoded, variable length
	DevicePublicKey   [64]byte
	FirmwarePublicKey [64]byte
	FirmwareHash      [32]byte
	ModelSignature    [64]byte // r||s, ECDSA-P256
	DeviceSignature   [64]byte // r||s, ECDSA-P256
	ConnectMAC        [32]byte
}

// Session holds the per-device SDCP state (spec section 3). Once
// is_connected is true, none of the key materials mutate until Disconnect;
// Zeroize wipes the derived secrets, the host random and the enrollment
// nonce. The host private key is held in an *ecdh.PrivateKey and is not
// wiped.
type Session struct {
	hostPriv *ecdh.PrivateKey
	hostPub  []byte // 65B uncompressed X9.62

	hostRandom [32]byte

	z     [32]byte
	ms    [32]byte
	as    [32]byte
	kApp  [32]byte

	enrollNonce [32]byte
	haveNonce   bool

	isConnected         bool
	connectedUptime     time.Duration
	connectedRealtime   time.Time
	supportsReconnect   bool
	claimExpirationSecs int64

	// monotonicNow/wallNow are overridable for tests; default to the real
	// clocks. They must never be used to mutate key material, only for
	// liveness bookkeeping.
	monotonicNow func() time.Duration
	wallNow      func() time.Time
}

// New creates a fresh session with a newly generated P-256 host key pair
// and host random, for a device family with the given capability flags.
func New(supportsReconnect bool, claimExpirationSeconds int64) (*Session, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.General, "generate host key pair", err)
	}

	s := &Session{
		hostPriv:            priv,
		hostPub:             priv.PublicKey().Bytes(),
		supportsReconnect:   supportsReconnect,
		claimExpirationSecs: claimExpirationSeconds,
		monotonicNow:        monotonicClock,
		wallNow:             time.Now,
	}
	if _, err := rand.Read(s.hostRandom[:]); err != nil {
		return nil, errs.Wrap(errs.General, "generate host random", err)
	}
	return s, nil
}

var processStart = monotonicStart()

func monotonicStart() time.Time { return time.Now() }

// monotonicClock returns elapsed time since process start using Go's
// monotonic clock reading (time.Since retains the monotonic component).
func monotonicClock() time.Duration { return time.Since(processStart) }

// HostPublicKey returns the 65-byte uncompressed X9.62 host public key.
func (s *Session) HostPublicKey() []byte { return append([]byte(nil), s.hostPub...) }

// HostRandom returns the 32-byte host random chosen for this session.
func (s *Session) HostRandom() [32]byte { return s.hostRandom }

// IsConnected reports whether the session has a live, verified connection.
func (s *Session) IsConnected() bool { return s.isConnected }

// SupportsReconnect reports the device family's reconnect capability.
func (s *Session) SupportsReconnect() bool { return s.supportsReconnect }

// ApplicationSymmetricKey exposes K_app for components that need to embed
// it in a persisted claim (internal/claim). Callers must not log or
// otherwise leak this value.
func (s *Session) ApplicationSymmetricKey() [32]byte { return s.kApp }

// MasterSecret and ApplicationSecret are exposed for claim persistence
// only; see internal/claim.
func (s *Session) MasterSecret() [32]byte      { return s.ms }
func (s *Session) ApplicationSecret() [32]byte { return s.as }

// HostPrivateKeyBytes returns the 32-byte host private scalar, for
// persistence only.
func (s *Session) HostPrivateKeyBytes() [32]byte {
	var out [32]byte
	copy(out[:], s.hostPriv.Bytes())
	return out
}

// ConnectedRealtime and ConnectedUptime expose the connect bookkeeping
// fields for the claim store's liveness checks.
func (s *Session) ConnectedRealtime() time.Time    { return s.connectedRealtime }
func (s *Session) ConnectedUptime() time.Duration  { return s.connectedUptime }
func (s *Session) ClaimExpirationSeconds() int64   { return s.claimExpirationSecs }

// Restore rehydrates a session from previously persisted claim material
// (internal/claim), marking it connected without re-running key agreement.
// The caller (claim store) is responsible for having already validated
// liveness before calling this.
func Restore(ms, as, kApp [32]byte, hostPub [65]byte, hostPriv [32]byte, connectedRealtime time.Time, supportsReconnect bool, claimExpirationSeconds int64) (*Session, error) {
	priv, err := ecdh.P256().NewPrivateKey(hostPriv[:])
	if err != nil {
		return nil, errs.Wrap(errs.DataInvalid, "restore host private key", err)
	}
	s := &Session{
		hostPriv:            priv,
		hostPub:             append([]byte(nil), hostPub[:]...),
		ms:                  ms,
		as:                  as,
		kApp:                kApp,
		isConnected:         true,
		connectedRealtime:   connectedRealtime,
		connectedUptime:     monotonicClock(),
		supportsReconnect:   supportsReconnect,
		claimExpirationSecs: claimExpirationSeconds,
		monotonicNow:        monotonicClock,
		wallNow:             time.Now,
	}
	return s, nil
}

// Connect runs the SDCP "connect (initial, secure)" procedure (spec
// section 4.4.1) using caller-provided components (the "_ex" entry point
// of section 4.4.5). roots is the SDCP model-root trust anchor; expectedModel
// is compared against the model certificate's subject to ensure the cert
// corresponds to the advertised model.
func (s *Session) Connect(resp ConnectResponse, roots *x509.CertPool, expectedModel string) error {
	if s.isConnected {
		return errs.New(errs.General, "session already connected")
	}

	cert, err := x509.ParseCertificate(resp.ModelCertificate)
	if err != nil {
		return errs.Wrap(errs.DataInvalid, "parse model certificate", err)
	}
	if err := verifyModelChain(cert, roots, expectedModel); err != nil {
		return err
	}
	pkM, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errs.New(errs.DataInvalid, "model certificate does not carry an ECDSA public key")
	}

	pkD, err := rawToECDHPublicKey(resp.DevicePublicKey[:])
	if err != nil {
		return errs.Wrap(errs.DataInvalid, "parse device public key", err)
	}

	sharedX, err := s.hostPriv.ECDH(pkD)
	if err != nil {
		return errs.Wrap(errs.DataInvalid, "ECDH key agreement", err)
	}
	var z [32]byte
	copy(z[:], sharedX)

	// s_m = ECDSA-verify(pk_m, pk_d || pk_f || h_f)
	mMsg := concat(resp.DevicePublicKey[:], resp.FirmwarePublicKey[:], resp.FirmwareHash[:])
	if !verifyECDSA(pkM, mMsg, resp.ModelSignature) {
		return errs.New(errs.DataInvalid, "model signature s_m verification failed")
	}

	// s_d = ECDSA-verify(pk_d, r_d)
	pkDEcdsa, err := rawToECDSAPublicKey(resp.DevicePublicKey[:])
	if err != nil {
		return errs.Wrap(errs.DataInvalid, "parse device public key as ECDSA", err)
	}
	if !verifyECDSA(pkDEcdsa, resp.DeviceRandom[:], resp.DeviceSignature) {
		return errs.New(errs.DataInvalid, "device signature s_d verification failed")
	}

	ms := hkdfExtract(concat(s.hostRandom[:], resp.DeviceRandom[:]), z[:])
	as := hkdfExpand(ms, []byte(labelApplication), secretLen)
	kApp := hkdfExpand(as, []byte(labelSymmetric), secretLen)

	mPrime := hmacSum(kApp, concat(
		[]byte(macDomainConnect),
		s.hostRandom[:], resp.DeviceRandom[:],
		s.hostPub, resp.DevicePublicKey[:], resp.FirmwarePublicKey[:], resp.FirmwareHash[:],
	))
	if !constantTimeEqual(mPrime, resp.ConnectMAC[:]) {
		return errs.New(errs.DataInvalid, "secure connection could not be established")
	}

	copy(s.z[:], z[:])
	copy(s.ms[:], ms)
	copy(s.as[:], as)
	copy(s.kApp[:], kApp)
	s.isConnected = true
	s.connectedUptime = s.monotonicNow()
	s.connectedRealtime = s.wallNow()
	return nil
}

// ConnectFromBuffer is the buffer-level entry point of spec section 4.4.5:
// it self-parses a raw device byte stream (a two-byte big-endian length
// prefix for cert_m, followed by cert_m itself, followed by the fixed-size
// remaining fields in wire order) and must produce identical session state
// to Connect.
//
// Wire order after the length prefix: cert_m || r_d(32) || pk_d(64) ||
// pk_f(64) || h_f(32) || s_m(64) || s_d(64) || m(32).
func (s *Session) ConnectFromBuffer(buf []byte, roots *x509.CertPool, expectedModel string) error {
	resp, err := parseConnectBuffer(buf)
	if err != nil {
		return err
	}
	return s.Connect(*resp, roots, expectedModel)
}

func parseConnectBuffer(buf []byte) (*ConnectResponse, error) {
	if len(buf) < 2 {
		return nil, errs.New(errs.Proto, "connect buffer shorter than length prefix")
	}
	certLen := int(binary.BigEndian.Uint16(buf[:2]))
	rest := buf[2:]
	if len(rest) < certLen {
		return nil, errs.New(errs.Proto, "connect buffer shorter than declared certificate length")
	}
	certM := rest[:certLen]

	// Cross-check the declared length against the DER structure's own
	// encoded length, walking the SEQUENCE header rather than trusting
	// the device's two-byte prefix blindly.
	derLen, err := derEncodedLength(certM)
	if err != nil {
		return nil, errs.Wrap(errs.Proto, "walk model certificate DER length", err)
	}
	if derLen != len(certM) {
		return nil, errs.New(errs.Proto, fmt.Sprintf("certificate length mismatch: frame said %d, DER says %d", len(certM), derLen))
	}

	tail := rest[certLen:]
	const tailLen = 32 + 64 + 64 + 32 + 64 + 64 + 32
	if len(tail) < tailLen {
		return nil, errs.New(errs.Proto, "connect buffer truncated after certificate")
	}

	resp := &ConnectResponse{ModelCertificate: append([]byte(nil), certM...)}
	off := 0
	copy(resp.DeviceRandom[:], tail[off:off+32])
	off += 32
	copy(resp.DevicePublicKey[:], tail[off:off+64])
	off += 64
	copy(resp.FirmwarePublicKey[:], tail[off:off+64])
	off += 64
	copy(resp.FirmwareHash[:], tail[off:off+32])
	off += 32
	copy(resp.ModelSignature[:], tail[off:off+64])
	off += 64
	copy(resp.DeviceSignature[:], tail[off:off+64])
	off += 64
	copy(resp.ConnectMAC[:], tail[off:off+32])

	return resp, nil
}

// derEncodedLength walks a single DER TLV header (tag + length octets) and
// returns the total encoded length (header + content) of the first element
// in buf, per X.690 distinguished encoding rules.
func derEncodedLength(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, errors.New("too short for a DER header")
	}
	// buf[0] is the tag octet; skip it.
	lenByte := buf[1]
	if lenByte&0x80 == 0 {
		// Short form: length is lenByte itself.
		return 2 + int(lenByte), nil
	}
	numLenBytes := int(lenByte & 0x7F)
	if numLenBytes == 0 || numLenBytes > 4 {
		return 0, errors.New("unsupported DER long-form length")
	}
	if len(buf) < 2+numLenBytes {
		return 0, errors.New("truncated DER long-form length")
	}
	var contentLen int
	for i := 0; i < numLenBytes; i++ {
		contentLen = contentLen<<8 | int(buf[2+i])
	}
	return 2 + numLenBytes + contentLen, nil
}

func verifyModelChain(cert *x509.Certificate, roots *x509.CertPool, expectedModel string) error {
	if roots == nil {
		return errs.New(errs.General, "no model-root trust anchor configured")
	}
	opts := x509.VerifyOptions{Roots: roots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}
	if _, err := cert.Verify(opts); err != nil {
		return errs.Wrap(errs.DataInvalid, "model certificate does not chain to trust anchor", err)
	}
	if expectedModel != "" && cert.Subject.CommonName != expectedModel {
		return errs.New(errs.DataInvalid, fmt.Sprintf("model certificate subject %q does not match advertised model %q", cert.Subject.CommonName, expectedModel))
	}
	return nil
}

// Reconnect runs the SDCP reconnect procedure (spec section 4.4.2). Only
// valid for device families that advertise SupportsReconnect.
func (s *Session) Reconnect(deviceRandom [32]byte, mac [32]byte) error {
	if !s.supportsReconnect {
		return errs.New(errs.General, "device family does not support reconnect")
	}
	if !s.isConnected {
		return errs.New(errs.General, "reconnect requires an existing connected session")
	}
	expected := hmacSum(s.kApp[:], concat([]byte(macDomainReconnect), deviceRandom[:]))
	if !constantTimeEqual(expected, mac[:]) {
		return errs.New(errs.DataInvalid, "reconnect MAC verification failed")
	}
	s.connectedUptime = s.monotonicNow()
	s.connectedRealtime = s.wallNow()
	return nil
}

// VerifyAuthorizedIdentity verifies an Authorized-Identity MAC (spec
// section 4.4.3).
func (s *Session) VerifyAuthorizedIdentity(hostNonce [32]byte, enrollmentID [32]byte, mac [32]byte) error {
	expected := hmacSum(s.kApp[:], concat([]byte(macDomainIdentify), hostNonce[:], enrollmentID[:]))
	if !constantTimeEqual(expected, mac[:]) {
		return errs.New(errs.DataInvalid, "authorized identity MAC verification failed")
	}
	return nil
}

// GenerateEnrollmentID derives a deterministic 32-byte enrollment id from
// a device-supplied enrollment nonce (spec section 4.4.4).
func (s *Session) GenerateEnrollmentID(nonce [32]byte) [32]byte {
	sum := hmacSum(s.kApp[:], concat([]byte(macDomainEnroll), nonce[:]))
	var out [32]byte
	copy(out[:], sum)
	return out
}

// SetEnrollmentNonce stashes the device-supplied enrollment nonce on the
// session for the duration of an Enroll action (spec section 4.6.4); it is
// zeroized by ClearEnrollmentNonce at the end of the action.
func (s *Session) SetEnrollmentNonce(nonce [32]byte) {
	s.enrollNonce = nonce
	s.haveNonce = true
}

// EnrollmentNonce returns the stashed enrollment nonce, if any.
func (s *Session) EnrollmentNonce() ([32]byte, bool) { return s.enrollNonce, s.haveNonce }

// ClearEnrollmentNonce zeroizes the stashed enrollment nonce.
func (s *Session) ClearEnrollmentNonce() {
	for i := range s.enrollNonce {
		s.enrollNonce[i] = 0
	}
	s.haveNonce = false
}

// Disconnect marks the session disconnected and zeroizes secret material.
func (s *Session) Disconnect() {
	s.isConnected = false
	s.Zeroize()
}

// Zeroize wipes Z, MS, AS, K_app, the host random and the enrollment
// nonce; the host private key is not wiped. Safe to call multiple times.
func (s *Session) Zeroize() {
	zero(s.z[:])
	zero(s.ms[:])
	zero(s.as[:])
	zero(s.kApp[:])
	zero(s.hostRandom[:])
	s.ClearEnrollmentNonce()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func hmacSum(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// hkdfExtract implements RFC 5869's HKDF-Extract, which is exactly one
// HMAC call: PRK = HMAC-Hash(salt, IKM).
func hkdfExtract(salt, ikm []byte) []byte {
	return hmacSum(salt, ikm)
}

// hkdfExpand implements RFC 5869's HKDF-Expand via golang.org/x/crypto/hkdf.
func hkdfExpand(prk, info []byte, length int) []byte {
	r := hkdf.Expand(sha256.New, prk, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("sdcp: hkdf expand: %v", err))
	}
	return out
}

// rawToECDHPublicKey converts a 64-byte raw (X||Y) P-256 point into an
// *ecdh.PublicKey by prepending the uncompressed-point tag byte.
func rawToECDHPublicKey(raw64 []byte) (*ecdh.PublicKey, error) {
	if len(raw64) != 64 {
		return nil, fmt.Errorf("expected 64-byte raw point, got %d", len(raw64))
	}
	uncompressed := append([]byte{0x04}, raw64...)
	return ecdh.P256().NewPublicKey(uncompressed)
}

// rawToECDSAPublicKey converts the same 64-byte raw point into an
// *ecdsa.PublicKey for ECDSA verification.
func rawToECDSAPublicKey(raw64 []byte) (*ecdsa.PublicKey, error) {
	if len(raw64) != 64 {
		return nil, fmt.Errorf("expected 64-byte raw point, got %d", len(raw64))
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(raw64[:32])
	y := new(big.Int).SetBytes(raw64[32:])
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("point is not on P-256")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// verifyECDSA verifies a raw r||s (64-byte) ECDSA-P256 signature over msg.
func verifyECDSA(pub *ecdsa.PublicKey, msg []byte, sig [64]byte) bool {
	digest := sha256.Sum256(msg)
	r := new(big.Int).SetBytes(sig[:32])
	sVal := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest[:], r, sVal)
}
