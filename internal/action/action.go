// Package action implements the single-threaded cooperative Action FSMs
// (spec section 4.6): Open, List, Delete/Clear, Enroll, and
// Identify/Verify. Each composes vendor command payloads via internal/frame
// and internal/adapter, drives them through internal/transport and
// internal/presence, and consults internal/sdcp for session/security
// operations. Only one action runs per device at a time — Core carries no
// internal concurrency of its own.
package action

import (
	"context"
	"crypto/x509"
	"sync"
	"time"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/adapter"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/claim"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/diag"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/presence"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/sdcp"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/transport"
)

// EnrollmentRecord is the opaque, core-visible representation of one
// enrolled fingerprint (spec section 3): a 32-byte enrollment id, nothing
// else.
type EnrollmentRecord struct {
	EnrollmentID [32]byte
}

// RetryHint names why a capture stage needs to be retried, surfaced to an
// external collaborator (e.g. a TUI) for user guidance.
type RetryHint int

const (
	RetryHintNone RetryHint = iota
	RetryHintCenterFinger
	RetryHintRemoveFinger
	RetryHintCleanSensor
)

// ProgressEvent reports one FSM transition to the caller. Stage names
// mirror the state names in spec section 4.6 so a consumer can log or
// render them without the core inventing separate vocabulary.
type ProgressEvent struct {
	Stage          string
	StagesComplete int
	StagesTotal    int
	Hint           RetryHint
}

// ProgressFunc receives ProgressEvents as an action runs. It must not
// block; it is called synchronously on the caller's goroutine.
type ProgressFunc func(ProgressEvent)

// Core bundles everything one Action FSM needs to drive a single device.
// It is not safe for concurrent use: only one action runs at a time, by
// construction of the larger driver that owns a Core.
type Core struct {
	Transport     *transport.Transport
	Waiter        *presence.Waiter
	Adapter       *adapter.Adapter
	Session       *sdcp.Session
	Claims        *claim.Store
	DeviceSerial  string
	FingerTimeout time.Duration

	statusMu     sync.Mutex
	activeAction string
	activeStage  string

	waitMu     sync.Mutex
	waitCancel context.CancelFunc
}

// ActionStatus reports what Core is doing right now, for the read-only
// status introspection endpoint (spec section 4.10). ActiveAction is empty
// when no action is running.
type ActionStatus struct {
	ActiveAction string
	ActiveStage  string
}

// Status returns the currently running action (if any) and its last
// reported stage. Safe to call concurrently with any Core method.
func (c *Core) Status() ActionStatus {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return ActionStatus{ActiveAction: c.activeAction, ActiveStage: c.activeStage}
}

// trackAction wraps progress so every stage transition also updates the
// status snapshot, and returns a done func that clears the active action;
// callers defer it. Callers pass their real progress func (or nil) through
// as inner.
func (c *Core) trackAction(name string, inner ProgressFunc) (ProgressFunc, func()) {
	c.statusMu.Lock()
	c.activeAction = name
	c.activeStage = ""
	c.statusMu.Unlock()

	wrapped := func(ev ProgressEvent) {
		c.statusMu.Lock()
		c.activeStage = ev.Stage
		c.statusMu.Unlock()
		if inner != nil {
			inner(ev)
		}
	}
	done := func() {
		c.statusMu.Lock()
		c.activeAction = ""
		c.activeStage = ""
		c.statusMu.Unlock()
	}
	return wrapped, done
}

// waitForFinger runs the Finger-presence FSM under a context derived from
// ctx but cancellable independently of it: spec section 5 names two
// cancellation scopes per device, an action-wide one and a finger-wait one
// that only aborts the interrupt poll. CancelFingerWait triggers the
// narrower scope; cancelling ctx itself (the action-wide scope) still
// aborts the wait too, since waitCtx is its child.
func (c *Core) waitForFinger(ctx context.Context, fingerPresentSuffix []byte) error {
	waitCtx, cancel := context.WithCancel(ctx)
	c.waitMu.Lock()
	c.waitCancel = cancel
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		c.waitCancel = nil
		c.waitMu.Unlock()
		cancel()
	}()
	return c.Waiter.Wait(waitCtx, c.fingerTimeout(), fingerPresentSuffix)
}

// CancelFingerWait aborts only the in-flight finger-presence poll, if any,
// without affecting the rest of the currently running action's context.
// Safe to call whether or not a wait is in flight.
func (c *Core) CancelFingerWait() {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	if c.waitCancel != nil {
		c.waitCancel()
	}
}

func (c *Core) fingerTimeout() time.Duration {
	if c.FingerTimeout > 0 {
		return c.FingerTimeout
	}
	return 10 * time.Second
}

// exec is a thin wrapper turning a transport.Result into (payload, error)
// so action code reads as ordinary Go error handling.
func (c *Core) exec(ctx context.Context, payload []byte, shortIsError bool) ([]byte, error) {
	res := c.Transport.Exec(ctx, payload, shortIsError)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Response, nil
}

// responsePayload strips the fixed "SIGE" header and 2-byte status-check
// region (spec section 3, "Response envelope") common to every response,
// leaving the bytes that adapter-supplied prefix patterns (as opposed to
// suffix patterns, which only look at the tail and don't need stripping)
// are defined against.
func responsePayload(resp []byte) ([]byte, error) {
	payload, err := frame.StripResponsePrefix(resp, 2)
	if err != nil {
		return nil, errs.Wrap(errs.Proto, "response shorter than the fixed status region", err)
	}
	return payload, nil
}

// Open performs the five nudge reads followed by a firmware-version read
// (spec section 4.6.1). The nudge reads use the bulk endpoint with no
// outgoing payload, flushing any stale state left by a prior session
// before the device is asked for its firmware identity.
func (c *Core) Open(ctx context.Context) error {
	_, done := c.trackAction("open", nil)
	defer done()

	const nudgeReads = 5
	for i := 0; i < nudgeReads; i++ {
		if _, err := c.exec(ctx, nil, false); err != nil {
			return errs.Wrap(errs.IO, "device open nudge read failed", err).WithDiag(diag.Capture())
		}
	}

	resp, err := c.exec(ctx, frame.BuildRequest(c.Adapter.FwVersion), true)
	if err != nil {
		if ae, ok := err.(*errs.Error); ok {
			ae.WithDiag(diag.Capture())
		}
		return err
	}
	if !frame.ClassifyResponse(resp, nil, c.Adapter.FwVersionSuffix) {
		return errs.New(errs.Proto, "firmware version read did not end with the expected suffix").WithDiag(diag.Capture())
	}
	return nil
}

// connectIfNeeded runs SDCP connect unless a live claim already exists,
// skipping the network round-trip per spec section 4.5's policy. It is
// shared by Enroll and Identify/Verify, both of which start with
// SDCP_CONNECT.
func (c *Core) connectIfNeeded(ctx context.Context, roots *x509.CertPool, expectedModel string, progress ProgressFunc) error {
	progress(ProgressEvent{Stage: "SDCP_CONNECT"})

	if c.Claims != nil {
		cl, state, err := c.Claims.Load(c.DeviceSerial, c.Adapter.ClaimExpirationSecs, time.Now())
		if err != nil {
			return err
		}
		if state == claim.StateLive {
			restored, err := sdcp.Restore(
				cl.MasterSecret, cl.ApplicationSecret, cl.ApplicationSymmetric,
				cl.HostPublicKey, cl.HostPrivateKey, cl.ConnectedRealtime,
				cl.SupportsReconnect, c.Adapter.ClaimExpirationSecs,
			)
			if err != nil {
				return err
			}
			c.Session = restored
			return nil
		}
	}

	connectResp, err := c.exec(ctx, frame.BuildRequest(c.Adapter.ConnectPrefix), true)
	if err != nil {
		return err
	}
	connectPayload, err := frame.StripResponsePrefix(connectResp, c.Adapter.ConnectResponsePrefixSize-len(frame.ResponsePrefix))
	if err != nil {
		return errs.Wrap(errs.Proto, "connect response shorter than fixed prefix", err)
	}
	if err := c.Session.ConnectFromBuffer(connectPayload, roots, expectedModel); err != nil {
		return err
	}

	if c.Claims != nil {
		cl := &claim.Claim{
			MasterSecret:         c.Session.MasterSecret(),
			ApplicationSecret:    c.Session.ApplicationSecret(),
			ApplicationSymmetric: c.Session.ApplicationSymmetricKey(),
			ConnectedRealtime:    c.Session.ConnectedRealtime(),
			SupportsReconnect:    c.Session.SupportsReconnect(),
		}
		copy(cl.HostPublicKey[:], c.Session.HostPublicKey())
		copy(cl.HostPrivateKey[:], c.Session.HostPrivateKeyBytes())
		if err := c.Claims.Save(c.DeviceSerial, cl); err != nil {
			return err
		}
	}
	return nil
}

// getEnrolledIDs issues GET_ENROLLED_IDS (spec section 4.6.2): the list
// command, its reply stepped past a fixed prefix, then read as a run of
// 32-byte ids until the buffer is exhausted.
func (c *Core) getEnrolledIDs(ctx context.Context) ([]EnrollmentRecord, error) {
	resp, err := c.exec(ctx, frame.BuildRequest(c.Adapter.List), true)
	if err != nil {
		return nil, err
	}
	payload, err := frame.StripResponsePrefix(resp, c.Adapter.ListResponsePrefixSize-len(frame.ResponsePrefix))
	if err != nil {
		return nil, errs.Wrap(errs.Proto, "list response shorter than fixed prefix", err)
	}

	var records []EnrollmentRecord
	for len(payload) >= 32 {
		var rec EnrollmentRecord
		copy(rec.EnrollmentID[:], payload[:32])
		records = append(records, rec)
		payload = payload[32:]
	}
	return records, nil
}

// List runs GET_ENROLLED_IDS then RETURN_PRINTS (spec section 4.6.2).
func (c *Core) List(ctx context.Context) ([]EnrollmentRecord, error) {
	_, done := c.trackAction("list", nil)
	defer done()
	return c.getEnrolledIDs(ctx)
}
