// Package driver is the top-level facade over the SDCP fingerprint sensor
// core: it wires transport, finger-presence, SDCP session, claim
// persistence, and the Action FSMs (internal/action) behind the Action
// surface named in spec section 6 — probe, open, close, cancel, suspend,
// list, enroll, verify, identify, delete, clear. An external collaborator
// (a CLI, a TUI, a libfprint-style frontend) only ever talks to this
// package; everything under internal/ is plumbing.
package driver

import (
	"context"
	"crypto/x509"
	"sync"

	"github.com/google/gousb"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/action"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/adapter"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/claim"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/config"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/diag"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/presence"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/sdcp"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/transport"
)

// EnrollmentRecord re-exports the core's opaque enrolled-print identity so
// callers never need to import internal/action themselves.
type EnrollmentRecord = action.EnrollmentRecord

// ProgressEvent and ProgressFunc re-export the Enroll/Identify/Verify
// progress reporting surface.
type ProgressEvent = action.ProgressEvent
type ProgressFunc = action.ProgressFunc
type RetryHint = action.RetryHint

// IdentifyResult re-exports the Identify/Verify outcome type.
type IdentifyResult = action.IdentifyResult

// Driver is a single opened sensor. It is not safe for concurrent use by
// more than one caller at a time, matching the single-threaded cooperative
// scheduling model of the underlying FSMs (spec section 5); nothing rejects
// a second action started while one is running. Cancel, Suspend and
// CancelFingerWait may be called from another goroutine while an action
// runs.
type Driver struct {
	cfg    *config.DriverConfig
	usb    *transport.USBBackend
	core   *action.Core
	roots  *x509.CertPool
	serial string

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	suspended  bool
}

// Probe opens the USB device matching cfg's VID/PID, claims its bulk
// endpoints, and returns an unopened Driver. It does not run SDCP connect
// or any action FSM; call Open next. Host-side diagnostics (section 4.9)
// are attached to the returned error on IO/PROTO failure.
func Probe(cfg *config.DriverConfig, roots *x509.CertPool, deviceSerial string) (*Driver, error) {
	a := adapter.DefaultEgisMOC()

	usbBackend, err := transport.OpenUSBBackend(gousb.ID(cfg.USBVendorID), gousb.ID(cfg.USBProductID), a.EndpointBulkOut, a.EndpointBulkIn)
	if err != nil {
		if ae, ok := err.(*errs.Error); ok {
			ae.WithDiag(diag.Capture())
		}
		return nil, err
	}

	interruptBackend, err := usbBackend.InterruptBackend(a.EndpointInterrupt)
	if err != nil {
		usbBackend.Close()
		if ae, ok := err.(*errs.Error); ok {
			ae.WithDiag(diag.Capture())
		}
		return nil, err
	}

	store, err := claim.NewStore(cfg.ClaimStateDir)
	if err != nil {
		usbBackend.Close()
		return nil, err
	}

	sess, err := sdcp.New(true, a.ClaimExpirationSecs)
	if err != nil {
		usbBackend.Close()
		return nil, err
	}

	core := &action.Core{
		Transport:    transport.New(usbBackend),
		Waiter:       presence.NewWaiter(interruptBackend),
		Adapter:      a,
		Session:      sess,
		Claims:       store,
		DeviceSerial: deviceSerial,
	}

	return &Driver{cfg: cfg, usb: usbBackend, core: core, roots: roots, serial: deviceSerial}, nil
}

// Open runs the nudge-read/firmware-version sequence (spec section 4.6.1).
func (d *Driver) Open(ctx context.Context) error {
	return d.withCancel(ctx, d.core.Open)
}

// Close releases the underlying USB resources. It does not affect a
// persisted claim; a subsequent Probe/Open can reconnect without a fresh
// SDCP handshake if the claim is still live.
func (d *Driver) Close() error {
	return d.usb.Close()
}

// Cancel tears down only the currently running action's scope, per spec
// section 4.8: it cancels the context passed to the in-flight Action
// call, leaving the Driver itself usable for a subsequent action.
func (d *Driver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
}

// Suspend cancels both cancellation scopes of the running action (the
// action-wide one and the finger-wait one), then marks the Driver as
// suspended; subsequent Action calls fail fast with errs.Cancelled until
// Resume is called. The USB interface stays claimed and the claim file is
// kept, so a host can quiesce the device (e.g. system sleep) without
// destroying state.
func (d *Driver) Suspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	d.core.CancelFingerWait()
	d.suspended = true
}

// Resume clears a prior Suspend.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
}

// CancelFingerWait aborts only the in-flight finger-presence poll, the
// narrower of the two cancellation scopes spec section 5 names for a
// device: unlike Cancel, it does not cancel the running action's context.
// The running Enroll, Identify or Verify call does not continue past the
// aborted WAIT_FINGER state, though: it returns the errs.Cancelled error
// from that wait. The session and the persisted claim are left intact.
func (d *Driver) CancelFingerWait() {
	d.core.CancelFingerWait()
}

func (d *Driver) withCancel(ctx context.Context, fn func(context.Context) error) error {
	runCtx, cancel, err := d.beginAction(ctx)
	if err != nil {
		return err
	}
	defer d.endAction()
	defer cancel()
	return fn(runCtx)
}

func (d *Driver) beginAction(ctx context.Context) (context.Context, context.CancelFunc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended {
		return nil, nil, errs.New(errs.Cancelled, "driver is suspended")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel
	return runCtx, cancel, nil
}

func (d *Driver) endAction() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelFunc = nil
}

// List returns every enrolled print's opaque record (spec section 4.6.2).
func (d *Driver) List(ctx context.Context) ([]EnrollmentRecord, error) {
	var out []EnrollmentRecord
	err := d.withCancel(ctx, func(runCtx context.Context) error {
		records, err := d.core.List(runCtx)
		out = records
		return err
	})
	return out, err
}

// Enroll runs the Enroll FSM (spec section 4.6.4).
func (d *Driver) Enroll(ctx context.Context, progress ProgressFunc) (EnrollmentRecord, error) {
	var out EnrollmentRecord
	err := d.withCancel(ctx, func(runCtx context.Context) error {
		rec, err := d.core.Enroll(runCtx, d.roots, d.cfg.ExpectedModel, progress)
		out = rec
		return err
	})
	return out, err
}

// Identify runs the Identify FSM (spec section 4.6.5) against the full
// gallery.
func (d *Driver) Identify(ctx context.Context, progress ProgressFunc) (IdentifyResult, error) {
	var out IdentifyResult
	err := d.withCancel(ctx, func(runCtx context.Context) error {
		result, err := d.core.Identify(runCtx, d.roots, d.cfg.ExpectedModel, progress)
		out = result
		return err
	})
	return out, err
}

// Verify runs the Verify FSM (spec section 4.6.5) against one candidate
// print.
func (d *Driver) Verify(ctx context.Context, candidate EnrollmentRecord, progress ProgressFunc) (bool, error) {
	var out bool
	err := d.withCancel(ctx, func(runCtx context.Context) error {
		matched, err := d.core.Verify(runCtx, d.roots, d.cfg.ExpectedModel, candidate, progress)
		out = matched
		return err
	})
	return out, err
}

// Delete removes a single enrolled print (spec section 4.6.3).
func (d *Driver) Delete(ctx context.Context, id EnrollmentRecord) error {
	return d.withCancel(ctx, func(runCtx context.Context) error {
		return d.core.Delete(runCtx, id)
	})
}

// Clear removes every enrolled print (spec section 4.6.3).
func (d *Driver) Clear(ctx context.Context) error {
	return d.withCancel(ctx, d.core.Clear)
}

// Status reports the currently running action and stage, for an embedding
// process's status introspection endpoint (spec section 4.10).
func (d *Driver) Status() action.ActionStatus {
	return d.core.Status()
}

// TransportStats reports cumulative transport activity (spec section
// 4.10).
func (d *Driver) TransportStats() transport.Stats {
	return d.core.Transport.Stats()
}

// Claims exposes the claim store so an embedding process can wire the
// status endpoint's ClaimQuery without reaching into internal/.
func (d *Driver) Claims() *claim.Store {
	return d.core.Claims
}

// Core exposes the underlying action.Core, for collaborators (the status
// endpoint, the enrollment console) that need to drive it directly rather
// than through this facade's cancel/suspend wrapping.
func (d *Driver) Core() *action.Core {
	return d.core
}

// DeviceSerial returns the serial this Driver was probed with.
func (d *Driver) DeviceSerial() string { return d.serial }

// ClaimExpirationSeconds returns the expiration window used when
// constructing or restoring a claim.
func (d *Driver) ClaimExpirationSeconds() int64 { return d.core.Adapter.ClaimExpirationSecs }
