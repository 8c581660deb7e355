// Package presence implements the Finger-presence FSM (spec section 4.3):
// poll the interrupt-IN endpoint until the sensor reports a finger present
// or a timeout elapses. Short reads are expected here, unlike the bulk
// Transport FSM — the device always returns the interrupt packet one byte
// short of the nominal buffer size.
package presence

import (
	"context"
	"time"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"
)

// State is the FSM's two public states.
type State int

const (
	NotOnSensor State = iota
	OnSensor
)

// Reader is the interrupt-IN transfer surface the FSM polls.
type Reader interface {
	InterruptRead(ctx context.Context, buf []byte) (int, error)
}

// Waiter drives Reader until it observes the finger-present suffix, a
// timeout, or cancellation.
type Waiter struct {
	reader       Reader
	readSize     int
	pollInterval time.Duration
}

// NewWaiter builds a Waiter with a default 64-byte interrupt buffer and a
// 20ms poll interval between reads.
func NewWaiter(reader Reader) *Waiter {
	return &Waiter{reader: reader, readSize: 64, pollInterval: 20 * time.Millisecond}
}

// WithReadSize overrides the interrupt-IN buffer size.
func (w *Waiter) WithReadSize(n int) *Waiter {
	w.readSize = n
	return w
}

// WithPollInterval overrides the delay between unsuccessful polls.
func (w *Waiter) WithPollInterval(d time.Duration) *Waiter {
	w.pollInterval = d
	return w
}

// Wait polls until the sensor reports a finger present (the response
// begins with the "SIGE" prefix and ends with fingerPresentSuffix),
// FINGER_TIMEOUT elapses, or ctx is cancelled (a dedicated cancellation
// handle distinct from the overall action cancellation, per spec section
// 4.3, so callers should pass a child context scoped to this wait only).
//
// Cancellation returns a Cancelled-kind error rather than panicking or
// propagating ctx.Err() directly, so the Action FSM can distinguish "user
// cancelled the finger wait" from "hardware timeout" without inspecting
// context internals.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration, fingerPresentSuffix []byte) error {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, w.readSize)

	for {
		if time.Now().After(deadline) {
			return errs.New(errs.Timeout, "finger presence poll timed out")
		}
		select {
		case <-ctx.Done():
			return errs.New(errs.Cancelled, "finger presence wait cancelled")
		default:
		}

		n, err := w.reader.InterruptRead(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return errs.New(errs.Cancelled, "finger presence wait cancelled")
			}
			// Short reads are expected on this endpoint; only a genuine
			// transfer error is terminal.
			return errs.Wrap(errs.IO, "interrupt read failed", err)
		}

		resp := buf[:n]
		if frame.ClassifyResponse(resp, frame.ResponsePrefix, fingerPresentSuffix) {
			return nil
		}

		select {
		case <-ctx.Done():
			return errs.New(errs.Cancelled, "finger presence wait cancelled")
		case <-time.After(w.pollInterval):
		}
	}
}
