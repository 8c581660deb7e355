package action

import (
	"bytes"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/adapter"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/errs"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/frame"

	"context"
)

// sizeCounter encodes n per the non-linear two-byte formula documented in
// spec section 4.6.3. term is added to byte2 for n<=7 (and to the n>7
// branch's offset component); pass 0 for the second size field, which the
// spec says "uses the same formula without the +0x07/+0x09 term".
func sizeCounter(n, term int) (byte, byte) {
	if n <= 7 {
		return 0x00, byte(n*0x20 + term)
	}
	return 0x01, byte((n-8)*0x20 + term)
}

// deleteFirstSizeField is the first size field of a delete command body.
func deleteFirstSizeField(n int) (byte, byte) { return sizeCounter(n, 0x07) }

// checkFirstSizeField is the first size field of a check command body
// (identify/verify, spec section 4.6.5); note the +1/+0x09 asymmetry on
// the n<=7 branch only matches the delete formula's shape, not its
// constant, so it is spelled out rather than reusing sizeCounter's term
// parameter.
func checkFirstSizeField(n int) (byte, byte) {
	if n <= 7 {
		return 0x00, byte((n+1)*0x20 + 0x09)
	}
	return 0x01, byte((n-7)*0x20 + 0x09)
}

// secondSizeField is the shared second size field for both delete and
// check command bodies.
func secondSizeField(n int) (byte, byte) { return sizeCounter(n, 0) }

// buildDeleteBody constructs the delete/clear command body (spec section
// 4.6.3): 00 00 || size_hi size_lo || delete_prefix || size_hi' size_lo'
// || concat(ids).
func buildDeleteBody(a *adapter.Adapter, ids []EnrollmentRecord) ([]byte, error) {
	n := len(ids)
	if n > adapter.MaxSupportedDeleteCount {
		return nil, errs.New(errs.DataInvalid, "delete/clear count exceeds the supported encoding range")
	}

	hi, lo := deleteFirstSizeField(n)
	hi2, lo2 := secondSizeField(n)

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00})
	buf.Write([]byte{hi, lo})
	buf.Write(a.DeletePrefix)
	buf.Write([]byte{hi2, lo2})
	for _, rec := range ids {
		buf.Write(rec.EnrollmentID[:])
	}
	return buf.Bytes(), nil
}

// Delete removes a single enrollment id (spec section 4.6.3). Like Clear, it
// runs GET_ENROLLED_IDS before DELETE even though the id to remove is
// already known to the caller, matching the device's own unconditional
// DELETE_GET_ENROLLED_IDS -> DELETE_DELETE state sequence.
func (c *Core) Delete(ctx context.Context, id EnrollmentRecord) error {
	_, done := c.trackAction("delete", nil)
	defer done()

	if _, err := c.getEnrolledIDs(ctx); err != nil {
		return err
	}
	return c.deleteOrClear(ctx, []EnrollmentRecord{id})
}

// Clear removes every enrolled print on the device. The device rejects a
// clear when no enrollments exist; the core pre-checks and raises
// DATA_NOT_FOUND without contacting the device.
func (c *Core) Clear(ctx context.Context) error {
	_, done := c.trackAction("clear", nil)
	defer done()

	ids, err := c.getEnrolledIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errs.New(errs.DataNotFound, "no enrollments to clear")
	}
	return c.deleteOrClear(ctx, ids)
}

func (c *Core) deleteOrClear(ctx context.Context, ids []EnrollmentRecord) error {
	body, err := buildDeleteBody(c.Adapter, ids)
	if err != nil {
		return err
	}
	resp, err := c.exec(ctx, frame.BuildRequest(body), true)
	if err != nil {
		return err
	}
	payload, err := responsePayload(resp)
	if err != nil {
		return err
	}
	if !frame.ClassifyResponse(payload, c.Adapter.DeleteSuccessPrefix, nil) {
		return errs.New(errs.Proto, "delete/clear response did not match the success prefix")
	}
	return nil
}
