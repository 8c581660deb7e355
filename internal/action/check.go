package action

import (
	"bytes"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/adapter"
)

// buildCheckBody constructs the shared CHECK command body used by both the
// Enroll action's duplicate check and Identify/Verify (spec section
// 4.6.5): 00 00 || size_hi size_lo || check_prefix || size_hi' size_lo' ||
// 32B identify-nonce || concat(enrolled ids) || check_suffix. The identify
// nonce is all-zero for this device family.
func buildCheckBody(a *adapter.Adapter, ids []EnrollmentRecord) []byte {
	n := len(ids)
	hi, lo := checkFirstSizeField(n)
	hi2, lo2 := secondSizeField(n)

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00})
	buf.Write([]byte{hi, lo})
	buf.Write(a.CheckPrefix())
	buf.Write([]byte{hi2, lo2})
	buf.Write(make([]byte, 32)) // identify-nonce, all-zero for this family
	for _, rec := range ids {
		buf.Write(rec.EnrollmentID[:])
	}
	buf.Write(a.CheckSuffix)
	return buf.Bytes()
}
