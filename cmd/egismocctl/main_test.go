package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnrollmentIDAcceptsValidHex(t *testing.T) {
	id, err := parseEnrollmentID("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), id.EnrollmentID[0])
	assert.Equal(t, byte(0x20), id.EnrollmentID[31])
}

func TestParseEnrollmentIDRejectsWrongLength(t *testing.T) {
	_, err := parseEnrollmentID("0102")
	require.Error(t, err)
}

func TestParseEnrollmentIDRejectsNonHex(t *testing.T) {
	_, err := parseEnrollmentID("not-hex-at-all-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	require.Error(t, err)
}
