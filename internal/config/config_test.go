package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvFileSetsFields(t *testing.T) {
	cfg := defaultConfig()
	parseEnvFile("EGISMOC_MODEL=egismoc-0638\nEGISMOC_USB_VENDOR_ID=0x27c6\n# comment\n\nEGISMOC_STATUS_ADDR=127.0.0.1:8611\n", cfg)

	assert.Equal(t, "egismoc-0638", cfg.ExpectedModel)
	assert.Equal(t, uint16(0x27c6), cfg.USBVendorID)
	assert.Equal(t, "127.0.0.1:8611", cfg.StatusAddr)
}

func TestParseEnvFileIgnoresMalformedLines(t *testing.T) {
	cfg := defaultConfig()
	before := *cfg
	parseEnvFile("not a valid line\n=noKey\n", cfg)
	assert.Equal(t, before, *cfg)
}

func TestApplyKVParsesHexVendorID(t *testing.T) {
	cfg := defaultConfig()
	applyKV("EGISMOC_USB_VENDOR_ID", "0x27c6", cfg)
	assert.Equal(t, uint16(0x27c6), cfg.USBVendorID)
}
