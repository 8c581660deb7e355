// Package config loads driver configuration the same way the rest of this
// codebase's lineage does: a .env file in the project root, overridden by
// environment variables of the same name.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DriverConfig holds the settings needed to locate the sensor, validate its
// attestation, and (optionally) expose the status introspection endpoint.
type DriverConfig struct {
	USBVendorID   uint16
	USBProductID  uint16
	ExpectedModel string
	ClaimStateDir string
	StatusAddr    string // empty disables the status endpoint
}

var (
	driverConfig *DriverConfig
	configLoaded bool
)

// Load reads .env (if present) then applies environment-variable
// overrides, caching the result for subsequent calls.
func Load() (*DriverConfig, error) {
	if driverConfig != nil && configLoaded {
		return driverConfig, nil
	}

	cfg := defaultConfig()

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	applyEnvOverrides(cfg)

	driverConfig = cfg
	configLoaded = true
	return cfg, nil
}

func defaultConfig() *DriverConfig {
	return &DriverConfig{
		USBVendorID:   0x1c7a,
		USBProductID:  0x0603,
		ExpectedModel: "egismoc-generic",
		ClaimStateDir: defaultClaimStateDir(),
		StatusAddr:    "",
	}
}

func defaultClaimStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "egismocctl", "claims")
	}
	return filepath.Join(".", ".egismocctl-claims")
}

func parseEnvFile(content string, cfg *DriverConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		applyKV(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), cfg)
	}
}

func applyEnvOverrides(cfg *DriverConfig) {
	for _, key := range []string{"EGISMOC_USB_VENDOR_ID", "EGISMOC_USB_PRODUCT_ID", "EGISMOC_MODEL", "EGISMOC_CLAIM_STATE_DIR", "EGISMOC_STATUS_ADDR"} {
		if v := os.Getenv(key); v != "" {
			applyKV(key, v, cfg)
		}
	}
}

func applyKV(key, value string, cfg *DriverConfig) {
	switch key {
	case "EGISMOC_USB_VENDOR_ID":
		if n, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 16); err == nil {
			cfg.USBVendorID = uint16(n)
		}
	case "EGISMOC_USB_PRODUCT_ID":
		if n, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 16); err == nil {
			cfg.USBProductID = uint16(n)
		}
	case "EGISMOC_MODEL":
		cfg.ExpectedModel = value
	case "EGISMOC_CLAIM_STATE_DIR":
		cfg.ClaimStateDir = value
	case "EGISMOC_STATUS_ADDR":
		cfg.StatusAddr = value
	}
}

func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
