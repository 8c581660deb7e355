// egismocctl is a reference CLI front-end for the egismoc SDCP driver:
// list/enroll/identify/verify/delete/clear subcommands over a single
// probed and opened device, with an interactive enroll TUI and an optional
// status HTTP server.
package main

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/config"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/statusapi"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/tui"
	"github.com/TenSeventy7/libfprint-egismoc-sdcp/pkg/driver"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <list|enroll|identify|verify|delete|clear> [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	serialFlag := flag.String("serial", "default", "device serial used to key the persisted claim")
	copyFlag := flag.Bool("copy", false, "copy the first enrollment id to the clipboard (list only)")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// The model-root pool is empty by default, so a fresh SDCP connect fails
	// attestation until a deployment adds its model-root certificate here;
	// only a still-live persisted claim lets enroll/identify/verify proceed.
	roots := x509.NewCertPool()

	d, err := driver.Probe(cfg, roots, *serialFlag)
	if err != nil {
		log.Fatalf("probe device: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		d.Cancel()
		cancel()
	}()

	if err := d.Open(ctx); err != nil {
		log.Fatalf("open device: %v", err)
	}

	if cfg.StatusAddr != "" {
		go runStatusServer(ctx, cfg, d)
	}

	switch flag.Arg(0) {
	case "list":
		runList(ctx, d, *copyFlag)
	case "enroll":
		runEnroll(ctx, d, roots, *copyFlag)
	case "identify":
		runIdentify(ctx, d)
	case "verify":
		runVerify(ctx, d, flag.Arg(1))
	case "delete":
		runDelete(ctx, d, flag.Arg(1))
	case "clear":
		runClear(ctx, d)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runStatusServer(ctx context.Context, cfg *config.DriverConfig, d *driver.Driver) {
	claims := statusapi.ClaimQuery{
		Store:                  d.Claims(),
		DeviceSerial:           d.DeviceSerial(),
		ClaimExpirationSeconds: d.ClaimExpirationSeconds(),
	}
	srv, err := statusapi.New(cfg.StatusAddr, d.Core(), d.Core().Transport, claims)
	if err != nil {
		log.Printf("status endpoint disabled: %v", err)
		return
	}
	if err := srv.Run(ctx); err != nil {
		log.Printf("status endpoint stopped: %v", err)
	}
}

func runList(ctx context.Context, d *driver.Driver, copyID bool) {
	records, err := d.List(ctx)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	for i, rec := range records {
		id := hex.EncodeToString(rec.EnrollmentID[:])
		fmt.Printf("%d: %s\n", i, id)
		if copyID && i == 0 {
			copyToClipboard(id)
		}
	}
}

func runEnroll(ctx context.Context, d *driver.Driver, roots *x509.CertPool, copyID bool) {
	model := tui.NewModel(d.Core(), roots, "")
	program := tea.NewProgram(model)
	final, err := program.Run()
	if err != nil {
		log.Fatalf("enroll console: %v", err)
	}
	_ = final
	if copyID {
		fmt.Println("note: --copy is only honored for the non-interactive list subcommand")
	}
}

func runIdentify(ctx context.Context, d *driver.Driver) {
	result, err := d.Identify(ctx, nil)
	if err != nil {
		log.Fatalf("identify: %v", err)
	}
	if !result.Matched {
		fmt.Println("no match")
		return
	}
	fmt.Printf("matched: %s\n", hex.EncodeToString(result.Record.EnrollmentID[:]))
}

func runVerify(ctx context.Context, d *driver.Driver, idHex string) {
	id, err := parseEnrollmentID(idHex)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	matched, err := d.Verify(ctx, id, nil)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	fmt.Println(matched)
}

func runDelete(ctx context.Context, d *driver.Driver, idHex string) {
	id, err := parseEnrollmentID(idHex)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	if err := d.Delete(ctx, id); err != nil {
		log.Fatalf("delete: %v", err)
	}
}

func runClear(ctx context.Context, d *driver.Driver) {
	if err := d.Clear(ctx); err != nil {
		log.Fatalf("clear: %v", err)
	}
}

func parseEnrollmentID(idHex string) (driver.EnrollmentRecord, error) {
	raw, err := hex.DecodeString(idHex)
	if err != nil || len(raw) != 32 {
		return driver.EnrollmentRecord{}, fmt.Errorf("enrollment id must be 32 bytes of hex, got %q", idHex)
	}
	var rec driver.EnrollmentRecord
	copy(rec.EnrollmentID[:], raw)
	return rec, nil
}

func copyToClipboard(s string) {
	if err := clipboard.WriteAll(s); err != nil {
		log.Printf("clipboard unavailable: %v", err)
		return
	}
	fmt.Println("(copied to clipboard)")
}
