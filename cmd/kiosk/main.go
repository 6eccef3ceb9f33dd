package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/api"
	"github.com/kkkkikiki/stampcard/internal/capture"
	"github.com/kkkkikiki/stampcard/internal/config"
	"github.com/kkkkikiki/stampcard/internal/engine"
	"github.com/kkkkikiki/stampcard/internal/logging"
	"github.com/kkkkikiki/stampcard/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.App)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	table := capture.DefaultTable
	if cfg.Capture.ProfilesFile != "" {
		if table, err = capture.LoadTable(cfg.Capture.ProfilesFile); err != nil {
			logger.Fatal("Failed to load capture profiles", zap.Error(err))
		}
	}

	client := api.NewStampServiceClient(&http.Client{Timeout: 15 * time.Second}, cfg.Capture.ServerURL)
	hostname, _ := os.Hostname()
	identity := api.Identity{UserID: cfg.Capture.UserID, SessionID: hostname}

	sink := capture.SinkFunc(func(ctx context.Context, payload string) error {
		resp, err := client.Scan(ctx, connect.NewRequest(&api.ScanRequest{Payload: payload, Identity: identity}))
		if err != nil {
			report(err)
			return err
		}
		m := resp.Msg
		fmt.Printf("⭐ +%d stamp(s): %d/%d (lifetime %d)\n", m.StampsAwarded, m.NewStamps, m.MaxStamps, m.NewTotal)
		if m.NewStamps >= m.MaxStamps {
			fmt.Printf("🎁 Reward ready for membership %s\n", m.MembershipID)
		}
		return nil
	})

	negotiator := capture.NewNegotiator(
		capture.DirProber{Root: cfg.Capture.FramesDir, Platform: cfg.Capture.Platform},
		&capture.DirCamera{Root: cfg.Capture.FramesDir, Logger: logger},
		sink,
		capture.Options{Table: table, AttemptTimeout: cfg.Capture.AttemptTimeout, Logger: logger},
	)
	defer negotiator.Stop()

	if err := negotiator.Start(ctx); err != nil && !errors.Is(err, engine.ErrCaptureUnavailable) {
		logger.Fatal("Capture failed to start", zap.Error(err))
	}

	if negotiator.State() == capture.Scanning {
		p, _ := negotiator.Profile()
		fmt.Printf("📷 Scanning with %s. Press Ctrl+C to stop.\n", p.Name)
		go watchFallback(ctx, negotiator, time.Second)
	} else {
		promptFallback()
	}

	serve(ctx, negotiator, readLines(os.Stdin))
}

func promptFallback() {
	fmt.Println("📂 No camera available. Enter an image path, or \"manual\" to type the code.")
}

// watchFallback tells the person at the counter when the camera goes away
func watchFallback(ctx context.Context, n *capture.Negotiator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.State() == capture.FileFallback {
				promptFallback()
				return
			}
		}
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}

// serve routes input lines by capture state until ctx is done or input ends
func serve(ctx context.Context, n *capture.Negotiator, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			handleLine(ctx, n, line)
		}
	}
}

func handleLine(ctx context.Context, n *capture.Negotiator, line string) {
	switch n.State() {
	case capture.FileFallback:
		if line == "manual" {
			if err := n.DegradeToManual(); err == nil {
				fmt.Println("⌨️  Type the code printed under the QR code.")
			}
			return
		}
		f, err := os.Open(line)
		if err != nil {
			fmt.Printf("❌ Cannot open %s: %v\n", line, err)
			return
		}
		defer f.Close()
		if err := n.SubmitFile(ctx, f); errors.Is(err, engine.ErrInvalidPayload) {
			fmt.Println("❌ No QR code found in that image. Try another, or \"manual\".")
		}
	case capture.ManualFallback:
		n.SubmitText(ctx, line)
	case capture.Scanning:
		fmt.Println("📷 The camera is scanning, hold the QR code up to it.")
	}
}

// report explains a rejected scan to the person at the counter
func report(err error) {
	if wait := service.RetryAfter(err); wait > 0 {
		fmt.Printf("⏳ Please wait %d seconds before scanning again\n", int(wait.Seconds()))
		return
	}
	switch connect.CodeOf(err) {
	case connect.CodeInvalidArgument:
		fmt.Println("❌ That is not a stamp card code")
	case connect.CodeNotFound:
		fmt.Println("❌ Unknown business")
	case connect.CodeUnavailable:
		fmt.Println("⚠️  Service unavailable, please scan again")
	default:
		fmt.Printf("❌ Scan failed: %v\n", err)
	}
}
