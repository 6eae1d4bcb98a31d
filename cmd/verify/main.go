package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/ahrdadan/verifyq/internal/config"
	"github.com/ahrdadan/verifyq/internal/verify"
)

func main() {
	cfg := config.ParseFlags()
	config.HandleFlags(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launchOpts := cfg.LaunchOptions()
	if cfg.DownloadChrome && launchOpts.Bin == "" {
		bin, err := browser.InstallChrome(ctx, cfg.ChromeRevision)
		if err != nil {
			// The launch step reports the failure and leaves the error screenshot.
			log.Printf("Warning: failed to install Chrome: %v", err)
		} else {
			launchOpts.Bin = bin
		}
	}

	driver := verify.NewDriver(
		verify.ChromeLauncher(browser.NewLauncher(launchOpts)),
		cfg.JourneyOptions(),
	)
	res := driver.Run(ctx)

	summary := res.Summary()
	log.Printf("Run %s at stage %s in %dms, screenshot %s", summary.Outcome, summary.Stage, summary.DurationMs, summary.Screenshot)

	return exitCode(res, cfg.Strict)
}

// exitCode is 0 unless the journey failed under --strict.
func exitCode(res *verify.Result, strict bool) int {
	if strict && !res.Passed() {
		return 1
	}
	return 0
}
