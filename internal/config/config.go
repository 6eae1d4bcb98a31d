package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// Version is the current version of verifyq
	Version = "1"
	// AppName is the application name
	AppName = "verifyq"
)

// Config holds all configuration options for the verify CLI and the run server
type Config struct {
	// Journey
	BaseURL               string        `yaml:"base_url"`
	SamplePath            string        `yaml:"sample_path"`
	SuccessScreenshotPath string        `yaml:"success_screenshot_path"`
	ErrorScreenshotPath   string        `yaml:"error_screenshot_path"`
	DownloadTimeout       time.Duration `yaml:"download_timeout"` // bound on the "Download PDF" visibility wait
	ActionTimeout         time.Duration `yaml:"action_timeout"`   // implicit bound for every other step
	PollInterval          time.Duration `yaml:"poll_interval"`
	FullPage              bool          `yaml:"full_page"`
	Strict                bool          `yaml:"strict"` // exit non-zero when the journey fails

	// Browser (Chrome via rod)
	Headless       bool   `yaml:"headless"`
	ChromeBin      string `yaml:"chrome_bin"`
	ChromeRevision int    `yaml:"chrome_revision"`
	DownloadChrome bool   `yaml:"download_chrome"`

	// Server
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"` // base URL for links in API responses
	RunsDir   string `yaml:"runs_dir"`

	// Queue (NATS JetStream)
	WithNats   bool   `yaml:"with_nats"`
	NatsURL    string `yaml:"nats_url"`
	NatsStore  string `yaml:"nats_store"`
	NatsAutoDL bool   `yaml:"nats_autodl"`
	NatsBin    string `yaml:"nats_bin"`

	// Security
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
	ResultTTL         time.Duration `yaml:"result_ttl"`

	// Flags
	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
	ShowHelp    bool   `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:               "http://localhost:5173",
		SamplePath:            "jules-scratch/verification/sample.pdf",
		SuccessScreenshotPath: "jules-scratch/verification/pdf_compression_result.png",
		ErrorScreenshotPath:   "jules-scratch/verification/error.png",
		DownloadTimeout:       30 * time.Second,
		ActionTimeout:         30 * time.Second,
		PollInterval:          100 * time.Millisecond,
		FullPage:              true,
		Strict:                false,
		Headless:              true,
		Host:                  "0.0.0.0",
		Port:                  8000,
		RunsDir:               "./data/runs",
		WithNats:              true,
		NatsURL:               "nats://127.0.0.1:4222",
		NatsStore:             "./data/nats",
		NatsAutoDL:            true,
		NatsBin:               "./bin/nats-server",
		RateLimitRequests:     100,
		RateLimitWindow:       time.Minute,
		IdempotencyTTL:        24 * time.Hour,
		ResultTTL:             7 * 24 * time.Hour, // 7 days
	}
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	// Journey flags
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Address of the application under test")
	fs.StringVar(&cfg.SamplePath, "sample", cfg.SamplePath, "Sample PDF attached to the file input")
	fs.StringVar(&cfg.SuccessScreenshotPath, "screenshot", cfg.SuccessScreenshotPath, "Screenshot written when the journey passes")
	fs.StringVar(&cfg.ErrorScreenshotPath, "error-screenshot", cfg.ErrorScreenshotPath, "Screenshot written when the journey fails")
	fs.DurationVar(&cfg.DownloadTimeout, "download-timeout", cfg.DownloadTimeout, "How long to wait for the Download PDF link")
	fs.DurationVar(&cfg.ActionTimeout, "action-timeout", cfg.ActionTimeout, "Implicit timeout for element lookups")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Visibility poll interval")
	fs.BoolVar(&cfg.FullPage, "full-page", cfg.FullPage, "Capture the full scrollable page")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "Exit with status 1 when the journey fails")

	// Browser flags
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run Chrome without a window")
	fs.StringVar(&cfg.ChromeBin, "chrome-bin", cfg.ChromeBin, "Chrome binary (empty lets rod find or fetch one)")
	fs.IntVar(&cfg.ChromeRevision, "chrome-revision", cfg.ChromeRevision, "Chromium revision to download (0 uses default)")
	fs.BoolVar(&cfg.DownloadChrome, "download-chrome", cfg.DownloadChrome, "Download Chromium before launching")

	// Server flags
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port number for the server")
	fs.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Base URL for API responses (e.g., http://localhost:8000)")
	fs.StringVar(&cfg.RunsDir, "runs-dir", cfg.RunsDir, "Directory for per-run screenshots")

	// NATS flags
	fs.BoolVar(&cfg.WithNats, "with-nats", cfg.WithNats, "Enable NATS JetStream for the run queue")
	fs.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server URL")
	fs.StringVar(&cfg.NatsStore, "nats-store", cfg.NatsStore, "NATS JetStream storage directory")
	fs.BoolVar(&cfg.NatsAutoDL, "nats-autodl", cfg.NatsAutoDL, "Auto-download NATS server binary")
	fs.StringVar(&cfg.NatsBin, "nats-bin", cfg.NatsBin, "Path to NATS server binary")

	// Security flags
	fs.IntVar(&cfg.RateLimitRequests, "rate-limit", cfg.RateLimitRequests, "Rate limit requests per minute")

	// Other flags
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", cfg.ShowHelp, "Show help message")
}

// Parse builds a Config from defaults, an optional YAML file and args.
// Flags given explicitly on the command line override the file.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { PrintHelp(output) }
	bindFlags(fs, cfg)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		fileCfg := DefaultConfig()
		if err := LoadFile(cfg.ConfigFile, fileCfg); err != nil {
			return nil, err
		}

		overlay := flag.NewFlagSet(name, flag.ContinueOnError)
		overlay.SetOutput(io.Discard)
		bindFlags(overlay, fileCfg)

		var setErr error
		fs.Visit(func(f *flag.Flag) {
			if setErr != nil {
				return
			}
			if err := overlay.Set(f.Name, f.Value.String()); err != nil {
				setErr = fmt.Errorf("flag --%s: %w", f.Name, err)
			}
		})
		if setErr != nil {
			return nil, setErr
		}
		cfg = fileCfg
	}

	cfg.normalize()
	return cfg, nil
}

// ParseFlags parses os.Args and returns the config
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[0], os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	return cfg
}

func (c *Config) normalize() {
	defaults := DefaultConfig()

	// Auto-generate PublicURL if not provided
	if c.PublicURL == "" {
		host := c.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		c.PublicURL = fmt.Sprintf("http://%s:%d", host, c.Port)
	}

	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = defaults.DownloadTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaults.ActionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RateLimitRequests < 1 {
		c.RateLimitRequests = defaults.RateLimitRequests
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = defaults.RateLimitWindow
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = defaults.ResultTTL
	}
}

// Validate reports configuration that can never produce a meaningful run.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	if c.SamplePath == "" {
		return errors.New("sample path is required")
	}
	if c.SuccessScreenshotPath == "" || c.ErrorScreenshotPath == "" {
		return errors.New("both screenshot paths are required")
	}
	if c.SuccessScreenshotPath == c.ErrorScreenshotPath {
		return fmt.Errorf("success and error screenshots share a path: %s", c.SuccessScreenshotPath)
	}
	return nil
}

// PrintVersion prints version information
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", AppName, Version)
}

// PrintHelp prints help information
func PrintHelp(w io.Writer) {
	d := DefaultConfig()
	fmt.Fprintf(w, `%s v%s (Verify + Queue)

Usage:
  verify [flags]    run the PDF Compression journey once
  server [flags]    serve queued verification runs

Journey:
  --base-url          %s
  --sample            %s
  --screenshot        %s
  --error-screenshot  %s
  --download-timeout  %s
  --action-timeout    %s
  --poll-interval     %s
  --full-page         %v
  --strict            %v

Browser:
  --headless          %v
  --chrome-bin        (auto)
  --chrome-revision   %d
  --download-chrome   %v

Server:
  --host              %s
  --port              %d
  --public-url        (auto-generated if empty)
  --runs-dir          %s

Queue (NATS JetStream):
  --with-nats         %v
  --nats-url          %s
  --nats-store        %s
  --nats-autodl       %v
  --nats-bin          %s

Security:
  --rate-limit        %d (requests per minute)

Other:
  --config            YAML config file (flags override it)
  --version           show version
  --help              show this help

`, AppName, Version,
		d.BaseURL, d.SamplePath, d.SuccessScreenshotPath, d.ErrorScreenshotPath,
		d.DownloadTimeout, d.ActionTimeout, d.PollInterval, d.FullPage, d.Strict,
		d.Headless, d.ChromeRevision, d.DownloadChrome,
		d.Host, d.Port, d.RunsDir,
		d.WithNats, d.NatsURL, d.NatsStore, d.NatsAutoDL, d.NatsBin,
		d.RateLimitRequests)
}

// HandleFlags handles version and help flags, exits if needed
func HandleFlags(cfg *Config) {
	if cfg.ShowVersion {
		PrintVersion(os.Stdout)
		os.Exit(0)
	}

	if cfg.ShowHelp {
		PrintHelp(os.Stdout)
		os.Exit(0)
	}
}
