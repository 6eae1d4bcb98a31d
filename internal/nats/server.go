package nats

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const readyTimeout = 10 * time.Second

// Server manages a local nats-server process with JetStream, or a
// connection to one that is already listening at URL
type Server struct {
	binPath string
	cfg     ServerConfig
	cmd     *exec.Cmd
	nc      *nats.Conn
	js      jetstream.JetStream
	mu      sync.Mutex
	started bool
}

// ServerConfig holds configuration for the NATS server
type ServerConfig struct {
	BinPath  string
	StoreDir string
	URL      string
	AutoDL   bool
	// Name identifies the client connection on the server
	Name string
}

// NewServer creates a new NATS server manager. The binary is resolved (and
// downloaded when AutoDL is set) only if nothing listens at URL yet.
func NewServer(cfg ServerConfig) (*Server, error) {
	if _, _, err := parseNatsURL(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "verifyq"
	}
	return &Server{cfg: cfg}, nil
}

// Start connects to NATS, spawning nats-server first when needed
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc != nil {
		return nil
	}

	if reachable(s.cfg.URL) {
		log.Printf("NATS server already running at %s", s.cfg.URL)
		return s.connect()
	}

	binPath, err := EnsureNATSBinary(ctx, s.cfg.BinPath, s.cfg.AutoDL)
	if err != nil {
		return fmt.Errorf("failed to ensure NATS binary: %w", err)
	}
	s.binPath = binPath

	storeDir, err := filepath.Abs(s.cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to resolve store dir: %w", err)
	}
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	host, port, _ := parseNatsURL(s.cfg.URL)

	// The process outlives ctx; Stop ends it.
	s.cmd = exec.Command(s.binPath,
		"-js",
		"-sd", storeDir,
		"-a", host,
		"-p", port,
	)
	s.cmd.Stdout = os.Stdout
	s.cmd.Stderr = os.Stderr

	if err := s.cmd.Start(); err != nil {
		s.cmd = nil
		return fmt.Errorf("failed to start NATS server: %w", err)
	}
	s.started = true

	if err := waitReachable(ctx, s.cfg.URL, readyTimeout); err != nil {
		s.stopLocked()
		return err
	}

	if err := s.connect(); err != nil {
		s.stopLocked()
		return err
	}

	log.Printf("NATS server started at %s with JetStream enabled", s.cfg.URL)
	return nil
}

// Stop drains the connection and ends a nats-server this Server started
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Server) stopLocked() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Printf("Warning: failed to drain NATS connection: %v", err)
			s.nc.Close()
		}
		s.nc = nil
		s.js = nil
	}

	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			log.Printf("Warning: failed to kill NATS process: %v", err)
		}
		_ = s.cmd.Wait()
		log.Println("NATS server stopped")
	}
	s.cmd = nil
	s.started = false
}

// IsRunning reports whether a connection is established
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nc != nil && s.nc.IsConnected()
}

// Managed reports whether this process spawned nats-server
func (s *Server) Managed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// JetStream returns the JetStream context
func (s *Server) JetStream() jetstream.JetStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.js
}

func (s *Server) connect() error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name(s.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("Warning: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s.nc = nc
	s.js = js
	return nil
}

func reachable(natsURL string) bool {
	host, port, err := parseNatsURL(natsURL)
	if err != nil {
		return false
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func waitReachable(ctx context.Context, natsURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if reachable(natsURL) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("NATS server not reachable at %s: %w", natsURL, ctx.Err())
		case <-ticker.C:
		}
	}
}

// parseNatsURL splits nats://host:port (scheme optional) into its parts
func parseNatsURL(natsURL string) (host, port string, err error) {
	raw := natsURL
	if u, perr := url.Parse(natsURL); perr == nil && u.Host != "" {
		raw = u.Host
	}

	host, port, err = net.SplitHostPort(raw)
	if err != nil || port == "" {
		return "", "", fmt.Errorf("invalid NATS URL format: %s", natsURL)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
