package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
)

const (
	probeInterval = 30 * time.Second
	probeTimeout  = 10 * time.Second

	// failureThreshold is how many consecutive failed probes flip a target
	// to unreachable. One success flips it back.
	failureThreshold = 3
)

// Probe checks one upstream collaborator and returns an error when it is
// unreachable. Probes answer reachability, not application health: for HTTP
// targets any response, authentication errors included, counts as alive.
type Probe func(ctx context.Context) error

// target pairs a probe with its consecutive-failure tracking.
type target struct {
	name      string
	probe     Probe
	failures  int
	reachable bool
}

// Monitor periodically probes the registry's upstream collaborators (the
// blob store endpoint, the OAuth provider, and the git remote host) and
// reports their status to the component health registry.
type Monitor struct {
	targets []*target

	stopCh chan struct{}
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewMonitor builds a monitor for the upstreams named in the configuration.
func NewMonitor(cfg *config.Config) *Monitor {
	m := &Monitor{
		stopCh: make(chan struct{}),
		logger: log.WithComponent("health"),
	}
	m.addTarget("blob-store", httpProbe(cfg.S3.URI))
	m.addTarget("oauth", httpProbe(cfg.OAuth.LoginURI))
	if cfg.Index.RemoteOrigin != "" {
		if address := sshAddress(cfg.Index.RemoteOrigin); address != "" {
			m.addTarget("git-remote", tcpProbe(address))
		}
	}
	return m
}

// addTarget registers a probe. Targets start reachable so a deploy does not
// report not-ready before the first probe completes.
func (m *Monitor) addTarget(name string, probe Probe) {
	m.targets = append(m.targets, &target{name: name, probe: probe, reachable: true})
	metrics.UpdateComponent(name, true, "")
}

// httpProbe reports an HTTP endpoint reachable when any response arrives;
// only transport-level failures count against it.
func httpProbe(rawURL string) Probe {
	client := &http.Client{Timeout: probeTimeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("invalid probe URL %q: %w", rawURL, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// tcpProbe reports a host reachable when its port accepts a connection.
func tcpProbe(address string) Probe {
	return func(ctx context.Context) error {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// sshAddress extracts host:port from a git remote URL, defaulting to the SSH
// port for scp-style remotes (git@host:path).
func sshAddress(remote string) string {
	if parsed, err := url.Parse(remote); err == nil && parsed.Host != "" {
		host := parsed.Host
		if parsed.Port() == "" {
			host = net.JoinHostPort(parsed.Hostname(), "22")
		}
		return host
	}
	// scp-style: user@host:path
	if at := strings.IndexByte(remote, '@'); at >= 0 {
		rest := remote[at+1:]
		if colon := strings.IndexByte(rest, ':'); colon > 0 {
			return net.JoinHostPort(rest[:colon], "22")
		}
	}
	return ""
}

// Start begins probing in the background.
func (m *Monitor) Start() {
	go m.run()
}

// Stop terminates the probe loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	m.probeAll()
	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		m.observe(t, t.probe(ctx))
	}
}

// observe applies one probe outcome to a target and publishes the resulting
// status.
func (m *Monitor) observe(t *target, err error) {
	message := ""
	if err == nil {
		t.failures = 0
		t.reachable = true
	} else {
		t.failures++
		message = err.Error()
		if t.failures >= failureThreshold {
			t.reachable = false
		}
		m.logger.Warn().Str("target", t.name).Int("failures", t.failures).Err(err).
			Msg("upstream probe failed")
	}
	metrics.UpdateComponent(t.name, t.reachable, message)
}
