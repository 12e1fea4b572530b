package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/homedav/internal/models"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_homedav._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultLivenessWindow is the maximum silence before a peer flips
	// to offline.
	DefaultLivenessWindow = 15 * time.Second
	// DefaultSweepInterval is the liveness sweep period.
	DefaultSweepInterval = 5 * time.Second
)

// Config controls presence advertisement and browsing.
type Config struct {
	Service        string
	Domain         string
	DeviceID       string
	DisplayName    string
	Version        string
	Role           string
	Port           int
	LivenessWindow time.Duration
	SweepInterval  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == "" {
		out.Version = "1"
	}
	if out.Role == "" {
		out.Role = "host"
	}
	if out.LivenessWindow <= 0 {
		out.LivenessWindow = DefaultLivenessWindow
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = DefaultSweepInterval
	}
	return out
}

// Manager owns this host's network presence and the live table of
// sibling hosts. It is an explicitly-lifetimed registry: construct one,
// pass it to whoever needs the snapshot, Stop it on shutdown.
type Manager struct {
	cfg Config
	log *logrus.Logger
	now func() time.Time

	mu     sync.Mutex
	peers  map[string]*models.Peer
	server *zeroconf.Server
	subs   []func()

	browseCancel context.CancelFunc
	browseWG     sync.WaitGroup

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewManager creates a peer discovery manager. Call StartAdvertise,
// StartBrowse and StartSweeper to bring it fully up.
func NewManager(cfg Config, log *logrus.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       time.Now,
		peers:     make(map[string]*models.Peer),
		sweepStop: make(chan struct{}),
	}
}

// InstanceName derives a collision-resistant mDNS instance name from a
// short hash of the device id, so renaming the device never collides
// with the previous record.
func (m *Manager) InstanceName() string {
	sum := sha1.Sum([]byte(m.cfg.DeviceID))
	return "homedav-" + hex.EncodeToString(sum[:])[:8]
}

// StartAdvertise publishes this host's presence record.
func (m *Manager) StartAdvertise() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return nil
	}

	txt := []string{
		"device_id=" + m.cfg.DeviceID,
		"version=" + m.cfg.Version,
		"role=" + m.cfg.Role,
		"display_name=" + m.cfg.DisplayName,
	}
	server, err := zeroconf.Register(m.InstanceName(), m.cfg.Service, m.cfg.Domain, m.cfg.Port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns presence: %w", err)
	}
	m.server = server

	m.log.WithFields(logrus.Fields{
		"instance": m.InstanceName(),
		"service":  m.cfg.Service,
		"port":     m.cfg.Port,
	}).Info("presence advertisement started")
	return nil
}

// StopAdvertise withdraws the presence record.
func (m *Manager) StopAdvertise() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return
	}
	m.server.Shutdown()
	m.server = nil
}

// RestartAdvertise re-publishes presence, optionally under a new display
// name (after a rename or a network change).
func (m *Manager) RestartAdvertise(newName string) error {
	m.StopAdvertise()
	if newName != "" {
		m.mu.Lock()
		m.cfg.DisplayName = newName
		m.mu.Unlock()
	}
	return m.StartAdvertise()
}

// StartBrowse begins observing other hosts' presence records.
func (m *Manager) StartBrowse() error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.browseCancel != nil {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.browseCancel = cancel
	m.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	m.browseWG.Add(1)
	go func() {
		defer m.browseWG.Done()
		for entry := range entries {
			if entry == nil {
				continue
			}
			m.observe(entry)
		}
	}()

	if err := resolver.Browse(ctx, m.cfg.Service, m.cfg.Domain, entries); err != nil {
		cancel()
		m.mu.Lock()
		m.browseCancel = nil
		m.mu.Unlock()
		return fmt.Errorf("browse mdns service: %w", err)
	}
	return nil
}

// StopBrowse stops observing presence records.
func (m *Manager) StopBrowse() {
	m.mu.Lock()
	cancel := m.browseCancel
	m.browseCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		m.browseWG.Wait()
	}
}

// StartSweeper runs the liveness sweep until Stop. It runs independent
// of explicit down notifications so silent drops still flip peers to
// offline.
func (m *Manager) StartSweeper() {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepStale()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

// Stop shuts down browsing, advertising and the liveness sweep.
func (m *Manager) Stop() {
	m.sweepOnce.Do(func() { close(m.sweepStop) })
	m.StopBrowse()
	m.StopAdvertise()
}

// SweepStale marks every peer not refreshed within the liveness window
// as offline. Peers are never deleted, so history stays stable.
func (m *Manager) SweepStale() int {
	m.mu.Lock()
	now := m.now()
	flipped := 0
	for _, p := range m.peers {
		if p.Status == models.PeerOnline && now.Sub(p.LastSeenAt) > m.cfg.LivenessWindow {
			p.Status = models.PeerOffline
			flipped++
		}
	}
	m.mu.Unlock()

	if flipped > 0 {
		m.log.WithField("count", flipped).Debug("peers marked offline")
		m.notify()
	}
	return flipped
}

// AddManualPeer upserts a peer directly, the fallback for networks
// where presence broadcast is unreliable.
func (m *Manager) AddManualPeer(deviceID, displayName, ip string, port int) models.Peer {
	if deviceID == "" {
		deviceID = "manual-" + ip
	}
	if displayName == "" {
		displayName = ip
	}
	peer := models.Peer{
		DeviceID:    deviceID,
		DisplayName: displayName,
		IPs:         []string{ip},
		BestIP:      BestIP([]string{ip}),
		Port:        port,
		Status:      models.PeerOnline,
		LastSeenAt:  m.now(),
		Source:      models.PeerManual,
	}
	m.upsert(peer)
	return peer
}

// Peers returns a snapshot of the peer table, self excluded, sorted by
// display name.
func (m *Manager) Peers() []models.Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		cp := *p
		cp.IPs = append([]string(nil), p.IPs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// Subscribe registers a callback invoked after every peer table
// mutation. Subscribers read a consistent snapshot via Peers, they are
// never handed partial updates.
func (m *Manager) Subscribe(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// observe folds one browse result into the peer table. A goodbye record
// (TTL zero) marks the peer offline immediately instead of waiting for
// the liveness sweep.
func (m *Manager) observe(entry *zeroconf.ServiceEntry) {
	txt := txtToMap(entry.Text)
	deviceID := strings.TrimSpace(txt["device_id"])
	if deviceID == "" || deviceID == m.cfg.DeviceID {
		return
	}

	if entry.TTL == 0 {
		m.markOffline(deviceID)
		return
	}

	name := strings.TrimSpace(txt["display_name"])
	if name == "" {
		name = strings.TrimSpace(entry.Instance)
	}
	if name == "" {
		name = deviceID
	}

	ips := collectAddresses(entry)
	m.upsert(models.Peer{
		DeviceID:    deviceID,
		DisplayName: name,
		IPs:         ips,
		BestIP:      BestIP(ips),
		Hostname:    entry.HostName,
		Port:        entry.Port,
		Status:      models.PeerOnline,
		LastSeenAt:  m.now(),
		Source:      models.PeerDiscovered,
	})
}

func (m *Manager) upsert(peer models.Peer) {
	m.mu.Lock()
	existing, ok := m.peers[peer.DeviceID]
	if ok {
		existing.DisplayName = peer.DisplayName
		existing.IPs = peer.IPs
		existing.BestIP = peer.BestIP
		if peer.Hostname != "" {
			existing.Hostname = peer.Hostname
		}
		if peer.Port != 0 {
			existing.Port = peer.Port
		}
		existing.Status = peer.Status
		existing.LastSeenAt = peer.LastSeenAt
		existing.Source = peer.Source
	} else {
		cp := peer
		m.peers[peer.DeviceID] = &cp
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) markOffline(deviceID string) {
	m.mu.Lock()
	p, ok := m.peers[deviceID]
	if ok && p.Status != models.PeerOffline {
		p.Status = models.PeerOffline
	} else {
		ok = false
	}
	m.mu.Unlock()
	if ok {
		m.log.WithField("device_id", deviceID).Debug("peer said goodbye")
		m.notify()
	}
}

// notify runs subscriber callbacks after the mutation is complete.
func (m *Manager) notify() {
	m.mu.Lock()
	subs := make([]func(), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// collectAddresses filters the advertised addresses down to usable
// ones: loopback and duplicates dropped, order preserved.
func collectAddresses(entry *zeroconf.ServiceEntry) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil || ip.IsLoopback() {
			continue
		}
		raw := ip.String()
		if raw == "" {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	return out
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, kv := range text {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
