package models

import (
	"time"
)

// Peer statuses.
const (
	PeerOnline  = "online"
	PeerOffline = "offline"
)

// Peer sources.
const (
	PeerDiscovered = "discovered"
	PeerManual     = "manual"
)

// Peer is a discovered or manually-added remote host. A peer that goes
// silent is marked offline, never deleted, so the table stays stable.
type Peer struct {
	DeviceID    string    `json:"device_id"`
	DisplayName string    `json:"display_name"`
	IPs         []string  `json:"ips"`
	BestIP      string    `json:"best_ip"`
	Hostname    string    `json:"hostname"`
	Port        int       `json:"port"`
	Status      string    `json:"status"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Source      string    `json:"source"`
}

type ManualConnectRequest struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	IP          string `json:"ip" binding:"required"`
	Port        int    `json:"port" binding:"required"`
}
