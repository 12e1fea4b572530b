package models

// Tunnel supervisor states.
const (
	TunnelStopped    = "stopped"
	TunnelStarting   = "starting"
	TunnelActive     = "active"
	TunnelRestarting = "restarting"
	TunnelStopping   = "stopping"
	TunnelFailed     = "failed"
)

// TunnelStatus is a point-in-time snapshot of the relay subprocess
// lifecycle. PublicURL is only set after a liveness probe succeeded.
type TunnelStatus struct {
	Status    string `json:"status"`
	PublicURL string `json:"public_url,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Restarts  int    `json:"restarts"`
}
