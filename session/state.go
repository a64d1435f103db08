package session

import (
	"time"

	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectParams are the optional inputs of a connect. Zero values mean "not
// supplied"; a zero Login skips authentication.
type ConnectParams struct {
	Path     string
	Login    int64
	Password string
	Server   string
}

// Account is one entry of ListAvailableAccounts.
type Account struct {
	Login    int64  `json:"login"`
	Server   string `json:"server"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Current  bool   `json:"current"`
}

// Status is the session snapshot returned to clients.
type Status struct {
	Connected     bool                   `json:"connected"`
	State         string                 `json:"state"`
	LastHeartbeat float64                `json:"last_heartbeat"`
	TerminalInfo  *terminal.TerminalInfo `json:"terminal_info"`
	AccountInfo   *terminal.AccountInfo  `json:"account_info"`
	Version       *int                   `json:"version"`
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
