// Package terminal abstracts the MetaTrader 5 terminal the bridge drives.
//
// Two implementations are provided:
//   - Bridge:  HTTP client for the Python sidecar that wraps the MetaTrader5 package
//   - Paper:   in-memory terminal used for dry runs and tests
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotInitialized = errors.New("terminal not initialized")
	ErrNoAccount      = errors.New("no account authenticated")
)

// Terminal is the subset of the MetaTrader 5 API the bridge needs.
type Terminal interface {
	Initialize(ctx context.Context, path string) error
	Login(ctx context.Context, login int64, password, server string) error
	Shutdown(ctx context.Context) error
	TerminalInfo(ctx context.Context) (*TerminalInfo, error)
	AccountInfo(ctx context.Context) (*AccountInfo, error)
	// HistoryDeals returns the deals whose time lies in [from, to]. A nil slice
	// with a nil error means the window holds no deals.
	HistoryDeals(ctx context.Context, from, to time.Time) ([]Deal, error)
}

type TerminalInfo struct {
	Build        int    `json:"build"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	Path         string `json:"path"`
	Connected    bool   `json:"connected"`
	TradeAllowed bool   `json:"trade_allowed"`
}

type AccountInfo struct {
	Login    int64   `json:"login"`
	Server   string  `json:"server"`
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Company  string  `json:"company"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
}

// Deal is one historical deal row as the terminal reports it. Fields are
// terminal-defined; the bridge never interprets them beyond time and comment.
type Deal map[string]any

// DealColumns is the column order MetaTrader 5 uses for deal rows.
var DealColumns = []string{
	"ticket", "order", "time", "time_msc", "type", "entry", "magic",
	"position_id", "reason", "volume", "price", "commission", "swap",
	"profit", "fee", "symbol", "comment", "external_id",
}

// Time returns the deal timestamp read from the "time" field (unix seconds).
func (d Deal) Time() (time.Time, bool) {
	secs, ok := toInt64(d["time"])
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

func (d Deal) Comment() string {
	s, _ := d["comment"].(string)
	return s
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		return int64(f), err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
