package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// PaperAccount is an account known to a Paper terminal. An empty Password
// accepts any password, as a terminal with saved credentials would.
type PaperAccount struct {
	Info     AccountInfo `json:"info"`
	Password string      `json:"password"`
}

// Paper is an in-memory Terminal. Deals are served from a fixed, time-sorted
// set; failures can be injected to exercise reconnect and resume paths.
type Paper struct {
	mu          sync.Mutex
	initialized bool
	current     *AccountInfo
	accounts    map[int64]PaperAccount
	deals       []Deal

	initErr     error
	historyHook func(from, to time.Time) error
	initCalls   int
	historyCall int
}

func NewPaper(accounts []PaperAccount, deals []Deal) *Paper {
	p := &Paper{accounts: make(map[int64]PaperAccount)}
	for _, a := range accounts {
		p.accounts[a.Info.Login] = a
	}
	p.deals = append(p.deals, deals...)
	sort.SliceStable(p.deals, func(i, j int) bool {
		ti, _ := p.deals[i].Time()
		tj, _ := p.deals[j].Time()
		return ti.Before(tj)
	})
	return p
}

// LoadPaperDeals reads a JSON array of deal objects, the same shape the
// sidecar returns from /history_deals.
func LoadPaperDeals(path string) ([]Deal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var deals []Deal
	if err := dec.Decode(&deals); err != nil {
		return nil, fmt.Errorf("decode paper deals %s: %w", path, err)
	}
	return deals, nil
}

// SetInitializeError makes every later Initialize fail with err (nil clears it).
func (p *Paper) SetInitializeError(err error) {
	p.mu.Lock()
	p.initErr = err
	p.mu.Unlock()
}

// SetHistoryHook installs a function called before each HistoryDeals; a
// non-nil return fails that call.
func (p *Paper) SetHistoryHook(hook func(from, to time.Time) error) {
	p.mu.Lock()
	p.historyHook = hook
	p.mu.Unlock()
}

// Drop simulates the terminal process going away.
func (p *Paper) Drop() {
	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()
}

// LoginAs marks login as already authenticated, as if done by hand in the terminal.
func (p *Paper) LoginAs(login int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[login]; ok {
		info := a.Info
		p.current = &info
	}
}

func (p *Paper) InitializeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls
}

func (p *Paper) HistoryCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.historyCall
}

func (p *Paper) Initialize(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	if p.initErr != nil {
		return p.initErr
	}
	p.initialized = true
	return nil
}

func (p *Paper) Login(ctx context.Context, login int64, password, server string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return ErrNotInitialized
	}
	a, ok := p.accounts[login]
	if !ok {
		return fmt.Errorf("login %d: unknown account", login)
	}
	if server != "" && a.Info.Server != server {
		return fmt.Errorf("login %d: account not on server %s", login, server)
	}
	if a.Password != "" && password != "" && a.Password != password {
		return fmt.Errorf("login %d: invalid password", login)
	}
	info := a.Info
	p.current = &info
	return nil
}

func (p *Paper) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()
	return nil
}

func (p *Paper) TerminalInfo(ctx context.Context) (*TerminalInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	return &TerminalInfo{
		Build:        4000,
		Name:         "Paper Terminal",
		Company:      "paper",
		Connected:    true,
		TradeAllowed: false,
	}, nil
}

func (p *Paper) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if p.current == nil {
		return nil, ErrNoAccount
	}
	info := *p.current
	return &info, nil
}

func (p *Paper) HistoryDeals(ctx context.Context, from, to time.Time) ([]Deal, error) {
	p.mu.Lock()
	p.historyCall++
	initialized := p.initialized
	hook := p.historyHook
	p.mu.Unlock()

	if !initialized {
		return nil, ErrNotInitialized
	}
	if hook != nil {
		if err := hook(from, to); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Deal
	for _, d := range p.deals {
		ts, ok := d.Time()
		if !ok || ts.Before(from) || ts.After(to) {
			continue
		}
		row := make(Deal, len(d))
		for k, v := range d {
			row[k] = v
		}
		out = append(out, row)
	}
	return out, nil
}
