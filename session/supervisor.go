// Package session owns the single logical connection to the MT5 terminal.
// One Supervisor is built at startup and shared by the dispatcher, the
// heartbeat loop and every extraction worker; all terminal mutation goes
// through its lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("log")

const (
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 5 * time.Second
)

type Supervisor struct {
	term terminal.Terminal

	mu            sync.Mutex
	state         State
	params        ConnectParams
	login         int64
	server        string
	lastHeartbeat time.Time

	observer func(State)
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSupervisor builds a disconnected supervisor. defaults are reused by
// Reconnect and by calls that need the terminal before any explicit connect.
func NewSupervisor(term terminal.Terminal, defaults ConnectParams) *Supervisor {
	return &Supervisor{
		term:   term,
		state:  Disconnected,
		params: defaults,
		sleep:  sleepCtx,
	}
}

// OnStateChange registers fn to be called (under the supervisor lock) on
// every state transition.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Connected() bool {
	return s.State() == Connected
}

func (s *Supervisor) Identity() (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login, s.server
}

func (s *Supervisor) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Connect initializes the terminal and, when credentials are given, tries to
// authenticate. A failed login is only a warning: the terminal may already be
// logged in by hand, and the client can still select an account later. On a
// connected session the terminal is left alone; only a different login is
// attempted.
func (s *Supervisor) Connect(ctx context.Context, p ConnectParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.mergeParams(p)
	if s.state != Connected {
		return s.connectLocked(ctx, merged)
	}
	if p.Login != 0 && p.Login != s.login {
		if err := s.term.Login(ctx, p.Login, p.Password, p.Server); err != nil {
			log.Warningf("Login %d failed, keeping account %d: %v", p.Login, s.login, err)
		}
		s.refreshIdentityLocked(ctx)
	}
	log.Debugf("Already connected (login=%d server=%s)", s.login, s.server)
	return nil
}

func (s *Supervisor) mergeParams(p ConnectParams) ConnectParams {
	merged := s.params
	if p.Path != "" {
		merged.Path = p.Path
	}
	if p.Login != 0 {
		merged.Login = p.Login
		merged.Password = p.Password
		merged.Server = p.Server
	}
	s.params = merged
	return merged
}

func (s *Supervisor) connectLocked(ctx context.Context, p ConnectParams) error {
	prev := s.state
	if prev != Reconnecting {
		s.setState(Connecting)
	}

	if err := s.term.Initialize(ctx, p.Path); err != nil {
		s.setState(Disconnected)
		log.Errorf("Failed to initialize terminal: %v", err)
		return apperrors.Wrap(apperrors.ConnectionError, "terminal initialize failed", err)
	}
	if _, err := s.term.TerminalInfo(ctx); err != nil {
		_ = s.term.Shutdown(ctx)
		s.setState(Disconnected)
		log.Errorf("Terminal initialized but reports no live handle: %v", err)
		return apperrors.Wrap(apperrors.ConnectionError, "no live terminal handle", err)
	}

	if p.Login != 0 {
		if err := s.term.Login(ctx, p.Login, p.Password, p.Server); err != nil {
			log.Warningf("Login %d failed, leaving account selection to the client: %v", p.Login, err)
		}
	}

	s.refreshIdentityLocked(ctx)
	s.lastHeartbeat = time.Now()
	s.setState(Connected)
	log.Infof("Connected to terminal (login=%d server=%s)", s.login, s.server)
	return nil
}

func (s *Supervisor) refreshIdentityLocked(ctx context.Context) *terminal.AccountInfo {
	acc, err := s.term.AccountInfo(ctx)
	if err != nil {
		if !errors.Is(err, terminal.ErrNoAccount) {
			log.Warningf("Could not read account info: %v", err)
		}
		return nil
	}
	s.login = acc.Login
	s.server = acc.Server
	return acc
}

func (s *Supervisor) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected {
		return
	}
	if err := s.term.Shutdown(ctx); err != nil {
		log.Warningf("Terminal shutdown returned: %v", err)
	}
	s.setState(Disconnected)
	log.Infof("Disconnected from terminal")
}

// CheckConnection probes the terminal. It never fails loudly: any error
// marks the session disconnected and yields false.
func (s *Supervisor) CheckConnection(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return false
	}
	info, err := s.term.TerminalInfo(ctx)
	if err != nil || info == nil {
		log.Warningf("Heartbeat failed: %v", err)
		s.setState(Disconnected)
		return false
	}
	s.lastHeartbeat = time.Now()
	return true
}

// Reconnect retries Connect with the last known parameters. It returns nil
// right away when already connected and a ReconnectExhausted error once
// maxAttempts attempts have failed.
func (s *Supervisor) Reconnect(ctx context.Context, maxAttempts int, delay time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.setState(Reconnecting)
	s.mu.Unlock()

	log.Infof("Reconnecting to terminal (max %d attempts)", maxAttempts)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Infof("Reconnect attempt %d/%d", attempt, maxAttempts)
		s.mu.Lock()
		if s.state == Connected {
			s.mu.Unlock()
			return nil
		}
		s.setState(Reconnecting)
		lastErr = s.connectLocked(ctx, s.params)
		s.mu.Unlock()
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			if err := s.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	s.mu.Lock()
	if s.state != Connected {
		s.setState(Disconnected)
	}
	s.mu.Unlock()
	log.Errorf("Reconnect failed after %d attempts", maxAttempts)
	return apperrors.Wrap(apperrors.ReconnectExhausted, fmt.Sprintf("gave up after %d attempts", maxAttempts), lastErr)
}

// ListAvailableAccounts reports the accounts the terminal knows about. The
// terminal only exposes the authenticated one, which is flagged as current.
func (s *Supervisor) ListAvailableAccounts(ctx context.Context) []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts := []Account{}
	if s.state != Connected {
		if err := s.term.Initialize(ctx, s.params.Path); err != nil {
			log.Errorf("Failed to initialize terminal to list accounts: %v", err)
			return accounts
		}
	}
	acc, err := s.term.AccountInfo(ctx)
	if err != nil {
		log.Warningf("Could not read account info: %v", err)
		return accounts
	}
	return append(accounts, Account{
		Login:    acc.Login,
		Server:   acc.Server,
		Name:     acc.Name,
		Currency: acc.Currency,
		Current:  true,
	})
}

// SelectAccount makes login the active account. It is a no-op (apart from
// refreshing identity) when login is already authenticated.
func (s *Supervisor) SelectAccount(ctx context.Context, login int64, password, server string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		if err := s.connectLocked(ctx, s.params); err != nil {
			return apperrors.Wrap(apperrors.AccountSelectionError, fmt.Sprintf("cannot select account %d", login), err)
		}
	}

	if cur := s.refreshIdentityLocked(ctx); cur != nil && cur.Login == login {
		log.Infof("Account %d already active", login)
		return nil
	}

	if err := s.term.Login(ctx, login, password, server); err != nil {
		log.Errorf("Login to account %d failed: %v", login, err)
		return apperrors.Wrap(apperrors.AccountSelectionError, fmt.Sprintf("login to account %d failed", login), err)
	}

	cur := s.refreshIdentityLocked(ctx)
	if cur == nil || cur.Login != login {
		got := int64(0)
		if cur != nil {
			got = cur.Login
		}
		return apperrors.New(apperrors.AccountSelectionError, fmt.Sprintf("authenticated as %d, expected %d", got, login))
	}

	s.params.Login = login
	s.params.Password = password
	s.params.Server = server
	log.Infof("Selected account %d (%s)", login, cur.Server)
	return nil
}

// Status returns a snapshot of the session. Failing info calls while
// connected mean the terminal went away, so the session is marked down.
func (s *Supervisor) Status(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Connected:     s.state == Connected,
		LastHeartbeat: unixSeconds(s.lastHeartbeat),
	}
	if st.Connected {
		info, err := s.term.TerminalInfo(ctx)
		if err != nil {
			log.Warningf("Terminal info unavailable, marking session down: %v", err)
			s.setState(Disconnected)
			st.Connected = false
		} else {
			st.TerminalInfo = info
			build := info.Build
			st.Version = &build
			if acc, err := s.term.AccountInfo(ctx); err == nil {
				st.AccountInfo = acc
			}
		}
	}
	st.State = s.state.String()
	return st
}

// HistoryDeals fetches deals through the live session. The lock is not held
// during the fetch so long batches never stall heartbeats or status calls.
func (s *Supervisor) HistoryDeals(ctx context.Context, from, to time.Time) ([]terminal.Deal, error) {
	if !s.Connected() {
		return nil, apperrors.New(apperrors.SessionUnavailable, "terminal session is not connected")
	}
	deals, err := s.term.HistoryDeals(ctx, from, to)
	if errors.Is(err, terminal.ErrNotInitialized) {
		s.mu.Lock()
		s.setState(Disconnected)
		s.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.SessionUnavailable, "terminal went away", err)
	}
	return deals, err
}

func (s *Supervisor) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.observer != nil {
		s.observer(st)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
