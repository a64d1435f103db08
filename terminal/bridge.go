package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("log")

// Bridge talks to the local MT5 sidecar, a small Python HTTP service that
// fronts the MetaTrader5 package:
//
//	POST /initialize     {path}
//	POST /login          {login, password, server}
//	POST /shutdown
//	GET  /terminal_info  -> TerminalInfo (503 when no live terminal)
//	GET  /account_info   -> AccountInfo  (404 when nothing is authenticated)
//	GET  /history_deals?from=<unix>&to=<unix> -> {"deals": [...]}
//
// Mutating endpoints answer {"ok": bool, "error": string}.
type Bridge struct {
	base string
	hc   *http.Client
}

func NewBridge(base string, timeout time.Duration) *Bridge {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "http://127.0.0.1:8788"
	}
	base = strings.TrimRight(base, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		base: base,
		hc:   &http.Client{Timeout: timeout},
	}
}

func (b *Bridge) Initialize(ctx context.Context, path string) error {
	return b.command(ctx, "/initialize", map[string]any{"path": path})
}

func (b *Bridge) Login(ctx context.Context, login int64, password, server string) error {
	body := map[string]any{"login": login}
	if password != "" {
		body["password"] = password
	}
	if server != "" {
		body["server"] = server
	}
	return b.command(ctx, "/login", body)
}

func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.command(ctx, "/shutdown", nil)
}

func (b *Bridge) TerminalInfo(ctx context.Context) (*TerminalInfo, error) {
	var out TerminalInfo
	status, err := b.get(ctx, "/terminal_info", nil, &out)
	if status == http.StatusServiceUnavailable {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Bridge) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	var out AccountInfo
	status, err := b.get(ctx, "/account_info", nil, &out)
	if status == http.StatusNotFound {
		return nil, ErrNoAccount
	}
	if status == http.StatusServiceUnavailable {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Bridge) HistoryDeals(ctx context.Context, from, to time.Time) ([]Deal, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	var out struct {
		Deals []Deal `json:"deals"`
	}
	status, err := b.get(ctx, "/history_deals", q, &out)
	if status == http.StatusServiceUnavailable {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	if len(out.Deals) == 0 {
		return nil, nil
	}
	return out.Deals, nil
}

// command POSTs body to path and checks the {"ok","error"} envelope.
func (b *Bridge) command(ctx context.Context, path string, body any) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(buf)
	}
	u := b.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, payload)
	if err != nil {
		return fmt.Errorf("newrequest %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.decorate(req)

	res, err := b.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s %d: %s", strings.TrimPrefix(path, "/"), res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s: decode reply: %w", strings.TrimPrefix(path, "/"), err)
	}
	if !out.OK {
		if out.Error == "" {
			out.Error = "rejected by terminal"
		}
		return fmt.Errorf("%s: %s", strings.TrimPrefix(path, "/"), out.Error)
	}
	return nil
}

// get issues a GET and decodes a 2xx body into out. The status code is
// returned even on failure so callers can map sidecar-specific codes.
func (b *Bridge) get(ctx context.Context, path string, q url.Values, out any) (int, error) {
	u := b.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("newrequest %s: %w (url=%s)", path, err, u)
	}
	b.decorate(req)

	res, err := b.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return res.StatusCode, fmt.Errorf("%s %d: %s", strings.TrimPrefix(path, "/"), res.StatusCode, strings.TrimSpace(string(raw)))
	}
	dec := json.NewDecoder(res.Body)
	// deal tickets exceed float64 precision
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return res.StatusCode, fmt.Errorf("%s: decode reply: %w", strings.TrimPrefix(path, "/"), err)
	}
	return res.StatusCode, nil
}

func (b *Bridge) decorate(req *http.Request) {
	id := uuid.NewString()
	req.Header.Set("User-Agent", "mt5-bridge/sidecar")
	req.Header.Set("X-Request-ID", id)
	log.Debugf("sidecar %s %s [%s]", req.Method, req.URL.Path, id)
}
