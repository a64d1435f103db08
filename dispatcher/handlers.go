// Package dispatcher serves the bridge protocol: JSON requests over a
// request/reply socket, routed to the session, the job service and the
// preference store.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/extraction"
	"github.com/RaelFilh96/Analise-de-Aderencia/jobs"
	"github.com/RaelFilh96/Analise-de-Aderencia/metrics"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
	"github.com/RaelFilh96/Analise-de-Aderencia/preferences"
	"github.com/RaelFilh96/Analise-de-Aderencia/session"
)

var log = logging.MustGetLogger("log")

type handlerFunc func(ctx context.Context, req *Request) Reply

type Dispatcher struct {
	session  *session.Supervisor
	jobs     *jobs.Service
	prefs    *preferences.Store
	handlers map[string]handlerFunc
	now      func() time.Time
}

func NewDispatcher(sup *session.Supervisor, svc *jobs.Service, prefs *preferences.Store) *Dispatcher {
	d := &Dispatcher{
		session: sup,
		jobs:    svc,
		prefs:   prefs,
		now:     time.Now,
	}
	d.handlers = map[string]handlerFunc{
		"connect":                 d.handleConnect,
		"disconnect":              d.handleDisconnect,
		"status":                  d.handleStatus,
		"extract":                 d.handleExtract,
		"extract_status":          d.handleExtractStatus,
		"cancel_extract":          d.handleCancelExtract,
		"list_accounts":           d.handleListAccounts,
		"select_account":          d.handleSelectAccount,
		"save_account_preference": d.handleSavePreference,
		"load_account_preference": d.handleLoadPreference,
	}
	return d
}

// Handle decodes one raw message, dispatches it and encodes the reply. It
// always produces a reply.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) []byte {
	req, err := DecodeRequest(data)
	if err != nil {
		log.Warningf("Discarding malformed request: %v", err)
		metrics.ObserveRequest("invalid", false)
		reply := failure(err)
		reply["requestId"] = uuid.NewString()
		return reply.encode()
	}
	return d.Dispatch(ctx, req).encode()
}

// Dispatch routes req to its handler. Handler panics become failure replies.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (reply Reply) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	action := req.Action

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Request %s (%s) panicked: %v", requestID, action, r)
			reply = failure(fmt.Errorf("internal error handling %s: %v", action, r))
		}
		reply["requestId"] = requestID
		metrics.ObserveRequest(metricsAction(action, d.handlers), reply.Success())
	}()

	handler, ok := d.handlers[action]
	if !ok {
		log.Warningf("Unknown action %q (request %s)", action, requestID)
		return failure(apperrors.New(apperrors.UnknownAction, fmt.Sprintf("unknown action: %s", action)))
	}
	log.Infof("Request %s: %s", requestID, action)
	return handler(ctx, req)
}

// metricsAction keeps the label set bounded to the known actions.
func metricsAction(action string, handlers map[string]handlerFunc) string {
	if _, ok := handlers[action]; ok {
		return action
	}
	return "unknown"
}

func (d *Dispatcher) handleConnect(ctx context.Context, req *Request) Reply {
	login, _, err := req.Int64("login")
	if err != nil {
		return failure(err)
	}
	p := session.ConnectParams{
		Path:     req.String("path"),
		Login:    login,
		Password: req.String("password"),
		Server:   req.String("server"),
	}
	if err := d.session.Connect(ctx, p); err != nil {
		return failure(apperrors.Wrap(apperrors.KindOf(err), "failed to connect to MT5", err))
	}
	return success(Reply{"status": d.session.Status(ctx)})
}

func (d *Dispatcher) handleDisconnect(ctx context.Context, _ *Request) Reply {
	d.session.Disconnect(ctx)
	return success(Reply{"message": "MT5 disconnected"})
}

func (d *Dispatcher) handleStatus(ctx context.Context, _ *Request) Reply {
	return success(Reply{"status": d.session.Status(ctx)})
}

func (d *Dispatcher) handleExtract(_ context.Context, req *Request) Reply {
	start, err := extraction.ParseDate(req.String("start_date"))
	if err != nil {
		return failure(err)
	}
	end := d.now().UTC()
	if s := req.String("end_date"); s != "" {
		if end, err = extraction.ParseDate(s); err != nil {
			return failure(err)
		}
	}
	if end.Before(start) {
		return failure(apperrors.New(apperrors.InvalidDateFormat, "end_date is before start_date"))
	}

	id := req.String("extract_id")
	if id == "" {
		id = extraction.GenerateID(d.now())
	}

	if _, err := d.jobs.Start(extraction.Request{JobID: id, Start: start, End: end}); err != nil {
		return failure(err)
	}
	return success(Reply{"extract_id": id, "message": "extraction started"})
}

func (d *Dispatcher) handleExtractStatus(_ context.Context, req *Request) Reply {
	id := req.String("extract_id")
	if id == "" {
		return failure(apperrors.New(apperrors.InvalidRequest, "extract_id not provided"))
	}
	if !persistance.ValidID(id) {
		return failure(apperrors.New(apperrors.InvalidRequest, fmt.Sprintf("invalid extract_id %q", id)))
	}
	job, ok := d.jobs.Registry().Lookup(id)
	if !ok {
		return failure(apperrors.New(apperrors.InvalidRequest, fmt.Sprintf("extraction %s not found", id)))
	}
	return success(Reply{"status": job})
}

func (d *Dispatcher) handleCancelExtract(ctx context.Context, req *Request) Reply {
	id := req.String("extract_id")
	if id == "" {
		return failure(apperrors.New(apperrors.InvalidRequest, "extract_id not provided"))
	}
	if !d.jobs.Cancel(ctx, id) {
		return failure(apperrors.New(apperrors.InvalidRequest, fmt.Sprintf("extraction %s is not active", id)))
	}
	return success(Reply{"message": fmt.Sprintf("extraction %s cancelled", id)})
}

func (d *Dispatcher) handleListAccounts(ctx context.Context, _ *Request) Reply {
	return success(Reply{"accounts": d.session.ListAvailableAccounts(ctx)})
}

func (d *Dispatcher) handleSelectAccount(ctx context.Context, req *Request) Reply {
	login, ok, err := req.Int64("login")
	if err != nil {
		return failure(err)
	}
	if !ok || login == 0 {
		return failure(apperrors.New(apperrors.InvalidRequest, "login not provided"))
	}
	if err := d.session.SelectAccount(ctx, login, req.String("password"), req.String("server")); err != nil {
		return failure(err)
	}
	return success(Reply{
		"message":      fmt.Sprintf("account %d selected", login),
		"account_info": d.session.Status(ctx).AccountInfo,
	})
}

func (d *Dispatcher) handleSavePreference(_ context.Context, req *Request) Reply {
	login, ok, err := req.Int64("login")
	if err != nil {
		return failure(err)
	}
	if !ok || login == 0 {
		return failure(apperrors.New(apperrors.InvalidRequest, "login not provided"))
	}
	pref, err := d.prefs.Save(login, req.String("server"), req.String("config_path"))
	if err != nil {
		return failure(err)
	}
	return success(Reply{"message": "account preference saved", "preference": pref})
}

func (d *Dispatcher) handleLoadPreference(_ context.Context, req *Request) Reply {
	pref, err := d.prefs.Load(req.String("config_path"))
	if err != nil {
		return failure(err)
	}
	if pref == nil {
		return Reply{"success": false, "message": "no account preference found"}
	}
	return success(Reply{"preference": pref})
}
