package dispatcher

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
)

// Request is one decoded client message: the action plus its parameters.
type Request struct {
	Action    string
	RequestID string
	Params    map[string]any
}

// DecodeRequest parses a JSON object carrying at least an action field.
// Numbers are kept as json.Number so logins never lose precision.
func DecodeRequest(data []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidRequest, "request is not a JSON object", err)
	}
	if params == nil {
		return nil, apperrors.New(apperrors.InvalidRequest, "request is not a JSON object")
	}
	req := &Request{Params: params}
	req.Action, _ = params["action"].(string)
	switch id := params["requestId"].(type) {
	case string:
		req.RequestID = id
	case json.Number:
		req.RequestID = id.String()
	}
	return req, nil
}

// String returns the named parameter as text; missing or null yields "".
func (r *Request) String(key string) string {
	switch v := r.Params[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Int64 returns the named parameter as an integer. Clients send logins both
// as numbers and as strings. ok is false when the parameter is absent.
func (r *Request) Int64(key string) (n int64, ok bool, err error) {
	raw, present := r.Params[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	var text string
	switch v := raw.(type) {
	case json.Number:
		text = v.String()
	case string:
		if v == "" {
			return 0, false, nil
		}
		text = v
	default:
		return 0, true, apperrors.New(apperrors.InvalidRequest, fmt.Sprintf("%s must be an integer", key))
	}
	n, err = strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, true, apperrors.Wrap(apperrors.InvalidRequest, fmt.Sprintf("%s must be an integer", key), err)
	}
	return n, true, nil
}

// Reply is the JSON object sent back for every request.
type Reply map[string]any

func success(fields Reply) Reply {
	reply := Reply{"success": true}
	for k, v := range fields {
		reply[k] = v
	}
	return reply
}

func failure(err error) Reply {
	reply := Reply{"success": false, "error": errorText(err)}
	if kind := apperrors.KindOf(err); kind != "" {
		reply["error_kind"] = string(kind)
	}
	return reply
}

// errorText is the client facing message: the outermost description and its
// cause, without the kind prefix.
func errorText(err error) string {
	var e *apperrors.E
	if stderrors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + errorText(e.Err)
		}
		return e.Message
	}
	return err.Error()
}

func (r Reply) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

func (r Reply) encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		log.Errorf("Encoding reply: %v", err)
		data, _ = json.Marshal(failure(fmt.Errorf("could not encode reply: %w", err)))
	}
	return data
}
