package dahuarpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single RPC round trip. Past this the device is
// treated as unreachable.
const DefaultTimeout = 10 * time.Second

// NewHTTPClient returns the base client for device connections. NewClient
// gives each connection its own copy of the transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// deviceHTTPClient copies base with a private transport so idle connections
// can be dropped for one device without touching the others.
func deviceHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		return nil
	}
	c := *base
	if t, ok := base.Transport.(*http.Transport); ok {
		c.Transport = t.Clone()
	}
	return &c
}

// Request is the JSON envelope POSTed to the device.
type Request struct {
	ID      int    `json:"id"`
	Session string `json:"session,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Object  *int64 `json:"object,omitempty"`
}

// Response is a decoded device reply with the ambiguous fields already
// normalized: Session is always a string and Result is always a number
// (true maps to 1, false to 0).
type Response struct {
	ID      int
	Session string
	Error   *ResponseError
	Params  json.RawMessage
	Result  int64
}

// OK reports whether the result field was truthy.
func (r Response) OK() bool {
	return r.Result != 0
}

// Decode unmarshals params into v. Missing params are a protocol error.
func (r Response) Decode(v any) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return &ProtocolError{Msg: "no 'params' field"}
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return &ProtocolError{Msg: "decode params", Err: err}
	}
	return nil
}

type rawResponse struct {
	ID      int             `json:"id"`
	Session json.RawMessage `json:"session"`
	Error   *ResponseError  `json:"error"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
}

func decodeResponse(body []byte) (Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}, &ProtocolError{Msg: "decode response", Err: err}
	}

	session, err := normalizeSession(raw.Session)
	if err != nil {
		return Response{}, err
	}
	result, err := normalizeResult(raw.Result)
	if err != nil {
		return Response{}, err
	}

	return Response{
		ID:      raw.ID,
		Session: session,
		Error:   raw.Error,
		Params:  raw.Params,
		Result:  result,
	}, nil
}

func normalizeSession(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", &ProtocolError{Msg: fmt.Sprintf("session is neither string nor number: %s", raw)}
}

func normalizeResult(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return int64(f), nil
		}
	}
	return 0, &ProtocolError{Msg: fmt.Sprintf("result is neither bool nor number: %s", raw)}
}

// RequestBuilder carries everything needed to issue one call. It is a value
// type; each setter returns a modified copy.
type RequestBuilder struct {
	client         *http.Client
	url            string
	req            Request
	requireSession bool
	observe        func(method string, err error)
}

// NewRequestBuilder binds a request id, endpoint and session token.
func NewRequestBuilder(client *http.Client, url string, id int, session string) RequestBuilder {
	return RequestBuilder{
		client: client,
		url:    url,
		req:    Request{ID: id, Session: session},
	}
}

func (b RequestBuilder) RequireSession() RequestBuilder {
	b.requireSession = true
	return b
}

func (b RequestBuilder) Method(method string) RequestBuilder {
	b.req.Method = method
	return b
}

func (b RequestBuilder) Params(params any) RequestBuilder {
	b.req.Params = params
	return b
}

func (b RequestBuilder) Object(object int64) RequestBuilder {
	b.req.Object = &object
	return b
}

// Session returns the token the request will carry.
func (b RequestBuilder) Session() string {
	return b.req.Session
}

// SendRaw performs the call and decodes the envelope without interpreting
// the error field.
func (b RequestBuilder) SendRaw(ctx context.Context) (Response, error) {
	res, err := b.sendRaw(ctx)
	if b.observe != nil {
		b.observe(b.req.Method, err)
	}
	return res, err
}

func (b RequestBuilder) sendRaw(ctx context.Context) (Response, error) {
	if b.requireSession && b.req.Session == "" {
		return Response{}, &SessionError{Msg: "no session"}
	}
	if b.client == nil {
		return Response{}, &TransportError{Err: fmt.Errorf("no http client")}
	}

	payload, err := json.Marshal(b.req)
	if err != nil {
		return Response{}, &ProtocolError{Msg: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRes, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}

	return decodeResponse(body)
}

// Send performs the call and converts an error field into a typed error.
func (b RequestBuilder) Send(ctx context.Context) (Response, error) {
	res, err := b.SendRaw(ctx)
	if err != nil {
		return res, err
	}
	if res.Error != nil {
		return res, fromResponseError(res.Error)
	}
	return res, nil
}
