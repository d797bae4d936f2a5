// Package httpclient implements HttpSession (§4.B): a pool of
// inflight-correlated signed HTTP calls whose responses are delivered in
// completion order rather than request order.
package httpclient

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Response is the typed, decoded result of one HTTP call, tagged with the
// request_tag the caller supplied at dispatch time.
type Response struct {
	Tag   string
	Value any
	Err   error
}

// Decoder turns a raw HTTP outcome into a typed Response. It runs on the
// calling goroutine of the in-flight request, not the session's.
type Decoder func(tag string, body []byte, status int, transportErr error) Response

// Session fires HTTP requests fire-and-forget and funnels completions onto
// a single channel in completion order.
type Session struct {
	client *http.Client
	out    chan Response
}

// New builds a session around the given *http.Client (nil uses
// http.DefaultClient).
func New(client *http.Client) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{client: client, out: make(chan Response, 64)}
}

// SendAndHandle queues req under request_tag and spawns its execution.
// The decoder produces the typed Response once the call completes — on
// transport failure the decoder still runs, with transportErr set, so
// venue-specific decoders can distinguish a venue rejection (body present,
// HTTP 4xx/5xx) from an outright transport failure (no body).
func (s *Session) SendAndHandle(ctx context.Context, tag string, req *http.Request, decode Decoder) {
	go func() {
		resp, err := s.client.Do(req.WithContext(ctx))
		if err != nil {
			s.out <- decode(tag, nil, 0, err)
			return
		}
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			s.out <- decode(tag, nil, resp.StatusCode, readErr)
			return
		}
		s.out <- decode(tag, body, resp.StatusCode, nil)
	}()
}

// Recv blocks for the next completed response, in completion order.
func (s *Session) Recv() Response {
	return <-s.out
}

// PollRecv returns a completed response if one is immediately available.
func (s *Session) PollRecv() (Response, bool) {
	select {
	case r := <-s.out:
		return r, true
	default:
		return Response{}, false
	}
}

// Responses exposes the completion channel for callers that want to
// select against it alongside other event sources (e.g. ExecutionRouter's
// main loop).
func (s *Session) Responses() <-chan Response {
	return s.out
}

// LogTransportError is a small helper decoders share to record a
// transport-level failure without duplicating the log call-site shape at
// every venue adapter.
func LogTransportError(tag string, err error) {
	log.Error().Str("tag", tag).Err(err).Msg("http transport error")
}
