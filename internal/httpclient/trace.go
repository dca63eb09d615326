package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxLoggedBody caps how much of a response body ends up in the trace log.
const maxLoggedBody = 4 << 10

type traceTransport struct {
	base http.RoundTripper
	name string
}

// NewTraceClient returns an HTTP client that logs outgoing requests and
// their responses at trace level. Credentials in the URL are redacted.
func NewTraceClient(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &traceTransport{base: http.DefaultTransport, name: name},
	}
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if zerolog.GlobalLevel() > zerolog.TraceLevel {
		return t.base.RoundTrip(req)
	}

	target := redactURL(req.URL)
	start := time.Now()
	log.Trace().Str("client", t.name).Str("method", req.Method).Str("url", target).Msg("HTTP request")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		log.Trace().
			Str("client", t.name).
			Str("url", target).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("HTTP request failed")
		return nil, err
	}

	body, readErr := peekBody(resp)
	ev := log.Trace().
		Str("client", t.name).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start))
	if readErr != nil {
		ev = ev.Err(readErr)
	}
	switch {
	case len(body) == 0:
	case json.Valid(body):
		ev = ev.RawJSON("body", body)
	default:
		ev = ev.Str("body", string(body))
	}
	ev.Msg("HTTP response")

	return resp, nil
}

// peekBody reads the start of the body and puts it back in front of the
// unread rest.
func peekBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}
	return head, err
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	c := *u
	if _, ok := c.User.Password(); ok {
		c.User = url.UserPassword(c.User.Username(), "redacted")
	}
	if c.RawQuery != "" {
		q := c.Query()
		for key := range q {
			if isSensitiveQueryKey(key) {
				q.Set(key, "redacted")
			}
		}
		c.RawQuery = q.Encode()
	}
	return c.String()
}

func isSensitiveQueryKey(key string) bool {
	switch strings.ToLower(key) {
	case "apikey", "api_key", "api-key", "key", "secret", "signature", "token", "access_token", "code", "authorization", "auth":
		return true
	default:
		return false
	}
}
