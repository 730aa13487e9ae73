// Package whep is the HTTP signaling adapter: one client per endpoint
// speaking the WHEP offer/answer and trickle-ICE exchange, mapping
// HTTP failures onto the client error taxonomy.
package whep

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

const (
	contentTypeSDP     = "application/sdp"
	contentTypeTrickle = "application/trickle-ice-sdpfrag"
)

// Auth carries optional credentials attached to every request. Bearer
// wins when both are set.
type Auth struct {
	BearerToken string
	BasicUser   string
	BasicPass   string
}

// Client speaks WHEP against one endpoint URL.
type Client struct {
	http     *resty.Client
	endpoint *url.URL
}

func NewClient(endpoint string, auth Auth) (*Client, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	h := resty.New().SetHeader("User-Agent", "whep-client/1.0")
	switch {
	case auth.BearerToken != "":
		h.SetAuthToken(auth.BearerToken)
	case auth.BasicUser != "":
		h.SetBasicAuth(auth.BasicUser, auth.BasicPass)
	}
	return &Client{http: h, endpoint: u}, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() {
		return nil, core.Errorf(core.KindRequest, "invalid endpoint %q", endpoint)
	}
	return u, nil
}

func (c *Client) Endpoint() string { return c.endpoint.String() }

func (c *Client) SetEndpoint(endpoint string) error {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return err
	}
	c.endpoint = u
	return nil
}

// ICEServers issues OPTIONS and parses Link: rel="ice-server" headers.
// An endpoint that advertises nothing is fine; the session then runs
// on whatever servers were configured locally.
func (c *Client) ICEServers(ctx context.Context) ([]domain.ICEServer, error) {
	resp, err := c.http.R().SetContext(ctx).Options(c.endpoint.String())
	if err != nil {
		return nil, core.WrapError(core.KindOther, err, "options request")
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}

	var servers []domain.ICEServer
	for _, header := range resp.Header().Values("Link") {
		for _, link := range splitLinks(header) {
			if s, ok := parseICELink(link); ok {
				servers = append(servers, s)
			}
		}
	}
	log.Debug().Str("module", "whep").Int("servers", len(servers)).Msg("ice servers discovered")
	return servers, nil
}

// PostOffer submits the SDP offer. Success is a 201; the Location
// header is optional, and when present the session URL is resolved
// against the endpoint so relative values work. Without it the session
// has no resource to PATCH or DELETE and the returned URL is empty.
func (c *Client) PostOffer(ctx context.Context, offer string) (string, string, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", contentTypeSDP).
		SetHeader("Accept", contentTypeSDP).
		SetBody(offer).
		Post(c.endpoint.String())
	if err != nil {
		return "", "", core.WrapError(core.KindOther, err, "post offer")
	}
	if err := statusError(resp); err != nil {
		return "", "", err
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", "", core.Errorf(core.KindSignaling, "unexpected offer status %d", resp.StatusCode())
	}
	sessionURL := ""
	if location := resp.Header().Get("Location"); location != "" {
		loc, err := url.Parse(location)
		if err != nil {
			return "", "", core.WrapError(core.KindSignaling, err, "parse session location")
		}
		sessionURL = c.endpoint.ResolveReference(loc).String()
	} else {
		log.Warn().Str("module", "whep").Msg("offer accepted without a Location header, trickle disabled")
	}
	log.Info().Str("module", "whep").Str("session", sessionURL).Msg("offer accepted")
	// Body bytes verbatim: resty's String() trims whitespace and would
	// eat the answer's trailing CRLF.
	return string(resp.Body()), sessionURL, nil
}

// PatchCandidates sends one trickle fragment to the session resource.
// If-Match: * targets the current ICE session unconditionally.
func (c *Client) PatchCandidates(ctx context.Context, sessionURL, fragment string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", contentTypeTrickle).
		SetHeader("If-Match", "*").
		SetBody(fragment).
		Patch(sessionURL)
	if err != nil {
		return core.WrapError(core.KindOther, err, "patch candidates")
	}
	return statusError(resp)
}

func (c *Client) Delete(ctx context.Context, sessionURL string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(sessionURL)
	if err != nil {
		return core.WrapError(core.KindOther, err, "delete session")
	}
	return statusError(resp)
}

// statusError maps a non-2xx response onto the error taxonomy: 404 and
// 406 mean the remote resource is gone, a 400 carries a JSON error
// body worth surfacing, and everything else is a generic request
// error.
func statusError(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusNotAcceptable:
		return core.Errorf(core.KindNotFound, "resource unavailable (status %d)", code)
	case code == http.StatusBadRequest:
		if msg := jsonError(resp.Body()); msg != "" {
			return core.Errorf(core.KindRequest, "rejected: %s", msg)
		}
		return core.NewError(core.KindRequest, "rejected (status 400)")
	default:
		return core.Errorf(core.KindRequest, "rejected (status %d)", code)
	}
}

func jsonError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

// splitLinks splits a Link header value on the commas that separate
// link-values, leaving commas inside <> or quotes alone.
func splitLinks(header string) []string {
	var out []string
	depth, quoted, start := 0, false, 0
	for i, r := range header {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '<':
			depth++
		case r == '>':
			depth--
		case r == ',' && depth == 0:
			out = append(out, header[start:i])
			start = i + 1
		}
	}
	out = append(out, header[start:])
	return out
}

// parseICELink parses one link-value of the form
// <stun:host:port>; rel="ice-server"; username="u"; credential="c".
func parseICELink(link string) (domain.ICEServer, bool) {
	parts := strings.Split(link, ";")
	if len(parts) == 0 {
		return domain.ICEServer{}, false
	}
	target := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
		return domain.ICEServer{}, false
	}
	s := domain.ICEServer{URL: strings.Trim(target, "<>")}

	isICE := false
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "rel":
			isICE = value == "ice-server"
		case "username":
			s.Username = value
		case "credential":
			s.Credential = value
		}
	}
	return s, isICE
}
