package core

import (
	"context"

	"github.com/dkeye/whep/internal/domain"
)

// Signaler abstracts the WHEP HTTP exchange. Implementations map
// transport-level failures onto the Error taxonomy; the orchestrator
// never inspects status codes itself.
type Signaler interface {
	// ICEServers issues OPTIONS on the endpoint and parses the
	// Link: rel="ice-server" response headers.
	ICEServers(ctx context.Context) ([]domain.ICEServer, error)
	// PostOffer submits the SDP offer. On 201 it returns the answer
	// body and the session resource URL resolved against the endpoint.
	PostOffer(ctx context.Context, offer string) (answer string, sessionURL string, err error)
	// PatchCandidates sends one trickle-ICE fragment to the session resource.
	PatchCandidates(ctx context.Context, sessionURL, fragment string) error
	// Delete requests removal of the session resource. Best-effort:
	// callers swallow the returned error.
	Delete(ctx context.Context, sessionURL string) error

	Endpoint() string
	SetEndpoint(url string) error
}
