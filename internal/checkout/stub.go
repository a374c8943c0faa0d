package checkout

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StubGateway is an in-process Gateway for local development without a
// provider account. Sessions point straight at the success URL and every
// known session reports paid.
type StubGateway struct {
	mu       sync.Mutex
	sessions map[string]bool
}

// NewStubGateway returns an empty StubGateway.
func NewStubGateway() *StubGateway {
	return &StubGateway{sessions: map[string]bool{}}
}

func (g *StubGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	id := "cs_stub_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	g.mu.Lock()
	g.sessions[id] = true
	g.mu.Unlock()
	return &Session{ID: id, URL: req.SuccessURL}, nil
}

func (g *StubGateway) RetrieveSession(_ context.Context, id string) (*SessionStatus, error) {
	g.mu.Lock()
	paid, ok := g.sessions[id]
	g.mu.Unlock()
	if !ok {
		return nil, ErrRejected
	}
	return &SessionStatus{ID: id, Paid: paid}, nil
}
