package classifier

import (
	"context"
	"sync"
)

// Stub classifies with the fixed error-rate/latency rule and no budget input.
// It stands in for the classifier service where none is deployed.
type Stub struct {
	mu        sync.RWMutex
	overrides map[string]Response
}

// NewStub creates a stub classifier.
func NewStub() *Stub {
	return &Stub{
		overrides: make(map[string]Response),
	}
}

// SetOverride forces the verdict for one shard (useful for demos and tests).
func (s *Stub) SetOverride(shard string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[shard] = resp
}

// Classify implements Classifier.
func (s *Stub) Classify(_ context.Context, req Request) (Response, error) {
	s.mu.RLock()
	resp, ok := s.overrides[req.ShardID]
	s.mu.RUnlock()
	if ok {
		return resp, nil
	}

	return verdict(req.ErrorRate >= 0.12 || req.P95LatencyMs >= 800), nil
}
