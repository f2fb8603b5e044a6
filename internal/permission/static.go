// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package permission

import (
	"context"
	"sync"
)

// StaticSubstrate is a permission substrate backed by configured answers. The daemon has no
// prompt UI of its own, so a request returns the configured state unchanged. Set changes the
// state at runtime.
type StaticSubstrate struct {
	mu        sync.RWMutex
	responses Responses
	declared  map[Kind]bool
}

// NewStaticSubstrate returns a StaticSubstrate answering with responses. Kinds missing from
// responses are reported as missing answers. backgroundDeclared controls IsDeclared(Background);
// fine and coarse are always declared.
func NewStaticSubstrate(responses Responses, backgroundDeclared bool) *StaticSubstrate {
	copied := make(Responses, len(responses))
	for k, v := range responses {
		copied[k] = v
	}
	return &StaticSubstrate{
		responses: copied,
		declared: map[Kind]bool{
			Fine:       true,
			Coarse:     true,
			Background: backgroundDeclared,
		},
	}
}

// Query implements Substrate.
func (s *StaticSubstrate) Query(_ context.Context, kinds ...Kind) (Responses, error) {
	return s.snapshot(kinds), nil
}

// Request implements Substrate.
func (s *StaticSubstrate) Request(ctx context.Context, kinds ...Kind) (Responses, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.snapshot(kinds), nil
}

// IsDeclared implements Substrate.
func (s *StaticSubstrate) IsDeclared(kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.declared[kind]
}

// IsGranted implements Substrate.
func (s *StaticSubstrate) IsGranted(kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.responses[kind]
	return ok && resp.Status == StatusGranted
}

// Set replaces the answer for kind.
func (s *StaticSubstrate) Set(kind Kind, resp Response) {
	s.mu.Lock()
	s.responses[kind] = resp
	s.mu.Unlock()
}

func (s *StaticSubstrate) snapshot(kinds []Kind) Responses {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Responses, len(kinds))
	for _, k := range kinds {
		if resp, ok := s.responses[k]; ok {
			out[k] = resp
		}
	}
	return out
}
