// Package mocks provides testify mocks of the gateway's collaborators.
package mocks

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/kweaver-ai/consolegate/internal/discovery"
)

// Resolver is a testify mock for discovery.Resolver
type Resolver struct {
	mock.Mock
}

// Resolve returns the configured snapshot or error
func (m *Resolver) Resolve(ctx context.Context, cluster *http.Cookie) (*discovery.ServiceConfig, error) {
	args := m.Called(ctx, cluster)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.ServiceConfig), args.Error(1)
}

var _ discovery.Resolver = (*Resolver)(nil)
