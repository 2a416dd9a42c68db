// Package system runs the daemon's background components in a fixed order.
package system

import "context"

// Service represents a lifecycle-managed component. All daemon components
// implement this interface so the Manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service without doing any work.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string              { return n.ServiceName }
func (NoopService) Start(context.Context) error { return nil }
func (NoopService) Stop(context.Context) error  { return nil }
