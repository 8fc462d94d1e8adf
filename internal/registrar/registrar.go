// Package registrar selects the registrar client the worker fulfills
// domain purchases through. The wire protocol lives behind
// domain.Registrar; this package only knows how to construct the named
// implementations.
package registrar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/skadi/internal/domain"
)

// Known provider names.
const (
	ProviderSandbox = "sandbox"
)

// New creates the registrar client named in configuration. Unknown names
// are a startup error rather than a runtime surprise.
func New(name string, logger *slog.Logger) (domain.Registrar, error) {
	switch name {
	case ProviderSandbox, "":
		return NewSandbox(logger), nil
	default:
		return nil, fmt.Errorf("unknown registrar provider %q (known: %s)", name, ProviderSandbox)
	}
}

// Sandbox is a registrar client that accepts every operation. It exists so
// the full purchase pipeline can run against environments with no registry
// connectivity.
type Sandbox struct {
	logger *slog.Logger
}

// NewSandbox creates a sandbox registrar.
func NewSandbox(logger *slog.Logger) *Sandbox {
	return &Sandbox{logger: logger}
}

func (s *Sandbox) RegisterDomain(ctx context.Context, params domain.RegisterDomainParams) error {
	s.logger.Info("sandbox registrar: register",
		"domain_name", params.DomainName,
		"years", params.Years,
	)
	return nil
}

func (s *Sandbox) RenewDomain(ctx context.Context, params domain.RenewDomainParams) error {
	s.logger.Info("sandbox registrar: renew",
		"domain_name", params.DomainName,
		"years", params.Years,
	)
	return nil
}
