package auth

import (
	"context"
	"fmt"

	"github.com/brojonat/swapper/service/swaperr"
)

// Attestor obtains a device-attestation credential from the platform's
// integrity service. The credential is opaque to this package.
type Attestor interface {
	Attest(ctx context.Context) (string, error)
}

// AttestorFunc adapts a function to Attestor.
type AttestorFunc func(ctx context.Context) (string, error)

func (f AttestorFunc) Attest(ctx context.Context) (string, error) { return f(ctx) }

// StaticAttestor returns a fixed attestation token, as provisioned through
// configuration on hosts without an integrity service. An empty token means
// no attestation instance is available.
func StaticAttestor(token string) Attestor {
	return AttestorFunc(func(ctx context.Context) (string, error) {
		if token == "" {
			return "", fmt.Errorf("%w: no attestation token configured", swaperr.ErrAttestationUnavailable)
		}
		return token, nil
	})
}
