// Package provider holds the registry of known timestamping authorities and
// the trust rules that bind a token to one of them.
package provider

import (
	"crypto"
	"crypto/x509"
	"math/big"
	"slices"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

// Profile describes one timestamping authority. Profiles are immutable
// once loaded.
type Profile struct {
	Name        string
	DisplayName string
	URL         string
	Aliases     []string

	Mode          tsa.TrustMode
	Anchors       []*x509.Certificate
	Fingerprints  [][]byte
	PublicKey     crypto.PublicKey
	Organizations []string

	// HashAlgorithms lists the message-imprint algorithms the provider is
	// accepted with. Empty accepts any recognized algorithm.
	HashAlgorithms []tsa.HashAlgorithm

	// NotBefore and NotAfter bound the generation times the provider is
	// trusted for. Zero values leave the bound open.
	NotBefore time.Time
	NotAfter  time.Time

	RequireTimestampingEKU bool
	RevokedSerials         []*big.Int
}

// Permitted returns the permitted message-imprint algorithms.
func (p *Profile) Permitted() []tsa.HashAlgorithm {
	return slices.Clone(p.HashAlgorithms)
}

// Title returns the display name, or the name when none is set.
func (p *Profile) Title() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// TrustPolicy converts the profile into the policy the signature validator
// enforces. roots overrides the system pool in system mode; nil keeps the
// platform roots.
func (p *Profile) TrustPolicy(roots *x509.CertPool) *tsa.TrustPolicy {
	return &tsa.TrustPolicy{
		Provider:               p.Name,
		Mode:                   p.Mode,
		Anchors:                p.Anchors,
		Fingerprints:           p.Fingerprints,
		PublicKey:              p.PublicKey,
		Organizations:          p.Organizations,
		Roots:                  roots,
		NotBefore:              p.NotBefore,
		NotAfter:               p.NotAfter,
		RequireTimestampingEKU: p.RequireTimestampingEKU,
		RevokedSerials:         p.RevokedSerials,
	}
}
