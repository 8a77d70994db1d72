package provider

import (
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/tsa-verifier/internal/cms"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

// tableYAML is the YAML representation of a provider table.
type tableYAML struct {
	Providers []profileYAML `yaml:"providers"`
}

// profileYAML is the YAML representation of a Profile.
type profileYAML struct {
	Name           string    `yaml:"name"`
	DisplayName    string    `yaml:"display_name,omitempty"`
	URL            string    `yaml:"url,omitempty"`
	Aliases        []string  `yaml:"aliases,omitempty"`
	HashAlgorithms []string  `yaml:"hash_algorithms,omitempty"`
	Trust          trustYAML `yaml:"trust"`
}

type trustYAML struct {
	Mode                   string   `yaml:"mode"`
	Anchors                string   `yaml:"anchors,omitempty"`      // PEM certificates
	Fingerprints           []string `yaml:"fingerprints,omitempty"` // hex SHA-256
	PublicKey              string   `yaml:"public_key,omitempty"`   // PEM SubjectPublicKeyInfo
	Organizations          []string `yaml:"organizations,omitempty"`
	NotBefore              string   `yaml:"not_before,omitempty"`
	NotAfter               string   `yaml:"not_after,omitempty"`
	RequireTimestampingEKU bool     `yaml:"require_timestamping_eku"`
	RevokedSerials         []string `yaml:"revoked_serials,omitempty"` // hex
}

// LoadFile loads a provider table from a YAML file.
func LoadFile(path string) ([]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return Load(data)
}

// Load parses a provider table from YAML bytes.
func Load(data []byte) ([]*Profile, error) {
	var ty tableYAML
	if err := yaml.Unmarshal(data, &ty); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(ty.Providers) == 0 {
		return nil, errors.New("provider table is empty")
	}

	profiles := make([]*Profile, 0, len(ty.Providers))
	for i := range ty.Providers {
		p, err := profileYAMLToProfile(&ty.Providers[i])
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// profileYAMLToProfile converts the YAML representation to a Profile.
func profileYAMLToProfile(py *profileYAML) (*Profile, error) {
	name := strings.TrimSpace(py.Name)
	fail := func(field string, err error) error {
		return &ProfileError{Provider: name, Field: field, Err: err}
	}
	if name == "" {
		return nil, fail("name", errors.New("required"))
	}

	p := &Profile{
		Name:                   name,
		DisplayName:            py.DisplayName,
		URL:                    py.URL,
		Aliases:                py.Aliases,
		Mode:                   tsa.TrustMode(strings.ToLower(strings.TrimSpace(py.Trust.Mode))),
		Organizations:          py.Trust.Organizations,
		RequireTimestampingEKU: py.Trust.RequireTimestampingEKU,
	}

	for _, s := range py.HashAlgorithms {
		alg, err := tsa.ParseHashAlgorithm(s)
		if err != nil {
			return nil, fail("hash_algorithms", err)
		}
		p.HashAlgorithms = append(p.HashAlgorithms, alg)
	}

	if py.Trust.Anchors != "" {
		certs, err := parseCertificates(py.Trust.Anchors)
		if err != nil {
			return nil, fail("trust.anchors", err)
		}
		p.Anchors = certs
	}

	for _, s := range py.Trust.Fingerprints {
		fp, err := parseHex(s)
		if err != nil {
			return nil, fail("trust.fingerprints", err)
		}
		if len(fp) != 32 {
			return nil, fail("trust.fingerprints", fmt.Errorf("%q is not a SHA-256 fingerprint", s))
		}
		p.Fingerprints = append(p.Fingerprints, fp)
	}

	if py.Trust.PublicKey != "" {
		block, _ := pem.Decode([]byte(py.Trust.PublicKey))
		if block == nil {
			return nil, fail("trust.public_key", errors.New("no PEM block found"))
		}
		pub, err := cms.ParsePublicKey(block.Bytes)
		if err != nil {
			return nil, fail("trust.public_key", err)
		}
		p.PublicKey = pub
	}

	var err error
	if p.NotBefore, err = parseTime(py.Trust.NotBefore); err != nil {
		return nil, fail("trust.not_before", err)
	}
	if p.NotAfter, err = parseTime(py.Trust.NotAfter); err != nil {
		return nil, fail("trust.not_after", err)
	}
	if !p.NotBefore.IsZero() && !p.NotAfter.IsZero() && p.NotAfter.Before(p.NotBefore) {
		return nil, fail("trust.not_after", errors.New("before not_before"))
	}

	for _, s := range py.Trust.RevokedSerials {
		b, err := parseHex(s)
		if err != nil || len(b) == 0 {
			return nil, fail("trust.revoked_serials", fmt.Errorf("invalid serial %q", s))
		}
		p.RevokedSerials = append(p.RevokedSerials, new(big.Int).SetBytes(b))
	}

	if err := validateTrust(p); err != nil {
		return nil, fail("trust.mode", err)
	}
	return p, nil
}

// validateTrust checks that the material the trust mode needs is present.
func validateTrust(p *Profile) error {
	switch p.Mode {
	case tsa.TrustAnchors:
		if len(p.Anchors) == 0 {
			return errors.New("anchors mode requires at least one anchor certificate")
		}
	case tsa.TrustFingerprint:
		if len(p.Fingerprints) == 0 {
			return errors.New("fingerprint mode requires at least one fingerprint")
		}
	case tsa.TrustPublicKey:
		if p.PublicKey == nil {
			return errors.New("public_key mode requires a public key")
		}
	case tsa.TrustSystem:
		if len(p.Organizations) == 0 {
			return errors.New("system mode requires at least one organization")
		}
	case "":
		return errors.New("required")
	default:
		return fmt.Errorf("unknown trust mode %q", p.Mode)
	}
	return nil
}

func parseCertificates(data string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(data)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

// parseHex accepts plain or colon-separated hex, case-insensitive.
func parseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	return hex.DecodeString(strings.ToLower(s))
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}
