package sign

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
)

// MacSigner is the macOS signing and notarization contract.
type MacSigner interface {
	// Configured reports whether signing credentials are present at all.
	Configured() bool

	// Sign codesigns the bundle or file at path with the hardened runtime.
	Sign(ctx context.Context, path string, entitlements string) error

	// Notarize submits the archive at path and staples the ticket. Returns
	// nil immediately when notarization credentials are absent.
	Notarize(ctx context.Context, path string) error
}

// MacConfig carries the signing environment. Populated from the APPLE_*
// variables.
type MacConfig struct {
	Identity            string // signing identity or "-" for ad hoc
	CertificateBase64   string // base64 P12, imported into a temp keychain
	CertificatePassword string
	APIKey              string
	APIIssuer           string
	APIKeyPath          string
	AppleID             string
	Password            string
	TeamID              string
}

// MacConfigFromEnv reads the APPLE_* variables.
func MacConfigFromEnv() MacConfig {
	return MacConfig{
		Identity:            os.Getenv("APPLE_SIGNING_IDENTITY"),
		CertificateBase64:   os.Getenv("APPLE_CERTIFICATE"),
		CertificatePassword: os.Getenv("APPLE_CERTIFICATE_PASSWORD"),
		APIKey:              os.Getenv("APPLE_API_KEY"),
		APIIssuer:           os.Getenv("APPLE_API_ISSUER"),
		APIKeyPath:          os.Getenv("APPLE_API_KEY_PATH"),
		AppleID:             os.Getenv("APPLE_ID"),
		Password:            os.Getenv("APPLE_PASSWORD"),
		TeamID:              os.Getenv("APPLE_TEAM_ID"),
	}
}

// CodesignSigner drives the platform codesign / notarytool / stapler tools.
type CodesignSigner struct {
	cfg      MacConfig
	keychain string
}

// NewMacSigner creates the production signer.
func NewMacSigner(cfg MacConfig) *CodesignSigner {
	return &CodesignSigner{cfg: cfg}
}

func (s *CodesignSigner) Configured() bool {
	return s.cfg.Identity != "" || s.cfg.CertificateBase64 != ""
}

func (s *CodesignSigner) notarizeConfigured() bool {
	return (s.cfg.APIKey != "" && s.cfg.APIIssuer != "") ||
		(s.cfg.AppleID != "" && s.cfg.Password != "" && s.cfg.TeamID != "")
}

// Sign imports the certificate when provided, then codesigns with hardened
// runtime. Signing failures are fatal by the error taxonomy: the caller
// asked for signing explicitly.
func (s *CodesignSigner) Sign(ctx context.Context, path string, entitlements string) error {
	logger := log.WithComponent("sign")

	identity := s.cfg.Identity
	if s.cfg.CertificateBase64 != "" && s.keychain == "" {
		imported, err := s.importCertificate(ctx)
		if err != nil {
			return retry.MarkFatal(fmt.Errorf("importing signing certificate: %w", err))
		}
		if identity == "" {
			identity = imported
		}
	}
	if identity == "" {
		return retry.MarkFatal(fmt.Errorf("signing requested but no identity configured"))
	}

	args := []string{"--force", "--options", "runtime", "--sign", identity}
	if entitlements != "" {
		args = append(args, "--entitlements", entitlements)
	}
	if s.keychain != "" {
		args = append(args, "--keychain", s.keychain)
	}
	args = append(args, "--deep", path)

	logger.Info().Str("path", path).Msg("codesigning with hardened runtime")
	if out, err := exec.CommandContext(ctx, "codesign", args...).CombinedOutput(); err != nil {
		return retry.MarkFatal(fmt.Errorf("codesign failed: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

// importCertificate decodes the base64 P12 into a throwaway keychain and
// returns the first signing identity inside it.
func (s *CodesignSigner) importCertificate(ctx context.Context) (string, error) {
	certData, err := base64.StdEncoding.DecodeString(s.cfg.CertificateBase64)
	if err != nil {
		return "", fmt.Errorf("APPLE_CERTIFICATE is not valid base64: %w", err)
	}

	dir, err := os.MkdirTemp("", "kodegen-sign-")
	if err != nil {
		return "", err
	}
	certPath := filepath.Join(dir, "cert.p12")
	if err := os.WriteFile(certPath, certData, 0o600); err != nil {
		return "", err
	}
	defer os.Remove(certPath)

	keychain := filepath.Join(dir, "kodegen.keychain-db")
	password := uuid.NewString()

	steps := [][]string{
		{"create-keychain", "-p", password, keychain},
		{"set-keychain-settings", keychain},
		{"unlock-keychain", "-p", password, keychain},
		{"import", certPath, "-k", keychain, "-P", s.cfg.CertificatePassword,
			"-T", "/usr/bin/codesign"},
		{"set-key-partition-list", "-S", "apple-tool:,apple:", "-s", "-k", password, keychain},
	}
	for _, step := range steps {
		if out, err := exec.CommandContext(ctx, "security", step...).CombinedOutput(); err != nil {
			return "", fmt.Errorf("security %s: %w: %s", step[0], err, strings.TrimSpace(string(out)))
		}
	}
	s.keychain = keychain

	out, err := exec.CommandContext(ctx, "security", "find-identity", "-v", "-p", "codesigning", keychain).Output()
	if err != nil {
		return "", fmt.Errorf("listing identities: %w", err)
	}
	identity := parseFirstIdentity(string(out))
	if identity == "" {
		return "", fmt.Errorf("imported certificate contains no codesigning identity")
	}
	return identity, nil
}

// parseFirstIdentity extracts the identity hash from `security find-identity`
// output.
func parseFirstIdentity(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		// Shape: `1) ABCDEF0123... "Developer ID Application: ..."`
		if len(fields) >= 2 && strings.HasSuffix(fields[0], ")") {
			return fields[1]
		}
	}
	return ""
}

// Notarize zips the target when needed, submits it with notarytool, waits,
// and staples the ticket.
func (s *CodesignSigner) Notarize(ctx context.Context, path string) error {
	if !s.notarizeConfigured() {
		signLogger := log.WithComponent("sign")
		signLogger.Debug().Msg("notarization credentials absent, skipping")
		return nil
	}
	logger := log.WithComponent("sign")

	submitPath := path
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		zipPath := path + ".zip"
		if out, err := exec.CommandContext(ctx, "ditto", "-c", "-k", "--keepParent", path, zipPath).CombinedOutput(); err != nil {
			return retry.MarkFatal(fmt.Errorf("zipping for notarization: %w: %s", err, strings.TrimSpace(string(out))))
		}
		defer os.Remove(zipPath)
		submitPath = zipPath
	}

	args := []string{"notarytool", "submit", submitPath, "--wait"}
	if s.cfg.APIKey != "" {
		args = append(args, "--key-id", s.cfg.APIKey, "--issuer", s.cfg.APIIssuer)
		if s.cfg.APIKeyPath != "" {
			args = append(args, "--key", s.cfg.APIKeyPath)
		}
	} else {
		args = append(args, "--apple-id", s.cfg.AppleID, "--password", s.cfg.Password,
			"--team-id", s.cfg.TeamID)
	}

	logger.Info().Str("path", path).Msg("submitting for notarization")
	if out, err := exec.CommandContext(ctx, "xcrun", args...).CombinedOutput(); err != nil {
		return retry.MarkFatal(fmt.Errorf("notarization failed: %w: %s", err, strings.TrimSpace(string(out))))
	}

	if out, err := exec.CommandContext(ctx, "xcrun", "stapler", "staple", path).CombinedOutput(); err != nil {
		return retry.MarkFatal(fmt.Errorf("stapling failed: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}
