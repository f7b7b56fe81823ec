package sign

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/retry"
)

// WinSigner is the Windows authenticode contract.
type WinSigner interface {
	Configured() bool
	Sign(ctx context.Context, path string) error
	// IntegrityHash returns the SHA-256 of the (signed) file for release
	// notes and update manifests.
	IntegrityHash(path string) (string, error)
}

// WinConfig carries the authenticode environment (WINDOWS_* variables).
type WinConfig struct {
	CertPath     string
	KeyPath      string
	CertPassword string
	TimestampURL string
}

// WinConfigFromEnv reads the WINDOWS_* variables.
func WinConfigFromEnv() WinConfig {
	return WinConfig{
		CertPath:     os.Getenv("WINDOWS_CERT_PATH"),
		KeyPath:      os.Getenv("WINDOWS_KEY_PATH"),
		CertPassword: os.Getenv("WINDOWS_CERT_PASSWORD"),
		TimestampURL: os.Getenv("WINDOWS_TIMESTAMP_URL"),
	}
}

// OsslSigner signs PE files with osslsigncode, which runs on any host.
type OsslSigner struct {
	cfg WinConfig
}

// NewWinSigner creates the production signer.
func NewWinSigner(cfg WinConfig) *OsslSigner {
	return &OsslSigner{cfg: cfg}
}

func (s *OsslSigner) Configured() bool {
	return s.cfg.CertPath != ""
}

// Sign authenticode-signs the file in place. Fatal on failure: signing was
// explicitly configured.
func (s *OsslSigner) Sign(ctx context.Context, path string) error {
	tmp := path + ".signed"
	args := []string{"sign", "-certs", s.cfg.CertPath}
	if s.cfg.KeyPath != "" {
		args = append(args, "-key", s.cfg.KeyPath)
	}
	if s.cfg.CertPassword != "" {
		args = append(args, "-pass", s.cfg.CertPassword)
	}
	ts := s.cfg.TimestampURL
	if ts == "" {
		ts = "http://timestamp.digicert.com"
	}
	args = append(args, "-ts", ts, "-h", "sha256", "-in", path, "-out", tmp)

	signLogger := log.WithComponent("sign")
	signLogger.Info().Str("path", path).Msg("authenticode signing")
	if out, err := exec.CommandContext(ctx, "osslsigncode", args...).CombinedOutput(); err != nil {
		os.Remove(tmp)
		return retry.MarkFatal(fmt.Errorf("osslsigncode failed: %w: %s", err, strings.TrimSpace(string(out))))
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing signed binary: %w", err)
	}
	return nil
}

func (s *OsslSigner) IntegrityHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
