package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appfort/warden/internal/config"
)

// Certificate file names used for directory-based configuration.
const (
	caCertName = "ca.crt"
	certName   = "server.crt"
	keyName    = "server.key"
)

// parseVersion maps a config string to a TLS version constant.
func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveVersions returns the min/max TLS versions for the server, defaulting
// both to 1.3 when unset or unrecognized.
func resolveVersions(server config.ServerConfig) (minVer, maxVer uint16) {
	minVer = tls.VersionTLS13
	maxVer = tls.VersionTLS13
	if v, ok := parseVersion(server.TLSMinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(server.TLSMaxVersion); ok {
		maxVer = v
	}
	return minVer, maxVer
}

// safeReadFile reads p only if it stays inside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, errors.New("certificate path escapes its directory")
		}
	}
	return os.ReadFile(clean)
}

// loaderFor returns a GetCertificate func that re-reads the pair on every
// handshake, so rotated certificates are picked up without a restart.
func loaderFor(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup builds the server TLS configuration. It returns (nil, nil) when TLS
// is not enabled. Explicit cert/key files take precedence over a certificate
// directory; with a directory, missing material is generated on demand when
// auto_generate is set.
func Setup(server config.ServerConfig) (*tls.Config, error) {
	if server.TLS == nil || !server.TLS.Enabled {
		return nil, nil
	}

	minVer, maxVer := resolveVersions(server)

	if server.TLS.CertFile != "" && server.TLS.KeyFile != "" {
		return newConfig(server.TLS.CertFile, server.TLS.KeyFile, minVer, maxVer), nil
	}

	if server.TLS.Dir != "" {
		certPath := filepath.Join(server.TLS.Dir, certName)
		keyPath := filepath.Join(server.TLS.Dir, keyName)
		if server.TLS.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generate(server.TLS, server.TLS.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but neither cert files nor a certificate directory configured")
}

// SelfSigned enables TLS backed by a generated certificate in dir. Meant for
// development and tests.
func SelfSigned(dir string) (*tls.Config, error) {
	return Setup(config.ServerConfig{TLS: &config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
	}})
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 minimum version comes from validated config
	return &tls.Config{
		GetCertificate: loaderFor(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orDefaultSlice(value, fallback []string) []string {
	if len(value) == 0 {
		return fallback
	}
	return value
}

// generate produces a self-signed pair in destDir using the auto_gen settings
// with development-friendly defaults.
func generate(tlsCfg *config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}

	autoGen := tlsCfg.AutoGen
	if autoGen == nil {
		autoGen = &config.AutoGenTLS{}
	}
	validDays := autoGen.ValidDays
	if validDays <= 0 {
		validDays = 2 * 365
	}

	return GenerateSelfSigned(CertSpec{
		CommonName:   orDefault(autoGen.CommonName, "localhost"),
		Organization: orDefault(autoGen.Organization, "warden"),
		DNSNames:     orDefaultSlice(autoGen.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefaultSlice(autoGen.IPAddresses, []string{"127.0.0.1"}),
		ValidDays:    validDays,
		CertPath:     filepath.Join(destDir, certName),
		KeyPath:      filepath.Join(destDir, keyName),
		CACertPath:   filepath.Join(destDir, caCertName),
	})
}
