package tls

import "github.com/appfort/warden/internal/config"

// Builder assembles a config.TLSConfig step by step. Useful when embedding
// the supervisor and configuring TLS from code rather than a TOML file.
type Builder struct {
	cfg *config.TLSConfig
}

func NewBuilder() *Builder {
	return &Builder{cfg: &config.TLSConfig{Enabled: true}}
}

// CertFiles points the server at an existing certificate/key pair.
func (b *Builder) CertFiles(certFile, keyFile string) *Builder {
	b.cfg.CertFile = certFile
	b.cfg.KeyFile = keyFile
	return b
}

// Dir selects directory-based certificate material.
func (b *Builder) Dir(dir string) *Builder {
	b.cfg.Dir = dir
	return b
}

// AutoGenerate turns on on-demand self-signed generation for the directory,
// with the given subject settings.
func (b *Builder) AutoGenerate(commonName string, dnsNames []string, validDays int) *Builder {
	b.cfg.AutoGenerate = true
	b.cfg.AutoGen = &config.AutoGenTLS{
		CommonName: commonName,
		DNSNames:   dnsNames,
		ValidDays:  validDays,
	}
	return b
}

func (b *Builder) Build() *config.TLSConfig {
	return b.cfg
}

// Development returns a TLS config that self-generates a localhost
// certificate in dir.
func Development(dir string) *config.TLSConfig {
	return NewBuilder().
		Dir(dir).
		AutoGenerate("localhost", []string{"localhost"}, 365).
		Build()
}

// Production returns a TLS config requiring operator-provided certificates.
func Production(certFile, keyFile string) *config.TLSConfig {
	return NewBuilder().CertFiles(certFile, keyFile).Build()
}
