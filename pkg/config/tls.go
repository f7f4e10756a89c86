package config

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// certTTL bounds how long a loaded key pair is reused before the files are
// read again, so rotated certificates are picked up without a restart.
const certTTL = 10 * time.Second

// TLS configures mutual TLS for the agent endpoint and the clients that
// call peers' agents.
type TLS struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"ca_file"`
    CertFile           string `yaml:"cert_file"`
    KeyFile            string `yaml:"key_file"`
    ServerName         string `yaml:"server_name"`
    InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

func (t TLS) pool() (*x509.CertPool, error) {
    if t.CAFile == "" { return nil, nil }
    pem, err := os.ReadFile(t.CAFile)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tls: no certificates in %s", t.CAFile) }
    return pool, nil
}

// Server returns the server side config, or nil when TLS is disabled.
func (t TLS) Server() (*tls.Config, error) {
    if !t.Enable { return nil, nil }
    if t.CertFile == "" || t.KeyFile == "" {
        return nil, errors.New("tls: cert_file and key_file are required when TLS is enabled")
    }
    cc := &certCache{certFile: t.CertFile, keyFile: t.KeyFile}
    if _, err := cc.get(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return cc.get() }
    pool, err := t.pool()
    if err != nil { return nil, err }
    if pool != nil {
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns the client side config, or nil when TLS is disabled.
func (t TLS) Client() (*tls.Config, error) {
    if !t.Enable { return nil, nil }
    cfg := &tls.Config{InsecureSkipVerify: t.InsecureSkipVerify, ServerName: t.ServerName, MinVersion: tls.VersionTLS12} //nolint:gosec
    pool, err := t.pool()
    if err != nil { return nil, err }
    cfg.RootCAs = pool
    if t.CertFile != "" && t.KeyFile != "" {
        cc := &certCache{certFile: t.CertFile, keyFile: t.KeyFile}
        if _, err := cc.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return cc.get() }
    }
    return cfg, nil
}

type certCache struct {
    certFile, keyFile string

    mu     sync.Mutex
    cert   *tls.Certificate
    loaded time.Time
}

func (c *certCache) get() (*tls.Certificate, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.cert != nil && time.Since(c.loaded) < certTTL { return c.cert, nil }
    cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
    if err != nil {
        if c.cert != nil { return c.cert, nil }
        return nil, err
    }
    c.cert, c.loaded = &cert, time.Now()
    return c.cert, nil
}
