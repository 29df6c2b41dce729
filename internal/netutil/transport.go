package netutil

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewTransport creates an HTTP transport that logs whether each dial goes to
// the LAN (Home Assistant, a self-hosted geodata service) or the internet.
// Certificate verification is only disabled when insecureTLS is set, for
// Home Assistant instances running on self-signed certificates.
func NewTransport(insecureTLS bool, logger *logrus.Logger) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           createDialContext(logger),
		TLSClientConfig:       getTLSConfig(insecureTLS, logger),
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
}

func createDialContext(logger *logrus.Logger) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		if isLocalOrPrivateHost(host) {
			logger.WithField("host", host).Debug("Connecting to local/private host")
		} else {
			logger.WithField("host", host).Debug("Connecting to external host")
		}

		dialer := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, network, addr)
	}
}

// isLocalOrPrivateHost checks if a hostname is localhost or a private network address
func isLocalOrPrivateHost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".lan") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func getTLSConfig(insecureTLS bool, logger *logrus.Logger) *tls.Config {
	if insecureTLS {
		logger.Warn("TLS certificate verification is disabled")
	}
	return &tls.Config{
		InsecureSkipVerify: insecureTLS,
		MinVersion:         tls.VersionTLS12,
	}
}

// NewHTTPClient creates an HTTP client whose timeout bounds every request,
// including reading the body.
func NewHTTPClient(timeout time.Duration, insecureTLS bool, logger *logrus.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(insecureTLS, logger),
	}
}
