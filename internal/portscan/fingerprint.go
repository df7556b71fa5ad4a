package portscan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zmap/zcrypto/tls"
)

// OS labels reported by fingerprinting.
const (
	OSWindows   = "Windows"
	OSLinux     = "Linux"
	OSFreeBSD   = "FreeBSD"
	OSLinuxUnix = "Linux/Unix"
	OSUnknown   = "unknown"
)

var tlsPorts = map[int]bool{443: true, 8443: true}

var tlsVersionNames = map[uint16]string{
	0x0300: "SSL 3.0",
	0x0301: "TLS 1.0",
	0x0302: "TLS 1.1",
	0x0303: "TLS 1.2",
	0x0304: "TLS 1.3",
}

// serverHeader sends a HEAD request to target:port and returns the Server
// response header.
func (e *Engine) serverHeader(ctx context.Context, target string, port int) (string, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext:       e.dialer.DialContext,
			DisableKeepAlives: true,
		},
		Timeout: e.config.ConnectTimeout + e.config.BannerTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer client.CloseIdleConnections()

	url := "http://" + net.JoinHostPort(target, strconv.Itoa(port)) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	_ = resp.Body.Close()
	return resp.Header.Get("Server"), nil
}

// tlsVersion completes a TLS handshake with target:port and describes the
// negotiated protocol version and the leaf certificate's common name.
func (e *Engine) tlsVersion(ctx context.Context, target string, port int) (string, error) {
	conn, err := e.dial(ctx, target, port)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(e.config.ConnectTimeout + e.config.BannerTimeout))
	client := tls.Client(conn, &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         target,
	})
	if err := client.Handshake(); err != nil {
		return "", fmt.Errorf("tls handshake: %w", err)
	}

	state := client.ConnectionState()
	version, ok := tlsVersionNames[state.Version]
	if !ok {
		version = fmt.Sprintf("TLS 0x%04x", state.Version)
	}
	if len(state.PeerCertificates) > 0 {
		if cn := state.PeerCertificates[0].Subject.CommonName; cn != "" {
			version += " (" + cn + ")"
		}
	}
	return version, nil
}

// osFromServer maps an HTTP Server header to an OS label, or "" when the
// header carries no hint.
func osFromServer(server string) string {
	s := strings.ToLower(server)
	switch {
	case strings.Contains(s, "windows") || strings.Contains(s, "iis"):
		return OSWindows
	case strings.Contains(s, "linux") || strings.Contains(s, "ubuntu") || strings.Contains(s, "debian"):
		return OSLinux
	case strings.Contains(s, "freebsd"):
		return OSFreeBSD
	}
	return ""
}

// osFromSSH maps an SSH identification string to an OS label. Windows is
// checked first so OpenSSH for Windows is not reported as Unix.
func osFromSSH(banner string) string {
	s := strings.ToLower(banner)
	switch {
	case strings.Contains(s, "windows"):
		return OSWindows
	case strings.Contains(s, "openssh"):
		return OSLinuxUnix
	}
	return ""
}

// fingerprint guesses the target OS from the web server on port 80, then
// from the SSH identification on port 22.
func (e *Engine) fingerprint(ctx context.Context, target string) string {
	e.metrics.IncrementOSProbes()

	if server, err := e.serverHeader(ctx, target, 80); err == nil {
		if os := osFromServer(server); os != "" {
			return os
		}
	}

	conn, err := e.dial(ctx, target, 22)
	if err != nil {
		return OSUnknown
	}
	banner := readBanner(conn, e.config.BannerTimeout, e.config.BannerSize)
	_ = conn.Close()
	if os := osFromSSH(banner); os != "" {
		return os
	}
	return OSUnknown
}

// osCache memoises one fingerprint per scan.
type osCache struct {
	label      string
	determined bool
}

func (c *osCache) get(detect func() string) string {
	if !c.determined {
		c.label = detect()
		c.determined = true
	}
	return c.label
}
