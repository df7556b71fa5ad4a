package portscan

import (
	"net"
	"strings"
	"time"
)

// Service labels produced by banner classification.
const (
	ServiceSSH     = "SSH"
	ServiceHTTP    = "HTTP"
	ServiceFTP     = "FTP"
	ServiceSMTP    = "SMTP"
	ServicePOP3    = "POP3"
	ServiceIMAP    = "IMAP"
	ServiceUnknown = "unknown"
)

// CommonPorts is the fixed set swept by the analyze command, in scan order.
var CommonPorts = []int{
	21, 22, 23, 25, 53, 80, 110, 143, 443, 445,
	993, 995, 3306, 3389, 5432, 5900, 6379, 8080, 8443, 27017,
}

var serviceTable = map[int]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	143:   "IMAP",
	443:   "HTTPS",
	445:   "SMB",
	993:   "IMAPS",
	995:   "POP3S",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	8080:  "HTTP Proxy",
	8443:  "HTTPS-Alt",
	27017: "MongoDB",
}

// ServiceForPort returns the well-known service on port, or "unknown".
func ServiceForPort(port int) string {
	if s, ok := serviceTable[port]; ok {
		return s
	}
	return ServiceUnknown
}

// readBanner waits up to timeout for the first bytes from conn and returns
// them filtered to at most limit-1 printable characters.
func readBanner(conn net.Conn, timeout time.Duration, limit int) string {
	if limit <= 1 {
		return ""
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, limit)
	n, _ := conn.Read(buf)
	return filterBanner(buf[:n], limit-1)
}

// filterBanner keeps printable ASCII, turns CR and LF into spaces, drops
// everything else and trims trailing spaces. At most limit bytes are kept.
func filterBanner(raw []byte, limit int) string {
	var b strings.Builder
	for _, c := range raw {
		if b.Len() >= limit {
			break
		}
		switch {
		case c >= 32 && c < 127:
			b.WriteByte(c)
		case c == '\n' || c == '\r':
			b.WriteByte(' ')
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// classifyBanner matches protocol signatures in priority order. An empty
// result means no signature matched.
func classifyBanner(banner string) string {
	upper := strings.ToUpper(banner)
	switch {
	case strings.HasPrefix(upper, "SSH-") || strings.Contains(upper, "OPENSSH"):
		return ServiceSSH
	case strings.HasPrefix(upper, "HTTP/") || strings.Contains(upper, " HTTP/1."):
		return ServiceHTTP
	case strings.HasPrefix(upper, "220") && strings.Contains(upper, "FTP"):
		return ServiceFTP
	case strings.HasPrefix(upper, "220") && strings.Contains(upper, "SMTP"):
		return ServiceSMTP
	case strings.HasPrefix(upper, "+OK"):
		return ServicePOP3
	case strings.HasPrefix(upper, "* OK") && strings.Contains(upper, "IMAP"):
		return ServiceIMAP
	}
	return ""
}

// identifyService classifies by banner first and falls back to the port table.
func identifyService(banner string, port int) string {
	if s := classifyBanner(banner); s != "" {
		return s
	}
	return ServiceForPort(port)
}

// sshVersion returns the software part of an SSH identification string,
// e.g. "OpenSSH_9.6" for "SSH-2.0-OpenSSH_9.6".
func sshVersion(banner string) string {
	idx := strings.Index(banner, "SSH-")
	if idx < 0 {
		return ""
	}
	rest := banner[idx+len("SSH-"):]
	// protoversion "-" softwareversion
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return ""
	}
	return strings.TrimSpace(rest[dash+1:])
}

// greetingVersion returns the text after a "220" greeting code.
func greetingVersion(banner string) string {
	if !strings.HasPrefix(banner, "220") || len(banner) <= 4 {
		return ""
	}
	return strings.TrimSpace(banner[4:])
}

func isHTTPService(service string) bool {
	return service == ServiceHTTP || service == "HTTP Proxy"
}
