// Package privacy scrubs credentials and hostnames out of text that leaves
// the process: error reports, log lines and push notification failures.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Any scheme://rest URL. Broker (tcp, ssl, mqtt, ws) and shoutrrr
	// service URLs (telegram, discord, ...) carry tokens in userinfo.
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]{1,15}://\S+`)

	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`)
)

// ScrubMessage replaces every URL in message with an anonymized form and
// redacts bearer tokens.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return bearerPattern.ReplaceAllString(message, "Bearer [REDACTED]")
}

// AnonymizeURL maps a URL to a stable opaque identifier. The same scheme,
// host class, port and path shape always give the same identifier, so
// repeated failures against one endpoint can still be grouped.
func AnonymizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsed.Scheme != "" {
		parts = append(parts, parsed.Scheme)
	}
	if host := parsed.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if parsed.Port() != "" {
		parts = append(parts, "port-"+parsed.Port())
	}
	if parsed.Path != "" && parsed.Path != "/" {
		parts = append(parts, anonymizePath(parsed.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s-%x", schemeLabel(parsed.Scheme), hash[:12])
}

// SanitizeBrokerURL strips credentials and path from a broker or
// endpoint URL, keeping scheme, host and port for display.
// Strings without a scheme are returned unchanged.
func SanitizeBrokerURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return raw
	}

	prefix := raw[:schemeEnd+3]
	rest := raw[schemeEnd+3:]

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	if cut := strings.IndexAny(rest, "/?#"); cut >= 0 {
		rest = rest[:cut]
	}

	return prefix + rest
}

// GenerateSystemID creates a random installation identifier in the
// form XXXX-XXXX-XXXX.
func GenerateSystemID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	id := hex.EncodeToString(buf)
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])), nil
}

// IsValidSystemID checks the XXXX-XXXX-XXXX hex format.
func IsValidSystemID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}

	for i, char := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(char) {
			return false
		}
	}
	return true
}

func schemeLabel(scheme string) string {
	switch strings.ToLower(scheme) {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return "broker"
	case "http", "https":
		return "url"
	case "":
		return "url"
	default:
		return "service"
	}
}

// categorizeHost keeps only the class of a host
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}

	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback():
			return "localhost"
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizePath hashes each segment but keeps the depth
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if isNumeric(segment) {
			out = append(out, "numeric")
			continue
		}
		hash := sha256.Sum256([]byte(segment))
		out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
	}
	return strings.Join(out, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

// AnonymizeIP replaces a client address with a short stable hash. Loopback
// and private addresses are reported by class only.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	switch {
	case parsed == nil:
		return "ip-unknown"
	case parsed.IsLoopback():
		return "localhost"
	case parsed.IsPrivate():
		return "private-network"
	}
	hash := sha256.Sum256([]byte(parsed.String()))
	return fmt.Sprintf("ip-%x", hash[:4])
}
