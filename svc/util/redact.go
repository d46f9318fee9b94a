package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"strings"
)

func RedactToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "[TOKEN-REDACTED]"
	}
	return token[:4] + "..." + token[len(token)-4:] + "[REDACTED]"
}

func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}

// RedactURL drops the fragment key and masks a trailing delete token so a
// share or delete URL can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[URL-REDACTED]"
	}
	if u.Fragment != "" {
		u.Fragment = "REDACTED"
	}
	u.RawFragment = ""
	if strings.HasPrefix(u.Path, "/delete/") {
		parts := strings.Split(u.Path, "/")
		parts[len(parts)-1] = RedactToken(parts[len(parts)-1])
		u.Path = strings.Join(parts, "/")
	}
	return u.String()
}
