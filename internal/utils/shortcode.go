package utils

import (
	"errors"
	"net/url"
	"strings"
)

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// MaxQRIDLength bounds identifiers accepted on the redirect path
const MaxQRIDLength = 64

// EncodeBase62 converts a non-negative number to Base62
func EncodeBase62(num int64) string {
	if num <= 0 {
		return string(base62Chars[0])
	}

	buf := make([]byte, 0, 11)
	for num > 0 {
		buf = append(buf, base62Chars[num%62])
		num /= 62
	}

	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// DecodeBase62 converts a Base62 string back to a number; invalid input yields 0
func DecodeBase62(encoded string) int64 {
	var num int64
	for i := 0; i < len(encoded); i++ {
		idx := strings.IndexByte(base62Chars, encoded[i])
		if idx < 0 {
			return 0
		}
		num = num*62 + int64(idx)
	}
	return num
}

// ValidQRID reports whether id could be a stored QR identifier.
// Both generated base62 IDs and UUID-style IDs pass.
func ValidQRID(id string) bool {
	if id == "" || len(id) > MaxQRIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// NormalizeURL prepends https:// to schemeless input and checks that the
// result is an absolute http(s) URL with a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("URL cannot be empty")
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", errors.New("invalid URL format")
	}
	if parsed.Host == "" {
		return "", errors.New("URL must have a valid host")
	}

	return parsed.String(), nil
}
