package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// validHMAC reports whether signatureHex is the hex HMAC-SHA256 of body.
func validHMAC(secret string, body []byte, signatureHex string) bool {
	if secret == "" || signatureHex == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// splitFileName returns the base name and the extension (without the dot).
func splitFileName(fileName string) (name, ext string) {
	ext = path.Ext(fileName)
	name = strings.TrimSuffix(fileName, ext)
	return name, strings.TrimPrefix(ext, ".")
}

// fileNameFromURL extracts the last path element of rawURL, ignoring the query.
func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		rawURL, _, _ = strings.Cut(rawURL, "?")
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}
