package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign computes the request signature:
// hex(HMAC-SHA256(secret, verb + path + expires + body)).
// path must already include the query string when present; expires is a
// unix timestamp a fixed safe margin in the future, which keeps the
// scheme tolerant of moderate local clock offset from UTC.
func Sign(secret, verb, path string, expires int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(verb + path + strconv.FormatInt(expires, 10) + body))
	return hex.EncodeToString(mac.Sum(nil))
}
