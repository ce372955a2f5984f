package keystore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Fingerprint computes the stable identifier for a public key given in
// "algorithm base64-data [comment]" form: SHA-256 over the decoded key
// data, rendered as "SHA256:" followed by the uppercase hex digest.
// Comments and surrounding whitespace do not affect the result.
func Fingerprint(publicKey string) (string, error) {
	fields := strings.Fields(publicKey)
	if len(fields) < 2 {
		return "", &FormatError{Reason: `want "algorithm base64-data [comment]"`}
	}

	raw, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", &FormatError{Reason: "key data is not valid base64"}
	}

	sum := sha256.Sum256(raw)
	return "SHA256:" + strings.ToUpper(hex.EncodeToString(sum[:])), nil
}
