package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

var clientKeyLabel = []byte("Client Key")

// HiLinkPasswordHash computes the password field for the single-shot login
// used by web UI 17 and 21 firmware:
// b64(sha256(username + b64(sha256(password)) + token)).
func HiLinkPasswordHash(username, password, token string) string {
	pw := sha256.Sum256([]byte(password))
	pwB64 := base64.StdEncoding.EncodeToString(pw[:])

	sum := sha256.Sum256([]byte(username + pwB64 + token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ScramClientProof computes the proof for the challenge login of web UI 10
// firmware. The auth message repeats the server nonce; devices expect it.
func ScramClientProof(password string, salt []byte, iterations int, clientNonce, serverNonce string) []byte {
	salted := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)

	mac := hmac.New(sha256.New, clientKeyLabel)
	mac.Write(salted)
	clientKey := mac.Sum(nil)

	storedKey := sha256.Sum256(clientKey)

	authMessage := clientNonce + "," + serverNonce + "," + serverNonce
	mac = hmac.New(sha256.New, []byte(authMessage))
	mac.Write(storedKey[:])
	signature := mac.Sum(nil)

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ signature[i]
	}
	return proof
}
