// Package callbacks encodes inline-button callback data as signed tokens.
//
// A token is "<session>.<button>.<sig>": both ids in base36 and sig the first 16 characters of the
// unpadded base64url HMAC-SHA256 of "<session>.<button>". The longest token for two int64 ids is
// 44 bytes, inside Telegram's 64-byte callback_data limit.
package callbacks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/m3rciful/chainbot/core/apperr"
)

const sigLen = 16

// Signer creates and checks tokens with one secret.
type Signer struct {
	key []byte
}

// NewSigner returns a signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{key: []byte(secret)}
}

// Encode returns the callback data for a button shown in a session.
func (s *Signer) Encode(sessionID, buttonID int64) string {
	body := strconv.FormatInt(sessionID, 36) + "." + strconv.FormatInt(buttonID, 36)
	return body + "." + s.sign(body)
}

// Decode validates data and returns the ids it carries.
// Malformed or forged data yields apperr.ErrInvalidArgument.
func (s *Signer) Decode(data string) (sessionID, buttonID int64, err error) {
	parts := strings.Split(data, ".")
	if len(parts) != 3 {
		return 0, 0, apperr.Invalid("malformed callback data")
	}
	body := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(s.sign(body))) {
		return 0, 0, apperr.Invalid("callback signature mismatch")
	}
	sessionID, err = strconv.ParseInt(parts[0], 36, 64)
	if err != nil || sessionID <= 0 {
		return 0, 0, apperr.Invalid("malformed callback session id")
	}
	buttonID, err = strconv.ParseInt(parts[1], 36, 64)
	if err != nil || buttonID <= 0 {
		return 0, 0, apperr.Invalid("malformed callback button id")
	}
	return sessionID, buttonID, nil
}

func (s *Signer) sign(body string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:sigLen]
}
