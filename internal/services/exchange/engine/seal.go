package engine

import (
	"crypto/sha256"
	"io"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

// sealer encrypts verification codes so the owning sessions can be handed the
// code again after a missed push. Each sealed value is bound to its match id.
type sealer struct {
	codec *securecookie.SecureCookie
}

func newSealer(secret []byte) (*sealer, error) {
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
	}

	keys := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("cashlink verification code")), keys); err != nil {
		return nil, err
	}

	codec := securecookie.New(keys[:32], keys[32:])
	codec.MaxAge(0)

	return &sealer{codec: codec}, nil
}

func (s *sealer) seal(matchID, code string) (string, error) {
	return s.codec.Encode(matchID, code)
}

func (s *sealer) open(matchID, sealed string) (string, error) {
	var code string
	if err := s.codec.Decode(matchID, sealed, &code); err != nil {
		return "", err
	}

	return code, nil
}
