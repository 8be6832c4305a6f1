package client

import (
	"github.com/dgrijalva/jwt-go"
	uuid "github.com/satori/go.uuid"
)

// claims is the venue's authentication payload: a per-request nonce plus,
// when the request carries parameters, a hash of the encoded query string.
type claims struct {
	AccessKey    string    `json:"access_key"`
	Nonce        uuid.UUID `json:"nonce"`
	QueryHash    string    `json:"query_hash,omitempty"`
	QueryHashAlg string    `json:"query_hash_alg,omitempty"`
	jwt.StandardClaims
}

// bearer signs the claims with HS256 and returns a ready Authorization
// header value.
func (c claims) bearer(secretKey string) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secretKey))
	if err != nil {
		return "", err
	}

	return "Bearer " + signed, nil
}
