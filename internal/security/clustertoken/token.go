// Package clustertoken emite y verifica los tokens HMAC que autentican el
// tráfico entre nodos (forwards al master y fetch de replicación). El secret
// compartido del cluster es la única credencial; el token agrega expiración
// y la identidad del nodo emisor.
package clustertoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "qdbd-cluster"

// DefaultTTL es la vida útil de cada token emitido. Corto a propósito: los
// tokens se mintean por request.
const DefaultTTL = 30 * time.Second

// Minter emite tokens firmados con el secret del cluster.
type Minter struct {
	clusterName string
	secret      []byte
	nodeID      string
	ttl         time.Duration
}

// NewMinter crea un Minter. ttl <= 0 usa DefaultTTL.
func NewMinter(clusterName, secret, nodeID string, ttl time.Duration) (*Minter, error) {
	if clusterName == "" || secret == "" {
		return nil, errors.New("clustertoken: cluster name and secret are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Minter{clusterName: clusterName, secret: []byte(secret), nodeID: nodeID, ttl: ttl}, nil
}

// Mint emite un token nuevo.
func (m *Minter) Mint() (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"sub": m.nodeID,
		"aud": m.clusterName,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	})
	return t.SignedString(m.secret)
}

// Verifier valida tokens emitidos por cualquier nodo del mismo cluster.
type Verifier struct {
	clusterName string
	secret      []byte
}

// NewVerifier crea un Verifier para el cluster dado.
func NewVerifier(clusterName, secret string) (*Verifier, error) {
	if clusterName == "" || secret == "" {
		return nil, errors.New("clustertoken: cluster name and secret are required")
	}
	return &Verifier{clusterName: clusterName, secret: []byte(secret)}, nil
}

// Verify chequea firma, audiencia y expiración. Retorna el node id emisor.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.clusterName),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("clustertoken: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("clustertoken: subject: %w", err)
	}
	return sub, nil
}
