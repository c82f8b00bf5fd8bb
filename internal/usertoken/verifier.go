package usertoken

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "contractlens-auth"
	defaultAudience = "contractlens-api"
	defaultLeeway   = 30 * time.Second
	defaultKeyTTL   = 5 * time.Minute
)

var errUnknownKey = errors.New("token signed with unknown key")

// Config configures verification of the access tokens issued by the
// external identity provider.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Verifier checks RS256 user tokens against a cached JWKS document and
// yields the subject user ID that scopes every contract, clause, and audit
// query. Key rotation is handled by refetching the document when a token
// arrives signed with an unknown kid.
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	jwksURL  string
	client   *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

// NewVerifier fetches the initial key set and returns a ready verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	url := strings.TrimSpace(cfg.JWKSURL)
	if url == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	v := &Verifier{
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		jwksURL:  url,
		client:   cfg.HTTPClient,
	}
	if v.issuer == "" {
		v.issuer = defaultIssuer
	}
	if v.audience == "" {
		v.audience = defaultAudience
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: 5 * time.Second}
	}
	if err := v.refresh(); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifySubject validates the token and returns its subject user ID.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims, err := v.parse(token)
	if err != nil {
		if !errors.Is(err, errUnknownKey) && !v.stale() {
			return "", err
		}
		if refreshErr := v.refresh(); refreshErr != nil {
			return "", refreshErr
		}
		if claims, err = v.parse(token); err != nil {
			return "", err
		}
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

func (v *Verifier) parse(token string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	keys := v.snapshot()
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

// snapshot returns the installed key map. Refresh swaps in a fresh map, so
// the returned one is safe to read without the lock.
func (v *Verifier) snapshot() map[string]*rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys
}

func (v *Verifier) stale() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().After(v.expires)
}

func (v *Verifier) refresh() error {
	resp, err := v.client.Get(v.jwksURL)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.expires = time.Now().Add(cacheTTL(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
		return nil, errors.New("not an rsa key")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(k.N))
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(k.E))
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	modulus := new(big.Int).SetBytes(nBytes)
	exponent := new(big.Int).SetBytes(eBytes)
	if modulus.Sign() <= 0 || !exponent.IsInt64() || exponent.Int64() <= 0 {
		return nil, errors.New("invalid rsa key material")
	}
	return &rsa.PublicKey{N: modulus, E: int(exponent.Int64())}, nil
}

func cacheTTL(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		if raw, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultKeyTTL
}
