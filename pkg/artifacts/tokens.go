package artifacts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTokenTTL bounds how long a download token stays valid.
const DefaultTokenTTL = 600 * time.Second

var (
	// ErrTokenFormat is returned for tokens that do not parse.
	ErrTokenFormat = errors.New("invalid token format")

	// ErrTokenSignature is returned for tokens whose signature does not
	// match the message.
	ErrTokenSignature = errors.New("invalid token signature")

	// ErrTokenExpired is returned for well-formed, correctly signed
	// tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims carry the verified content of a download token.
type Claims struct {
	ArtifactID string
	ExpiresAt  int64
}

// SignerOptions configure token issuance.
type SignerOptions struct {
	// Secret signs every token. Required; when the configuration had to
	// generate one, tokens stop verifying after a process restart.
	Secret string

	// TTL is how long issued tokens stay valid (default 600 s).
	TTL time.Duration

	// PublicBaseURL overrides download URL construction entirely. When
	// empty, URLs use http://localhost:<server port>.
	PublicBaseURL string

	// ServerPort seeds the port used for derived URLs until the HTTP
	// server reports the port it actually bound.
	ServerPort int
}

// Signer issues and verifies HMAC-signed artifact download tokens.
//
// Token form: b64url(message) + "." + b64url(hmac_sha256(secret, message))
// where message is "<artifact_id>.<expiry_unix>" and b64url is URL-safe
// base64 without padding. Artifact ids must not contain ".": the expiry
// is recovered by splitting the message on its last dot.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string

	mu   sync.RWMutex
	port int
}

// NewSigner creates a token signer
func NewSigner(opts SignerOptions) (*Signer, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("token signer needs a secret")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{
		secret:  []byte(opts.Secret),
		ttl:     ttl,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		port:    opts.ServerPort,
	}, nil
}

// SetServerPort records the port the artifact HTTP server actually bound,
// so derived download URLs point at it. Called after the listen-port
// fallback settles.
func (s *Signer) SetServerPort(port int) {
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
}

// CreateToken issues a token for the artifact expiring after the ttl
func (s *Signer) CreateToken(artifactID string) (string, error) {
	return s.createTokenAt(artifactID, time.Now())
}

func (s *Signer) createTokenAt(artifactID string, now time.Time) (string, error) {
	if artifactID == "" {
		return "", fmt.Errorf("artifact id is empty")
	}
	if strings.Contains(artifactID, ".") {
		return "", fmt.Errorf("artifact id %q must not contain '.'", artifactID)
	}

	exp := now.Add(s.ttl).Unix()
	msg := []byte(artifactID + "." + strconv.FormatInt(exp, 10))
	sig := s.sign(msg)
	return b64u(msg) + "." + b64u(sig), nil
}

// VerifyToken checks a token's structure, signature, and expiry, and
// returns its claims. Failures map to ErrTokenFormat, ErrTokenSignature,
// and ErrTokenExpired.
func (s *Signer) VerifyToken(token string) (*Claims, error) {
	return s.verifyTokenAt(token, time.Now())
}

func (s *Signer) verifyTokenAt(token string, now time.Time) (*Claims, error) {
	msgB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrTokenFormat
	}
	msg, err := base64.RawURLEncoding.DecodeString(msgB64)
	if err != nil {
		return nil, ErrTokenFormat
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, ErrTokenFormat
	}

	// The expiry is the segment after the last dot
	text := string(msg)
	i := strings.LastIndex(text, ".")
	if i <= 0 {
		return nil, ErrTokenFormat
	}
	artifactID := text[:i]
	exp, err := strconv.ParseInt(text[i+1:], 10, 64)
	if err != nil {
		return nil, ErrTokenFormat
	}

	if !hmac.Equal(sig, s.sign(msg)) {
		return nil, ErrTokenSignature
	}
	if now.Unix() > exp {
		return nil, ErrTokenExpired
	}

	return &Claims{ArtifactID: artifactID, ExpiresAt: exp}, nil
}

// DownloadURL builds a ready-to-use artifact URL carrying a fresh token
func (s *Signer) DownloadURL(artifactID string) (string, error) {
	token, err := s.CreateToken(artifactID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/artifacts/%s?token=%s", s.base(), artifactID, token), nil
}

func (s *Signer) base() string {
	if s.baseURL != "" {
		return s.baseURL
	}
	s.mu.RLock()
	port := s.port
	s.mu.RUnlock()
	if port == 0 {
		port = 8000
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

func (s *Signer) sign(msg []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(msg)
	return mac.Sum(nil)
}

func b64u(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
