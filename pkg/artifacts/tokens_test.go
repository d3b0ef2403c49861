package artifacts

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, opts SignerOptions) *Signer {
	t.Helper()
	if opts.Secret == "" {
		opts.Secret = "test-secret"
	}
	s, err := NewSigner(opts)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestSigner(t, SignerOptions{TTL: 10 * time.Minute})

	token, err := s.CreateToken("art_0123456789abcdef01234567")
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if strings.Count(token, ".") != 1 {
		t.Fatalf("token %q should contain exactly one separator", token)
	}

	claims, err := s.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.ArtifactID != "art_0123456789abcdef01234567" {
		t.Errorf("ArtifactID = %q, want issued id", claims.ArtifactID)
	}

	wantExp := time.Now().Add(10 * time.Minute).Unix()
	if diff := claims.ExpiresAt - wantExp; diff < -2 || diff > 2 {
		t.Errorf("ExpiresAt = %d, want ~%d", claims.ExpiresAt, wantExp)
	}
}

func TestCreateTokenRejectsBadIDs(t *testing.T) {
	s := newTestSigner(t, SignerOptions{})

	if _, err := s.CreateToken(""); err == nil {
		t.Error("CreateToken(\"\") expected error, got nil")
	}
	if _, err := s.CreateToken("art_abc.123"); err == nil {
		t.Error("CreateToken() with dotted id expected error, got nil")
	}
}

func TestVerifyTokenFormat(t *testing.T) {
	s := newTestSigner(t, SignerOptions{})

	// A structurally valid signature half, to isolate message problems
	good, err := s.CreateToken("art_x")
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	sigHalf := strings.SplitN(good, ".", 2)[1]

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "justonepart"},
		{"bad base64 message", "!!!." + sigHalf},
		{"bad base64 signature", strings.SplitN(good, ".", 2)[0] + ".!!!"},
		{"message without expiry", b64u([]byte("art_x")) + "." + sigHalf},
		{"non-numeric expiry", b64u([]byte("art_x.soon")) + "." + sigHalf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.VerifyToken(tt.token)
			if !errors.Is(err, ErrTokenFormat) {
				t.Errorf("VerifyToken(%q) error = %v, want ErrTokenFormat", tt.token, err)
			}
		})
	}
}

func TestVerifyTokenSignature(t *testing.T) {
	s := newTestSigner(t, SignerOptions{Secret: "secret-one"})
	other := newTestSigner(t, SignerOptions{Secret: "secret-two"})

	token, err := other.CreateToken("art_x")
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if _, err := s.VerifyToken(token); !errors.Is(err, ErrTokenSignature) {
		t.Errorf("VerifyToken() with foreign secret error = %v, want ErrTokenSignature", err)
	}

	// Swap the message half for a different artifact while keeping the signature
	own, err := s.createTokenAt("art_x", time.Now())
	if err != nil {
		t.Fatalf("createTokenAt() error = %v", err)
	}
	sigHalf := strings.SplitN(own, ".", 2)[1]
	forged := b64u([]byte("art_y.9999999999")) + "." + sigHalf
	if _, err := s.VerifyToken(forged); !errors.Is(err, ErrTokenSignature) {
		t.Errorf("VerifyToken() with tampered message error = %v, want ErrTokenSignature", err)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	s := newTestSigner(t, SignerOptions{TTL: time.Minute})

	token, err := s.createTokenAt("art_x", time.Now().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("createTokenAt() error = %v", err)
	}
	if _, err := s.VerifyToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("VerifyToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestDownloadURL(t *testing.T) {
	t.Run("explicit base URL", func(t *testing.T) {
		s := newTestSigner(t, SignerOptions{PublicBaseURL: "https://files.example.com/"})
		url, err := s.DownloadURL("art_x")
		if err != nil {
			t.Fatalf("DownloadURL() error = %v", err)
		}
		if !strings.HasPrefix(url, "https://files.example.com/artifacts/art_x?token=") {
			t.Errorf("DownloadURL() = %q, want explicit base without trailing slash", url)
		}
	})

	t.Run("derived from bound port", func(t *testing.T) {
		s := newTestSigner(t, SignerOptions{})
		s.SetServerPort(8003)
		url, err := s.DownloadURL("art_x")
		if err != nil {
			t.Fatalf("DownloadURL() error = %v", err)
		}
		if !strings.HasPrefix(url, "http://localhost:8003/artifacts/art_x?token=") {
			t.Errorf("DownloadURL() = %q, want derived localhost:8003 base", url)
		}
	})

	t.Run("default port", func(t *testing.T) {
		s := newTestSigner(t, SignerOptions{})
		url, err := s.DownloadURL("art_x")
		if err != nil {
			t.Fatalf("DownloadURL() error = %v", err)
		}
		if !strings.HasPrefix(url, "http://localhost:8000/artifacts/art_x?token=") {
			t.Errorf("DownloadURL() = %q, want default localhost:8000 base", url)
		}
	})
}
