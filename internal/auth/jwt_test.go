package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signToken builds an HS256 token the way the identity provider would.
func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret-key-for-jwt"

	now := time.Now()
	tokenStr := signToken(t, secret, Claims{
		Email: "alice@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := Verify(tokenStr, secret)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if claims.Subject != userID.String() {
		t.Errorf("Subject = %q, want %q", claims.Subject, userID.String())
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
	}
	if claims.Role != "authenticated" {
		t.Errorf("Role = %q, want %q", claims.Role, "authenticated")
	}
}

func TestVerifyIgnoresAudience(t *testing.T) {
	secret := "test-secret"
	now := time.Now()

	// Identity provider tokens carry aud="authenticated"; verification must
	// still succeed without any expected-audience configuration.
	tokenStr := signToken(t, secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	if _, err := Verify(tokenStr, secret); err != nil {
		t.Fatalf("Verify() with audience claim error = %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := "test-secret"
	now := time.Now()

	tokenStr := signToken(t, secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		},
	})

	if _, err := Verify(tokenStr, secret); err == nil {
		t.Fatal("Verify() with expired token should return error")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Now()
	tokenStr := signToken(t, "correct-secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	if _, err := Verify(tokenStr, "wrong-secret"); err == nil {
		t.Fatal("Verify() with wrong secret should return error")
	}
}

func TestVerifyMalformed(t *testing.T) {
	if _, err := Verify("not.a.valid.jwt", "secret"); err == nil {
		t.Fatal("Verify() with malformed token should return error")
	}
}

func TestVerifyMissingSubject(t *testing.T) {
	secret := "test-secret"
	tokenStr := signToken(t, secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := Verify(tokenStr, secret); err == nil {
		t.Fatal("Verify() with no subject should return error")
	}
}

func TestVerifyEmptySecret(t *testing.T) {
	if _, err := Verify("anything", ""); err == nil {
		t.Fatal("Verify() with empty secret should return error")
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "valid bearer", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "empty header", header: "", want: ""},
		{name: "no scheme", header: "abc.def.ghi", want: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "lowercase scheme", header: "bearer abc", want: ""},
		{name: "scheme only", header: "Bearer ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BearerToken(tt.header); got != tt.want {
				t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
