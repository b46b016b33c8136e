package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyTokenRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")

	token, err := v.Sign("u1", "Ana", RoleAdmin, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	identity, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if identity.UserID != "u1" || identity.Name != "Ana" || identity.Role != RoleAdmin {
		t.Errorf("Unexpected identity: %+v", identity)
	}
	if !identity.IsAdmin() {
		t.Error("Admin role should report IsAdmin")
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	token, _ := NewJWTVerifier("right").Sign("u1", "", "", time.Minute)

	if _, err := NewJWTVerifier("wrong").VerifyToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, _ := v.Sign("u1", "", "", -time.Minute)

	if _, err := v.VerifyToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyTokenRejectsMissingSubject(t *testing.T) {
	v := NewJWTVerifier("secret")
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	if _, err := v.VerifyToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken without subject, got %v", err)
	}
}

func TestVerifyTokenRejectsUnsignedAlg(t *testing.T) {
	v := NewJWTVerifier("secret")
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	if _, err := v.VerifyToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	v := NewJWTVerifier("secret")
	if _, err := v.VerifyToken("not.a.jwt"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}
