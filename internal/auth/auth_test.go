package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	s := New("secret")
	hash, err := s.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !s.CheckPassword(hash, "hunter22") {
		t.Fatal("correct password rejected")
	}
	if s.CheckPassword(hash, "wrong") {
		t.Fatal("wrong password accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := New("secret")
	token, err := s.GenerateToken("u1", "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := New("other-secret").ValidateToken(token); err == nil {
		t.Fatal("token accepted under a different secret")
	}
}

func TestValidateRejectsForeignIssuer(t *testing.T) {
	s := New("secret")

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.ValidateToken(signed); err == nil {
		t.Fatal("token with a foreign issuer accepted")
	}
}

func TestValidateRejectsMissingExpiry(t *testing.T) {
	s := New("secret")

	eternal := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "soulhub"},
	})
	signed, err := eternal.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.ValidateToken(signed); err == nil {
		t.Fatal("non-expiring token accepted")
	}
}
