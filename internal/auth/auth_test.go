package auth

import (
	"testing"
	"time"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	token, err := GenerateServiceToken("pms-webhook", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateServiceToken: %v", err)
	}

	claims, err := ValidateToken(token, "test-secret")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims["sub"] != "pms-webhook" {
		t.Errorf("sub = %v, want pms-webhook", claims["sub"])
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateServiceToken("pms-webhook", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateServiceToken: %v", err)
	}
	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Fatal("expected validation to fail with the wrong secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	token, err := GenerateServiceToken("pms-webhook", "test-secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateServiceToken: %v", err)
	}
	if _, err := ValidateToken(token, "test-secret"); err == nil {
		t.Fatal("expected validation to fail for an expired token")
	}
}
