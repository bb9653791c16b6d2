package pin

import (
	"testing"
)

func TestGenerate_FixedLengthDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("Expected %d-digit code, got %q", CodeLength, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("Non-digit character in code %q", code)
			}
		}
	}
}

func TestHash_SaltedButVerifiable(t *testing.T) {
	code := "042917"

	hash1, err := Hash(code)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hash2, err := Hash(code)
	if err != nil {
		t.Fatalf("Hash failed on second attempt: %v", err)
	}

	if hash1 == hash2 {
		t.Error("Hashes of the same code should not be byte-identical (salted)")
	}
	if !Verify(code, hash1) || !Verify(code, hash2) {
		t.Error("Both hashes should verify against the original code")
	}
	if Verify("000000", hash1) {
		t.Error("Wrong code should not verify")
	}
}

func TestQR_ProducesPNG(t *testing.T) {
	png, err := QR("123456", 128)
	if err != nil {
		t.Fatalf("QR failed: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("Expected non-empty PNG data")
	}
	// PNG magic bytes
	if png[0] != 0x89 || string(png[1:4]) != "PNG" {
		t.Error("Output does not look like a PNG")
	}
}
