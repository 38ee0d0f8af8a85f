package pwhash

import (
	"encoding/base32"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	encoded, err := Generate("hunter2")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	info, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !Check("hunter2", info) {
		t.Error("Check(correct password) = false, want true")
	}
	if Check("wrong", info) {
		t.Error("Check(wrong password) = true, want false")
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	if _, err := Parse("AAAA"); err == nil {
		t.Error("Parse(short garbage) succeeded, want error")
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	encoded, err := Generate("whatever")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	info, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tampered := append([]byte{0x02}, append(info.salt, info.hash...)...)
	if len(tampered) != encodedLen {
		t.Fatalf("test setup: tampered length %d, want %d", len(tampered), encodedLen)
	}
	if _, err := Parse(base32.StdEncoding.EncodeToString(tampered)); err == nil {
		t.Error("Parse(bad version byte) succeeded, want error")
	}
}

func TestTwoHashesOfSamePasswordDiffer(t *testing.T) {
	a, err := Generate("samepassword")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate("samepassword")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a == b {
		t.Error("two independent hashes of the same password are equal; salt is not random")
	}
}
