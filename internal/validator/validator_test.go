package validator

import (
	"strings"
	"testing"
)

func TestValidateHolderName(t *testing.T) {
	if err := ValidateHolderName("Alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"", "   ", strings.Repeat("a", maxHolderNameLength+1)} {
		if err := ValidateHolderName(name); err != ErrInvalidHolderName {
			t.Fatalf("expected ErrInvalidHolderName for %q, got %v", name, err)
		}
	}
}

func TestValidateAccountNumber(t *testing.T) {
	if err := ValidateAccountNumber("1234-567-890123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, number := range []string{"", "abc", "1234--567", "1234-567-890123 ", "../etc"} {
		if err := ValidateAccountNumber(number); err != ErrInvalidAccountNumber {
			t.Fatalf("expected ErrInvalidAccountNumber for %q, got %v", number, err)
		}
	}
}

func TestValidatePage(t *testing.T) {
	if err := ValidatePage(0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePage(-1, 20); err != ErrInvalidPage {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
	if err := ValidatePage(0, -5); err != ErrInvalidPage {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}
