package validator

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidHolderName    = errors.New("invalid account holder name")
	ErrInvalidAccountNumber = errors.New("invalid account number")
	ErrInvalidPage          = errors.New("invalid page request")
)

const maxHolderNameLength = 100

var accountNumberRegex = regexp.MustCompile(`^[0-9]{1,8}(-[0-9]{1,8}){0,3}$`)

func ValidateHolderName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxHolderNameLength {
		return ErrInvalidHolderName
	}
	return nil
}

func ValidateAccountNumber(number string) error {
	if !accountNumberRegex.MatchString(number) {
		return ErrInvalidAccountNumber
	}
	return nil
}

// ValidatePage rejects negative values; zero size means "use the default".
func ValidatePage(page, size int) error {
	if page < 0 || size < 0 {
		return ErrInvalidPage
	}
	return nil
}
