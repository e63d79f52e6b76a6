package account

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ID uuid.UUID

func NewID() ID {
	return ID(uuid.New())
}

func ParseID(raw string) (ID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ID{}, err
	}
	return ID(parsed), nil
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

type TransactionID uuid.UUID

func NewTransactionID() TransactionID {
	return TransactionID(uuid.New())
}

func (id TransactionID) String() string {
	return uuid.UUID(id).String()
}

// Number is the external handle of an account.
type Number string

func (n Number) String() string {
	return string(n)
}

// GenerateNumber builds a NNNN-NNN-NNNNNN number. The first two groups come
// from random bits, the last from the creation instant.
func GenerateNumber(now time.Time) Number {
	entropy := uuid.New()
	high := binary.BigEndian.Uint64(entropy[:8])
	low := binary.BigEndian.Uint64(entropy[8:])
	millis := now.UnixMilli() % 1_000_000
	if millis < 0 {
		millis = -millis
	}
	return Number(fmt.Sprintf("%04d-%03d-%06d", high%10_000, low%1_000, millis))
}
