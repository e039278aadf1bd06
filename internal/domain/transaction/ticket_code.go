package transaction

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const ticketCodePrefix = "TKT-"

// NewTicketCode returns a verification code such as TKT-5HueCGU8rMjx.
func NewTicketCode() (string, error) {
	var b [9]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate ticket code: %w", err)
	}
	return ticketCodePrefix + base58.Encode(b[:]), nil
}

// ValidTicketCode reports whether code has the expected prefix and decodes.
func ValidTicketCode(code string) bool {
	body, ok := strings.CutPrefix(code, ticketCodePrefix)
	if !ok || body == "" {
		return false
	}
	raw, err := base58.Decode(body)
	return err == nil && len(raw) == 9
}
