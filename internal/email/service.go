package email

import (
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	addr string
	from string
	auth smtp.Auth
	send sendFunc
}

// NewService creates a new email service. Username may be empty for relays
// that accept unauthenticated mail.
func NewService(host string, port int, username, password, from string) *Service {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &Service{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		from: from,
		auth: auth,
		send: smtp.SendMail,
	}
}

// SendSettlementReceipt mails the receipt for a settled purchase.
func (s *Service) SendSettlementReceipt(to string, r Receipt) error {
	body, err := BuildSettlementReceiptBody(r)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Settlement receipt: %s (%s %s)", shortID(r.TransactionID), r.Breakdown.BuyerPays.StringFixed(2), r.Currency)
	return s.deliver(to, subject, body)
}

func (s *Service) deliver(to, subject, body string) error {
	if strings.ContainsAny(to+subject, "\r\n") {
		return fmt.Errorf("email: header contains a line break")
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	if err := s.send(s.addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
