package scheduler

import (
	"fmt"
	"net/smtp"
)

// Mailer sends reminder emails over SMTP. No third-party mail client in
// the pack reaches further than this; net/smtp is the documented
// standard-library exception (see DESIGN.md).
type Mailer struct {
	host, port, user, pass, from string
}

func NewMailer(host string, port int, user, pass, from string) *Mailer {
	return &Mailer{host: host, port: fmt.Sprintf("%d", port), user: user, pass: pass, from: from}
}

func (m *Mailer) Send(to, subject, body string) error {
	addr := m.host + ":" + m.port
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.from, to, subject, body)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}
	return smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg))
}
