package credits

import (
	"errors"
	"fmt"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

// creditRequestMailer notifies the billing recipient when a user asks for a
// credit top-up. The actual grant stays a manual/billing operation.
type creditRequestMailer struct {
	host      string
	port      int
	username  string
	password  string
	from      string
	recipient string
	subject   string
}

func newCreditRequestMailerFromEnv() (*creditRequestMailer, error) {
	recipient := sanitizeMailHeader(os.Getenv("CREDIT_REQUEST_RECIPIENT_EMAIL"))
	if recipient == "" {
		return nil, errors.New("credits: request recipient email is not configured")
	}

	host := strings.TrimSpace(os.Getenv("CREDIT_REQUEST_SMTP_HOST"))
	if host == "" {
		return nil, errors.New("credits: request SMTP host is not configured")
	}

	portValue := strings.TrimSpace(os.Getenv("CREDIT_REQUEST_SMTP_PORT"))
	if portValue == "" {
		portValue = "587"
	}
	port, err := strconv.Atoi(portValue)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("credits: request SMTP port is invalid: %s", portValue)
	}

	username := strings.TrimSpace(os.Getenv("CREDIT_REQUEST_SMTP_USERNAME"))
	password := os.Getenv("CREDIT_REQUEST_SMTP_PASSWORD")
	mailFrom := sanitizeMailHeader(os.Getenv("CREDIT_REQUEST_MAIL_FROM"))
	if mailFrom == "" {
		mailFrom = username
	}

	if username == "" || strings.TrimSpace(password) == "" {
		return nil, errors.New("credits: request SMTP credentials are not configured")
	}
	if mailFrom == "" {
		return nil, errors.New("credits: request mail sender address is not configured")
	}

	return &creditRequestMailer{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		from:      mailFrom,
		recipient: recipient,
		subject:   sanitizeMailHeader(os.Getenv("CREDIT_REQUEST_MAIL_SUBJECT")),
	}, nil
}

// Send emails the billing recipient about a top-up request.
func (m *creditRequestMailer) Send(userID uint, balance int, message string) error {
	if m == nil {
		return errors.New("credits: request mailer not configured")
	}

	subject := m.subject
	if subject == "" {
		subject = "Plushify Credit Top-Up Request"
	}

	now := time.Now().UTC()

	var bodyBuilder strings.Builder
	bodyBuilder.WriteString("A user has requested additional generation credits.\r\n\r\n")
	bodyBuilder.WriteString(fmt.Sprintf("User ID: %d\r\n", userID))
	bodyBuilder.WriteString(fmt.Sprintf("Current Balance: %d\r\n", balance))
	bodyBuilder.WriteString(fmt.Sprintf("Requested At (UTC): %s\r\n", now.Format(time.RFC3339)))
	if trimmed := strings.TrimSpace(message); trimmed != "" {
		bodyBuilder.WriteString("\r\nMessage:\r\n")
		bodyBuilder.WriteString(trimmed)
		bodyBuilder.WriteString("\r\n")
	}

	headers := []string{
		fmt.Sprintf("From: %s", m.from),
		fmt.Sprintf("To: %s", m.recipient),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
		fmt.Sprintf("Date: %s", now.Format(time.RFC1123Z)),
	}

	var messageBuilder strings.Builder
	for _, header := range headers {
		messageBuilder.WriteString(header)
		messageBuilder.WriteString("\r\n")
	}
	messageBuilder.WriteString("\r\n")
	messageBuilder.WriteString(bodyBuilder.String())

	address := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.username, m.password, m.host)

	return smtp.SendMail(address, auth, m.from, []string{m.recipient}, []byte(messageBuilder.String()))
}

func sanitizeMailHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, "\r", " ")
	trimmed = strings.ReplaceAll(trimmed, "\n", " ")
	return trimmed
}
