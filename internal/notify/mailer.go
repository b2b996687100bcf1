package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/dercio258/ratixpay/internal/product"
	"github.com/dercio258/ratixpay/internal/sale"
)

// Config holds SMTP settings. An empty host means the mailer is not
// configured and every send becomes a logged no-op.
type Config struct {
	Host       string `envconfig:"SMTP_HOST"`
	Port       int    `envconfig:"SMTP_PORT" default:"587"`
	Username   string `envconfig:"SMTP_USERNAME"`
	Password   string `envconfig:"SMTP_PASSWORD"`
	From       string `envconfig:"SMTP_FROM"`
	AdminEmail string `envconfig:"ADMIN_EMAIL"`
}

// Mailer sends notification emails over SMTP.
type Mailer struct {
	cfg    Config
	logger *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates an SMTP-backed Notifier.
func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Configured reports whether SMTP settings are present.
func (m *Mailer) Configured() bool {
	return m.cfg.Host != "" && m.cfg.From != ""
}

// SendContentLink emails the buyer their content access link.
func (m *Mailer) SendContentLink(ctx context.Context, s *sale.Sale, p *product.Product) error {
	if s.Buyer.Email == "" {
		m.logger.Warn("sale has no buyer email, skipping content link",
			"transaction_id", s.TransactionID,
		)
		return nil
	}

	name := "o seu produto"
	link := ""
	if p != nil {
		name = p.Name
		link = p.ContentLink
	}

	body := fmt.Sprintf(
		"Olá %s,\n\n"+
			"O seu pagamento de %s foi aprovado.\n\n"+
			"Produto: %s\nAcesso ao conteúdo: %s\n\n"+
			"Obrigado pela sua compra.\nRatixPay",
		s.Buyer.Name, s.FinalAmount.Format(), name, link,
	)

	return m.sendMail(ctx, s.Buyer.Email, "O seu acesso ao conteúdo - RatixPay", body)
}

// SendAdminAlert emails the operator about an approved sale.
func (m *Mailer) SendAdminAlert(ctx context.Context, s *sale.Sale, p *product.Product) error {
	if m.cfg.AdminEmail == "" {
		return nil
	}

	name := s.ProductID
	if p != nil {
		name = p.Name
	}

	body := fmt.Sprintf(
		"Nova venda aprovada.\n\n"+
			"Transação: %s\nProduto: %s\nValor: %s\nMétodo: %s\nCliente: %s <%s>\n",
		s.TransactionID, name, s.FinalAmount.Format(), s.Method, s.Buyer.Name, s.Buyer.Email,
	)

	return m.sendMail(ctx, m.cfg.AdminEmail, "Nova venda aprovada - RatixPay", body)
}

func (m *Mailer) sendMail(ctx context.Context, to, subject, body string) error {
	if !m.Configured() {
		m.logger.Warn("smtp not configured, dropping email", "to", to, "subject", subject)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending email to %s: %w", to, err)
	}

	m.logger.Info("email sent", "to", to, "subject", subject)
	return nil
}

var _ Notifier = (*Mailer)(nil)
