package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"loandesk/config"
	"loandesk/models"
)

// Notifier отправляет уведомления заемщикам
type Notifier interface {
	SendDisbursementNotification(to string, app *models.LoanApplication, tx *models.Transaction, installments int) error
	SendOverdueNotification(to string, applicationID string, inst *models.Installment, currency string) error
}

// EmailService предоставляет методы для отправки email
type EmailService struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config) *EmailService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	return &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
	}
}

// SendEmail отправляет email
func (s *EmailService) SendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

// SendDisbursementNotification отправляет уведомление о выдаче кредита
func (s *EmailService) SendDisbursementNotification(to string, app *models.LoanApplication, tx *models.Transaction, installments int) error {
	return s.SendEmail(to, "Кредит выдан", disbursementBody(app, tx, installments))
}

// SendOverdueNotification отправляет напоминание о просроченном платеже
func (s *EmailService) SendOverdueNotification(to string, applicationID string, inst *models.Installment, currency string) error {
	return s.SendEmail(to, "Напоминание о просроченном платеже", overdueBody(applicationID, inst, currency))
}

func disbursementBody(app *models.LoanApplication, tx *models.Transaction, installments int) string {
	return fmt.Sprintf(`
		<h2>Кредит выдан</h2>
		<p>Заявка: %s</p>
		<p>Сумма кредита: %s %s</p>
		<p>Перечислено: %s %s на счет %s</p>
		<p>Количество платежей: %d</p>
		<p>Дата: %s</p>
	`, app.ID, app.Principal.StringFixed(2), app.Currency,
		tx.Amount.StringFixed(2), tx.Currency, tx.PayoutAccount,
		installments, tx.CreatedAt.Format("02.01.2006 15:04:05"))
}

func overdueBody(applicationID string, inst *models.Installment, currency string) string {
	return fmt.Sprintf(`
		<h2>Просроченный платеж</h2>
		<p>Заявка: %s</p>
		<p>Платеж №%d на сумму %s %s</p>
		<p>Срок оплаты: %s</p>
		<p>Пожалуйста, внесите платеж как можно скорее.</p>
	`, applicationID, inst.Seq, inst.TotalDue.StringFixed(2), currency, inst.DueDate.Format("02.01.2006"))
}

// LogNotifier пишет уведомления в лог вместо отправки (SMTP выключен)
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает уведомитель, пишущий в лог
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendDisbursementNotification(to string, app *models.LoanApplication, tx *models.Transaction, installments int) error {
	n.logger.Info("disbursement notification",
		zap.String("to", to),
		zap.String("application_id", app.ID),
		zap.String("amount", tx.Amount.StringFixed(2)),
		zap.String("currency", tx.Currency),
		zap.Int("installments", installments),
		zap.Time("at", time.Now()),
	)
	return nil
}

func (n *LogNotifier) SendOverdueNotification(to string, applicationID string, inst *models.Installment, currency string) error {
	n.logger.Info("overdue notification",
		zap.String("to", to),
		zap.String("application_id", applicationID),
		zap.Int("seq", inst.Seq),
		zap.String("total_due", inst.TotalDue.StringFixed(2)),
		zap.String("currency", currency),
	)
	return nil
}
