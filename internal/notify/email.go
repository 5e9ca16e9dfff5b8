package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/hoken/service-manager/internal/events"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	config SMTPConfig
	sender mailSender
}

func NewEmailNotifier(config SMTPConfig) *EmailNotifier {
	return &EmailNotifier{
		config: config,
		sender: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}
}

func (n *EmailNotifier) Name() string {
	return "email"
}

func (n *EmailNotifier) Notify(ctx context.Context, event events.ServiceOrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.config.From)
	m.SetHeader("To", n.config.To...)
	m.SetHeader("Subject", emailSubject(event))
	m.SetBody("text/plain", emailBody(event))

	if err := n.sender.DialAndSend(m); err != nil {
		return temporary(fmt.Errorf("failed to send email: %w", err))
	}
	return nil
}

var eventTitles = map[string]string{
	events.EventOrderCreated:  "Nova ordem de serviço",
	events.EventNotesUpdated:  "Observações atualizadas",
	events.EventItemAdded:     "Item adicionado",
	events.EventItemRemoved:   "Item removido",
	events.EventStatusChanged: "Status alterado",
}

func emailSubject(event events.ServiceOrderEvent) string {
	title, ok := eventTitles[event.Type]
	if !ok {
		title = event.Type
	}
	return fmt.Sprintf("[HOKEN] %s - OS %s", title, event.OrderID)
}

func emailBody(event events.ServiceOrderEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ordem de serviço: %s\n", event.OrderID)
	fmt.Fprintf(&b, "Cliente: %s\n", event.CustomerID)
	fmt.Fprintf(&b, "Status: %s\n", event.Status)
	fmt.Fprintf(&b, "Itens: %d\n", event.ItemsCount)
	fmt.Fprintf(&b, "Total dos itens: R$ %.2f\n", event.ItemsTotal)
	if !event.EventTime.IsZero() {
		fmt.Fprintf(&b, "Data: %s\n", event.EventTime.Format("02/01/2006 15:04"))
	}
	return b.String()
}
