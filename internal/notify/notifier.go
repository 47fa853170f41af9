// Package notify delivers patient-facing messages after reservation
// transitions. Delivery is fire-and-forget: a provider error is logged and
// never rolls back or blocks the transition that triggered it.
package notify

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
)

type Config struct {
	SMSProvider      string
	EmailProvider    string
	TelegramProvider string
	TelegramToken    string
	WebhookURL       string
	WebhookToken     string
	SendTimeout      time.Duration
}

type Notifier struct {
	sms      Provider
	email    Provider
	telegram Provider
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) *Notifier {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &Notifier{
		sms:     newProvider(cfg.SMSProvider, "sms", cfg, logger),
		email:   newProvider(cfg.EmailProvider, "email", cfg, logger),
		timeout: timeout,
		logger:  logger,
	}
	if cfg.TelegramProvider != "" {
		n.telegram = newProvider(cfg.TelegramProvider, "telegram", cfg, logger)
	}
	return n
}

func (n *Notifier) ReservationCreated(r models.Reservation) {
	message := renderTemplate(
		"Reservation {registration_code} registered: number {queue_number} ({department_code}) at {department} on {visit_date}.", r)
	n.dispatch(r, message)
}

func (n *Notifier) ReservationVerified(r models.Reservation) {
	message := renderTemplate(
		"Reservation {registration_code} verified. You are number {queue_number} in the {department} queue for {visit_date}.", r)
	n.dispatch(r, message)
}

// dispatch fans the message out on a background goroutine per channel the
// patient's contact can serve.
func (n *Notifier) dispatch(r models.Reservation, message string) {
	contact := strings.TrimSpace(r.Patient.Contact)
	if contact == "" {
		return
	}
	for _, target := range n.targets(contact) {
		n.wg.Add(1)
		go func(provider Provider, recipient string) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := provider.Send(ctx, message, recipient); err != nil {
				n.logger.Warn("notification delivery failed",
					zap.String("reservation_id", r.ReservationID),
					zap.String("recipient", recipient),
					zap.Error(err),
				)
			}
		}(target.provider, target.recipient)
	}
}

type target struct {
	provider  Provider
	recipient string
}

func (n *Notifier) targets(contact string) []target {
	if strings.Contains(contact, "@") {
		return []target{{provider: n.email, recipient: contact}}
	}
	targets := []target{{provider: n.sms, recipient: contact}}
	if n.telegram != nil {
		if _, err := strconv.ParseInt(contact, 10, 64); err == nil {
			targets = append(targets, target{provider: n.telegram, recipient: contact})
		}
	}
	return targets
}

// Wait blocks until in-flight sends finish. Shutdown and tests use it.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func renderTemplate(template string, r models.Reservation) string {
	result := template
	result = strings.ReplaceAll(result, "{registration_code}", r.RegistrationCode)
	result = strings.ReplaceAll(result, "{department_code}", r.DepartmentCode)
	result = strings.ReplaceAll(result, "{queue_number}", strconv.Itoa(r.QueueNumber))
	result = strings.ReplaceAll(result, "{department}", r.Department)
	result = strings.ReplaceAll(result, "{visit_date}", models.DayKey(r.VisitDate))
	result = strings.ReplaceAll(result, "{patient_name}", r.Patient.Name)
	return result
}
