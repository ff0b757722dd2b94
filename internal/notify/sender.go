// Package notify delivers short text notifications to chat and mail
// services.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Target types.
const (
	TypeSlack    = "slack"
	TypeTelegram = "telegram"
	TypeSMTP     = "smtp"
)

// Target is one configured notification destination. Which fields matter
// depends on Type.
type Target struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// slack
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`

	// telegram
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	APIBase string `yaml:"api_base"` // defaults to https://api.telegram.org

	// smtp
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Password string `yaml:"password"`
	Subject  string `yaml:"subject"`
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Type
}

// Sender delivers messages to an external service.
type Sender interface {
	// Type returns the target type this sender handles.
	Type() string
	// Send delivers a message to target.
	Send(ctx context.Context, target Target, message string) error
}

// SenderRegistry maps target types to their senders.
type SenderRegistry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{senders: make(map[string]Sender)}
}

// NewDefaultRegistry returns a registry with the Slack, Telegram and SMTP
// senders. A nil client uses http.DefaultClient.
func NewDefaultRegistry(client *http.Client) *SenderRegistry {
	r := NewSenderRegistry()
	r.Register(&SlackSender{Client: client})
	r.Register(&TelegramSender{Client: client})
	r.Register(&SMTPSender{})
	return r
}

// Register adds a sender for a target type.
func (r *SenderRegistry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
}

// Get returns the sender for the given target type.
func (r *SenderRegistry) Get(targetType string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[targetType]
	if !ok {
		return nil, fmt.Errorf("no sender registered for target type %q", targetType)
	}
	return s, nil
}

// Dispatcher sends every message to a fixed set of targets.
type Dispatcher struct {
	senders *SenderRegistry
	targets []Target
}

// NewDispatcher checks that every target has a sender.
func NewDispatcher(senders *SenderRegistry, targets []Target) (*Dispatcher, error) {
	for _, t := range targets {
		if _, err := senders.Get(t.Type); err != nil {
			return nil, fmt.Errorf("notify target %q: %w", t.label(), err)
		}
	}
	return &Dispatcher{senders: senders, targets: targets}, nil
}

// Notify sends message to every target. A failing target does not stop the
// others; all failures are returned joined.
func (d *Dispatcher) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, t := range d.targets {
		s, err := d.senders.Get(t.Type)
		if err == nil {
			err = s.Send(ctx, t, message)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.label(), err))
		}
	}
	return errors.Join(errs...)
}
