// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package notify

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Well known notification channels
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// A Message is a notification ready to be delivered
type Message struct {
	Channel    string
	Recipients []string
	Subject    string
	Body       string
	// Model and ResID reference the record the message is about, if any
	Model string
	ResID int64
}

// A Template describes how to compose messages for a channel. Subject and
// Body are pongo2 templates.
type Template struct {
	Channel string
	Subject string
	Body    string
}

// Compose renders t with values and returns the resulting Message
func (t Template) Compose(recipients []string, values map[string]interface{}) (Message, error) {
	subject, err := Render(t.Subject, values)
	if err != nil {
		return Message{}, errors.Wrap(err, "subject")
	}
	body, err := Render(t.Body, values)
	if err != nil {
		return Message{}, errors.Wrap(err, "body")
	}
	return Message{
		Channel:    t.Channel,
		Recipients: recipients,
		Subject:    strings.TrimSpace(subject),
		Body:       body,
	}, nil
}

// A Provider delivers messages of a channel
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// ProviderFunc adapts a function into a Provider
type ProviderFunc func(ctx context.Context, msg Message) error

// Send calls f(ctx, msg)
func (f ProviderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

var (
	providersMu sync.RWMutex
	providers   map[string]Provider
)

var sentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "erpkit",
	Subsystem: "notify",
	Name:      "messages_total",
	Help:      "Number of notifications handed to providers by channel and status.",
}, []string{"channel", "status"})

// RegisterProvider sets the provider of the given channel, replacing any
// previously registered one.
func RegisterProvider(channel string, p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[channel] = p
}

// Channels returns the sorted list of channels having a provider
func Channels() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	res := make([]string, 0, len(providers))
	for c := range providers {
		res = append(res, c)
	}
	sort.Strings(res)
	return res
}

// Send delivers msg through the provider of its channel.
func Send(ctx context.Context, msg Message) error {
	providersMu.RLock()
	p, ok := providers[msg.Channel]
	providersMu.RUnlock()
	if !ok {
		return exceptions.NotFound("unknown_channel", "no provider for channel '%s'", msg.Channel)
	}
	if len(msg.Recipients) == 0 {
		return exceptions.Validation("no_recipient", "message '%s' has no recipient", msg.Subject)
	}
	if err := p.Send(ctx, msg); err != nil {
		sentMessages.WithLabelValues(msg.Channel, "failed").Inc()
		return errors.Wrapf(err, "unable to send %s message", msg.Channel)
	}
	sentMessages.WithLabelValues(msg.Channel, "sent").Inc()
	return nil
}

// LogProvider is a Provider that only logs the messages it is given
type LogProvider struct{}

// Send logs msg
func (LogProvider) Send(ctx context.Context, msg Message) error {
	log.Info("Notification", "channel", msg.Channel, "recipients", msg.Recipients, "subject", msg.Subject,
		"model", msg.Model, "res_id", msg.ResID)
	log.Debug("Notification body", "body", msg.Body)
	return nil
}
