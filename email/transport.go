package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/mux"
)

// Message is a single outgoing email
type Message struct {
	To      string
	Subject string
	HTML    string
	From    string
	ReplyTo string
	// Tags are passed to transports that support them, e.g. as ses message tags
	Tags map[string]string
}

// Transport sends email and returns the id the provider assigned to the message
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// WebhookProvider is implemented by transports which receive delivery events over http
type WebhookProvider interface {
	Transport
	RegisterRoutes(r *mux.Router)
}

// SendError is returned by transports when the provider rejected a message
type SendError struct {
	Code    string
	Message string
	Err     error
}

func (e *SendError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%v: %v", e.Code, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the provider code of err or "" when it carries none
func ErrorCode(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Defaults fills the sender fields which were left empty
func (m Message) Defaults(from, replyTo string) Message {
	if m.From == "" {
		m.From = from
	}
	if m.ReplyTo == "" {
		m.ReplyTo = replyTo
	}
	return m
}
