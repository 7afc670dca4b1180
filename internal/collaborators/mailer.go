package collaborators

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

const emailPublishTimeout = 10 * time.Second

// emailRequest is the message contract of the transactional email service.
type emailRequest struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// PubSubMailer hands emails to the email service through its topic.
type PubSubMailer struct {
	publisher *pubsub.Publisher
	now       func() time.Time
}

func NewPubSubMailer(publisher *pubsub.Publisher) (*PubSubMailer, error) {
	if publisher == nil {
		return nil, errors.New("email publisher required")
	}
	return &PubSubMailer{publisher: publisher, now: time.Now}, nil
}

func (m *PubSubMailer) SendEmail(ctx context.Context, template, recipient string, data map[string]any) error {
	msg, err := buildEmailMessage(template, recipient, data, m.now())
	if err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(ctx, emailPublishTimeout)
	defer cancel()
	if _, err := m.publisher.Publish(publishCtx, msg).Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish email")
	}
	return nil
}

func buildEmailMessage(template, recipient string, data map[string]any, now time.Time) (*pubsub.Message, error) {
	template = strings.TrimSpace(template)
	recipient = strings.TrimSpace(recipient)
	if template == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email template required")
	}
	if recipient == "" || !strings.Contains(recipient, "@") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email recipient invalid")
	}
	body, err := json.Marshal(emailRequest{
		Template:  template,
		Recipient: recipient,
		Data:      data,
		SentAt:    now.UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode email")
	}
	return &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"template": template,
		},
	}, nil
}
