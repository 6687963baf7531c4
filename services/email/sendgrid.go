package emailsvc

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/educhain/educhain/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
	sendTries        = 3
	sendTimeout      = 30 * time.Second
)

type sendgridService struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	retryWait  time.Duration
	logger     core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	from := conf.DefaultFromEmail()
	return &sendgridService{
		key:        conf.SendgridApiKey,
		host:       sendgridHost,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		retryWait:  time.Second,
		logger:     logger,
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(); err != nil {
				svc.logger.Error("rendering email", errors.Wrap(err, msg.TemplateName))
				return
			}
			if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := svc.send(ctx, *msg); err != nil {
				svc.logger.Error("sending email", err, "subject", msg.Subject, "template", msg.TemplateName)
			}
		}()
	}
}

func (svc *sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	// the API rejects an address that appears twice in one personalization
	seen := make(map[string]bool)
	add := func(addrs []mail.Address, to func(...*sgmail.Email)) {
		for _, a := range addrs {
			key := strings.ToLower(a.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			to(sgmail.NewEmail(a.Name, a.Address))
		}
	}
	add(msg.To, p.AddTos)
	add(msg.Cc, p.AddCCs)
	add(msg.Bcc, p.AddBCCs)

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	if msg.TemplateName != "" {
		m.AddCategories(msg.TemplateName)
	}

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     at.Content.String(),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

// send posts msg, retrying while SendGrid is rate limiting or unavailable.
func (svc *sendgridService) send(ctx context.Context, msg core.EmailMessage) error {
	body := sgmail.GetRequestBody(svc.prepare(msg))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = svc.retryWait
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req := sendgrid.GetRequest(svc.key, sendgridEndpoint, svc.host)
		req.Method = http.MethodPost
		req.Body = body

		res, err := sendgrid.API(req)
		switch {
		case err != nil:
			return struct{}{}, errors.Wrap(err, "calling sendgrid")
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
			return struct{}{}, errors.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
		case res.StatusCode >= http.StatusBadRequest:
			return struct{}{}, backoff.Permanent(errors.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(sendTries),
	)
	return err
}
