package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/prom"
	"github.com/nimasrn/whatsapp-simulator/pkg/signature"
	"github.com/valyala/fasthttp"
)

const (
	UserAgent         = "WhatsApp/FakeSimulator"
	conversationStart = 10
	conversationEnd   = 20
)

var (
	ErrNotConfigured    = errors.New("client webhook url is not configured")
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// StatusRecorder advances the stored message that carries a provider id.
type StatusRecorder interface {
	AdvanceStatus(ctx context.Context, providerID string, status model.MessageStatus) error
}

type Config struct {
	URL                string
	AppSecret          string
	WabaID             string
	DisplayPhoneNumber string
	// Timeout bounds a single POST. Zero leaves the call unbounded unless the
	// context carries a deadline.
	Timeout time.Duration
}

type Stats struct {
	Delivered int64
	Failed    int64
}

// Dispatcher builds, signs and POSTs status callbacks to the client's webhook.
type Dispatcher struct {
	cfg      Config
	client   *fasthttp.Client
	recorder StatusRecorder

	delivered atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config, recorder StatusRecorder) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		recorder: recorder,
		client: &fasthttp.Client{
			Name:                UserAgent,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

func (d *Dispatcher) Enabled() bool {
	return d.cfg.URL != ""
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}

// Dispatch sends one status callback. The stored message is advanced first;
// a failure there is logged and does not stop the callback.
func (d *Dispatcher) Dispatch(ctx context.Context, e model.StatusEvent) error {
	if !d.Enabled() {
		return ErrNotConfigured
	}

	if d.recorder != nil {
		if err := d.recorder.AdvanceStatus(ctx, e.WAMID, e.Status); err != nil {
			logger.Warn("failed to advance local message status", "wamid", e.WAMID, "status", e.Status, "error", err)
		}
	}

	body, err := json.Marshal(d.Envelope(e, time.Now()))
	if err != nil {
		return fmt.Errorf("encode status webhook: %w", err)
	}

	start := time.Now()
	err = d.post(ctx, body)
	prom.ObserveCallbackDuration(string(e.Status), time.Since(start).Seconds())

	if err != nil {
		d.failed.Add(1)
		prom.IncStatusCallback(string(e.Status), prom.OutcomeFailure)
		logger.Error("status webhook delivery failed", "wamid", e.WAMID, "status", e.Status, "url", d.cfg.URL, "error", err)
		return err
	}

	d.delivered.Add(1)
	prom.IncStatusCallback(string(e.Status), prom.OutcomeSuccess)
	logger.Info("status webhook delivered", "wamid", e.WAMID, "status", e.Status, "recipient", e.Recipient, "duration", time.Since(start))
	return nil
}

// Envelope renders the provider payload for one event. Pricing is omitted for
// read receipts.
func (d *Dispatcher) Envelope(e model.StatusEvent, now time.Time) model.StatusWebhook {
	status := model.StatusObject{
		ID:          e.WAMID,
		Status:      e.Status,
		Timestamp:   strconv.FormatInt(now.Unix(), 10),
		RecipientID: e.Recipient,
		Conversation: &model.Conversation{
			ID:     ConversationID(e.WAMID),
			Origin: model.ConversationOriginInfo{Type: model.ConversationOrigin},
		},
	}
	if e.Status != model.MessageStatusRead {
		status.Pricing = &model.Pricing{
			Billable:     true,
			PricingModel: model.PricingModelCBP,
			Category:     model.PricingCategory,
		}
	}

	return model.StatusWebhook{
		Object: model.WebhookObjectWABA,
		Entry: []model.Entry{{
			ID: d.cfg.WabaID,
			Changes: []model.Change{{
				Field: model.WebhookFieldMessages,
				Value: model.ChangeValue{
					MessagingProduct: model.MessagingProductWhatsApp,
					Metadata: model.ChangeMetadata{
						DisplayPhoneNumber: d.cfg.DisplayPhoneNumber,
						PhoneNumberID:      e.PhoneNumberID,
					},
					Statuses: []model.StatusObject{status},
				},
			}},
		}},
	}
}

// ConversationID derives the conversation id from characters 10..20 of the wamid.
func ConversationID(wamid string) string {
	start, end := min(conversationStart, len(wamid)), min(conversationEnd, len(wamid))
	return "CON_" + wamid[start:end]
}

func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.cfg.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.SetUserAgent(UserAgent)
	req.Header.Set(signature.Header, signature.Sign(d.cfg.AppSecret, body))
	req.SetBody(body)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = d.client.DoDeadline(req, resp, deadline)
	} else if d.cfg.Timeout > 0 {
		err = d.client.DoTimeout(req, resp, d.cfg.Timeout)
	} else {
		err = d.client.Do(req, resp)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("%w: %d, body: %s", ErrUnexpectedStatus, code, resp.Body())
	}
	return nil
}
