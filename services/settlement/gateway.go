package settlementsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
)

// payment statuses reported by the gateway
const (
	paymentSettled = "settled"
	paymentFailed  = "failed"
	paymentPending = "pending"
)

type (
	paymentRequest struct {
		Reference   string `json:"reference"`
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Amount      string `json:"amount"`
		Memo        string `json:"memo,omitempty"`
	}

	paymentResponse struct {
		Reference       string `json:"reference"`
		Status          string `json:"status"`
		TransactionHash string `json:"transaction_hash"`
		OperationID     string `json:"operation_id"`
		Reason          string `json:"reason"`
		Error           string `json:"error"`
	}

	// transientError is a failure worth retrying: the gateway deduplicates payments by reference.
	transientError struct {
		err error
	}

	gateway struct {
		baseURL      *url.URL
		apiKey       string
		sourceWallet string
		client       *http.Client
		maxTries     uint
		initialWait  time.Duration
		logger       core.Logger
	}
)

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

var _ distribution.Settler = (*gateway)(nil)

// NewGateway returns a Settler talking to the settlement gateway over HTTP.
func NewGateway(conf *core.Config, logger core.Logger) (distribution.Settler, error) {
	u, err := url.Parse(strings.TrimSuffix(conf.Settlement.GatewayURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing settlement gateway URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid settlement gateway URL %q", conf.Settlement.GatewayURL)
	}
	tries := conf.Settlement.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	return &gateway{
		baseURL:      u,
		apiKey:       conf.Settlement.APIKey,
		sourceWallet: conf.Settlement.SourceWallet,
		client:       &http.Client{},
		maxTries:     uint(tries),
		initialWait:  conf.Settlement.RetryInitialInterval,
		logger:       logger,
	}, nil
}

func (gw *gateway) Settle(ctx context.Context, req distribution.SettlementRequest) (distribution.SettlementReceipt, error) {
	body, err := json.Marshal(paymentRequest{
		Reference:   req.Reference,
		Source:      gw.sourceWallet,
		Destination: req.Destination,
		Amount:      req.Amount.StringFixed(2),
		Memo:        req.Memo,
	})
	if err != nil {
		return distribution.SettlementReceipt{}, errors.Wrap(err, "encoding payment")
	}

	res, err := gw.retry(ctx, req.Reference, func() (paymentResponse, error) {
		return gw.do(ctx, http.MethodPost, "/payments", body)
	})
	var se statusError
	if !core.IsSettlementTimeout(err) && errors.As(err, &se) {
		// rejected by the gateway: the payment will never happen
		gw.logger.Warn("settlement rejected by gateway", "reference", req.Reference, "status", se.code, "reason", se.msg)
		return distribution.SettlementReceipt{State: distribution.SettlementFailed, Reason: se.msg}, nil
	}
	if err != nil {
		return distribution.SettlementReceipt{}, err
	}
	if res.Status == paymentPending {
		return distribution.SettlementReceipt{}, core.NewSettlementTimeoutError(req.Reference, errors.New("payment is pending at the gateway"))
	}
	return res.receipt(), nil
}

func (gw *gateway) Lookup(ctx context.Context, reference string) (distribution.SettlementReceipt, error) {
	res, err := gw.retry(ctx, reference, func() (paymentResponse, error) {
		return gw.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(reference), nil)
	})
	// an unknown reference may still be in flight; only an operator can declare it failed
	if core.IsSettlementTimeout(err) || isStatus(err, http.StatusNotFound) {
		return distribution.SettlementReceipt{State: distribution.SettlementUnknown}, nil
	}
	if err != nil {
		return distribution.SettlementReceipt{}, err
	}
	return res.receipt(), nil
}

// retry runs op with exponential backoff while it fails transiently.
// A timeout or exhausted retries leave the outcome unknown.
func (gw *gateway) retry(ctx context.Context, reference string, op func() (paymentResponse, error)) (paymentResponse, error) {
	b := backoff.NewExponentialBackOff()
	if gw.initialWait > 0 {
		b.InitialInterval = gw.initialWait
	}

	res, err := backoff.Retry(ctx, func() (paymentResponse, error) {
		res, err := op()
		var te transientError
		if err != nil && !errors.As(err, &te) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(gw.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			gw.logger.Warn("retrying settlement gateway call", "reference", reference, "wait", wait.String(), err)
		}),
	)
	if err == nil {
		return res, nil
	}

	var te transientError
	if errors.As(err, &te) || isTimeout(err) {
		return paymentResponse{}, core.NewSettlementTimeoutError(reference, err)
	}
	return paymentResponse{}, err
}

type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string {
	return fmt.Sprintf("settlement gateway responded %d: %s", e.code, e.msg)
}

func isStatus(err error, code int) bool {
	var se statusError
	return errors.As(err, &se) && se.code == code
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (gw *gateway) do(ctx context.Context, method, path string, body []byte) (paymentResponse, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, gw.baseURL.String()+path, rdr)
	if err != nil {
		return paymentResponse{}, errors.Wrap(err, "building gateway request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if gw.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+gw.apiKey)
	}

	resp, err := gw.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return paymentResponse{}, err
		}
		return paymentResponse{}, transientError{err}
	}
	defer resp.Body.Close()

	var res paymentResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return paymentResponse{}, transientError{statusError{resp.StatusCode, res.message(resp.Status)}}
	case resp.StatusCode >= 400:
		return paymentResponse{}, statusError{resp.StatusCode, res.message(resp.Status)}
	}
	if decodeErr != nil {
		return paymentResponse{}, transientError{errors.Wrap(decodeErr, "decoding gateway response")}
	}
	switch res.Status {
	case paymentSettled, paymentFailed, paymentPending:
		return res, nil
	}
	return paymentResponse{}, errors.Errorf("unexpected payment status %q", res.Status)
}

func (res paymentResponse) message(fallback string) string {
	switch {
	case res.Error != "":
		return res.Error
	case res.Reason != "":
		return res.Reason
	}
	return fallback
}

func (res paymentResponse) receipt() distribution.SettlementReceipt {
	switch res.Status {
	case paymentSettled:
		return distribution.SettlementReceipt{
			State:           distribution.SettlementSettled,
			TransactionHash: res.TransactionHash,
			OperationID:     res.OperationID,
		}
	case paymentFailed:
		return distribution.SettlementReceipt{State: distribution.SettlementFailed, Reason: res.message("payment failed")}
	}
	return distribution.SettlementReceipt{State: distribution.SettlementUnknown}
}
