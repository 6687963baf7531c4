package settlementsvc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
	settlementsvc "github.com/educhain/educhain/services/settlement"
	testutil "github.com/educhain/educhain/tests"
)

func newGateway(t *testing.T, h http.HandlerFunc) distribution.Settler {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conf := testutil.Config()
	conf.Settlement.GatewayURL = srv.URL + "/"
	conf.Settlement.APIKey = "k3y"
	conf.Settlement.SourceWallet = "SOURCE"
	conf.Settlement.MaxRetries = 2
	conf.Settlement.RetryInitialInterval = time.Millisecond

	gw, err := settlementsvc.NewGateway(conf, testutil.Logger(t))
	require.NoError(t, err)
	return gw
}

func reply(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

var payment = distribution.SettlementRequest{
	Reference:   "0c9b2a1e-7d6f-4e5a-9b8c-1d2e3f4a5b6c",
	Destination: testutil.Wallet,
	Amount:      decimal.RequireFromString("2000"),
	Memo:        "installment 2024-03",
}

func TestNewGateway(t *testing.T) {
	conf := testutil.Config()
	for _, u := range []string{"not a url", "/relative", "://"} {
		conf.Settlement.GatewayURL = u
		_, err := settlementsvc.NewGateway(conf, testutil.Logger(t))
		assert.Error(t, err, u)
	}
}

func TestGateway_Settle(t *testing.T) {
	ctx := context.Background()

	t.Run("settled", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/payments", r.URL.Path)
			assert.Equal(t, "Bearer k3y", r.Header.Get("Authorization"))

			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, payment.Reference, body["reference"])
			assert.Equal(t, "SOURCE", body["source"])
			assert.Equal(t, "2000.00", body["amount"])

			reply(w, http.StatusOK, map[string]string{"status": "settled", "transaction_hash": "abc", "operation_id": "op-1"})
		})

		receipt, err := gw.Settle(ctx, payment)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementSettled, receipt.State)
		assert.Equal(t, "abc", receipt.TransactionHash)
		assert.Equal(t, "op-1", receipt.OperationID)
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls int32
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				reply(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
				return
			}
			reply(w, http.StatusOK, map[string]string{"status": "settled", "transaction_hash": "abc"})
		})

		receipt, err := gw.Settle(ctx, payment)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementSettled, receipt.State)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("retries run out", func(t *testing.T) {
		var calls int32
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			reply(w, http.StatusBadGateway, nil)
		})

		_, err := gw.Settle(ctx, payment)
		assert.True(t, core.IsSettlementTimeout(err), "got %v", err)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "first try plus two retries")
	})

	t.Run("rejected payments fail for good", func(t *testing.T) {
		var calls int32
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			reply(w, http.StatusUnprocessableEntity, map[string]string{"error": "destination account closed"})
		})

		receipt, err := gw.Settle(ctx, payment)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementFailed, receipt.State)
		assert.Equal(t, "destination account closed", receipt.Reason)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("failed on the network", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, map[string]string{"status": "failed", "reason": "trustline missing"})
		})

		receipt, err := gw.Settle(ctx, payment)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementFailed, receipt.State)
		assert.Equal(t, "trustline missing", receipt.Reason)
	})

	t.Run("pending at the gateway", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusAccepted, map[string]string{"status": "pending"})
		})

		_, err := gw.Settle(ctx, payment)
		assert.True(t, core.IsSettlementTimeout(err), "got %v", err)
	})

	t.Run("deadline", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		})

		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := gw.Settle(ctx, payment)
		assert.True(t, core.IsSettlementTimeout(err), "got %v", err)
	})
}

func TestGateway_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("known", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/payments/"+payment.Reference, r.URL.Path)
			reply(w, http.StatusOK, map[string]string{"status": "settled", "transaction_hash": "abc"})
		})

		receipt, err := gw.Lookup(ctx, payment.Reference)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementSettled, receipt.State)
	})

	t.Run("unknown reference", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusNotFound, map[string]string{"error": "no such payment"})
		})

		receipt, err := gw.Lookup(ctx, payment.Reference)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementUnknown, receipt.State)
	})

	t.Run("gateway down", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusInternalServerError, nil)
		})

		receipt, err := gw.Lookup(ctx, payment.Reference)
		require.NoError(t, err)
		assert.Equal(t, distribution.SettlementUnknown, receipt.State)
	})

	t.Run("forbidden", func(t *testing.T) {
		gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusForbidden, map[string]string{"error": "bad key"})
		})

		_, err := gw.Lookup(ctx, payment.Reference)
		assert.Error(t, err)
	})
}
