package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natspkg "github.com/brojonat/wishpay/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCredits(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan *natspkg.CreditEvent, 1)}
	handler := handleStreamCredits(sub, nil, discardLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/credits/"+testPayer, nil)
	req.SetPathValue("address", testPayer)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	sub.events <- &natspkg.CreditEvent{
		Signature:      testSignature,
		WalletAddress:  testPayer,
		CreditsAwarded: 6,
		NewBalance:     6,
	}
	close(sub.events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the stream closed")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: connected\ndata: {\"wallet\":\""+testPayer+"\"}")
	assert.Contains(t, body, "event: credit\ndata: ")
	assert.Contains(t, body, `"credits_awarded":6`)
	assert.Equal(t, []string{testPayer}, sub.wallets)
}

func TestStreamCredits_AllWallets(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan *natspkg.CreditEvent)}
	handler := handleStreamCredits(sub, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/stream/credits", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}

	require.Len(t, sub.wallets, 1)
	assert.Equal(t, "", sub.wallets[0])
	assert.True(t, strings.Contains(rec.Body.String(), "all wallets"))
}

func TestStreamCredits_Errors(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("nats down")}
	handler := handleStreamCredits(sub, nil, discardLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/credits", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/stream/credits/bad!", nil)
	req.SetPathValue("address", "bad!")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
