package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestSender_SignsAndPosts(t *testing.T) {
	t.Parallel()

	const secret = "whsec_relay"
	payload := []byte(`{"id":"01J0000000000000000000000","type":"referral_completed"}`)

	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSender(srv.URL, secret, srv.Client())
	fixed := time.Unix(1736600000, 0)
	sender.now = func() time.Time { return fixed }

	err := sender.Send(context.Background(), Delivery{ID: "01J0000000000000000000000", EventType: "referral_completed", Payload: payload})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if string(gotBody) != string(payload) {
		t.Errorf("body = %s, want %s", gotBody, payload)
	}
	if gotHeaders.Get(HeaderDeliveryID) != "01J0000000000000000000000" {
		t.Errorf("%s = %q", HeaderDeliveryID, gotHeaders.Get(HeaderDeliveryID))
	}
	if gotHeaders.Get(HeaderEventType) != "referral_completed" {
		t.Errorf("%s = %q", HeaderEventType, gotHeaders.Get(HeaderEventType))
	}

	ts, err := strconv.ParseInt(gotHeaders.Get(HeaderTimestamp), 10, 64)
	if err != nil || ts != fixed.Unix() {
		t.Fatalf("timestamp header = %q", gotHeaders.Get(HeaderTimestamp))
	}
	if err := ValidateSignature(secret, gotHeaders.Get(HeaderSignature), ts, gotBody, DefaultReplayWindow, fixed); err != nil {
		t.Errorf("receiver-side verification failed: %v", err)
	}
}

func TestSender_ClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusGone, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusMovedPermanently, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusMovedPermanently {
					w.Header().Set("Location", "https://elsewhere.example.com/")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewSender(srv.URL, "s", NewHTTPClient()).Send(context.Background(), Delivery{ID: "x", Payload: []byte(`{}`)})

			var deliveryErr *DeliveryError
			if !errors.As(err, &deliveryErr) {
				t.Fatalf("expected *DeliveryError, got %v", err)
			}
			if deliveryErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", deliveryErr.StatusCode, tt.status)
			}
			if deliveryErr.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", deliveryErr.Retryable, tt.retryable)
			}
		})
	}
}

func TestSender_TransportErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewSender(url, "s", nil).Send(context.Background(), Delivery{ID: "x", Payload: []byte(`{}`)})

	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if !deliveryErr.Retryable || deliveryErr.StatusCode != 0 {
		t.Errorf("DeliveryError = %+v, want retryable transport failure", deliveryErr)
	}
	if sender := NewSender("https://rewards.example.com/hook?key=secret", "s", nil); sender.TargetHost() != "rewards.example.com" {
		t.Errorf("TargetHost() = %q", sender.TargetHost())
	}
}
