// Referral Webhook Receiver Example
//
// A minimal receiver for the referral API's webhook relay. It verifies the
// HMAC signature, rejects stale timestamps and drops redelivered events.
//
// Usage:
//   export REFERRAL_WEBHOOK_SECRET="whsec_your_secret_here"
//   go run main.go
//
// Then start the API with WEBHOOK_URL=http://localhost:9000/webhook
// (plain http is only accepted when APP_ENV=development).

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const replayWindow = 5 * time.Minute

// ReferralEvent is the payload the relay delivers.
type ReferralEvent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	ReferralID     string `json:"referral_id"`
	ReferralCode   string `json:"referral_code"`
	ReferrerUserID string `json:"referrer_user_id"`
	RefereeUserID  string `json:"referee_user_id"`
	Status         string `json:"status"`
	OccurredAt     int64  `json:"t"`
}

// seen remembers delivery IDs; the relay retries with the same ID.
type seen struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func (s *seen) firstTime(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = time.Now()
	return true
}

func main() {
	secret := os.Getenv("REFERRAL_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("REFERRAL_WEBHOOK_SECRET environment variable is required")
	}

	deliveries := &seen{ids: make(map[string]time.Time)}
	http.HandleFunc("/webhook", webhookHandler(secret, deliveries))
	http.HandleFunc("/health", healthHandler)

	log.Println("Starting webhook receiver on :9000")
	log.Fatal(http.ListenAndServe(":9000", nil))
}

func webhookHandler(secret string, deliveries *seen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		timestamp, err := strconv.ParseInt(r.Header.Get("X-Referral-Timestamp"), 10, 64)
		if err != nil {
			http.Error(w, "Missing timestamp", http.StatusUnauthorized)
			return
		}
		if !verifySignature(secret, r.Header.Get("X-Referral-Signature"), timestamp, body) {
			log.Println("Rejected delivery with bad or stale signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		// Acknowledge duplicates so the relay stops retrying.
		deliveryID := r.Header.Get("X-Referral-Delivery-Id")
		if !deliveries.firstTime(deliveryID) {
			w.WriteHeader(http.StatusOK)
			return
		}

		var event ReferralEvent
		if err := json.Unmarshal(body, &event); err != nil {
			// 4xx is not retried; the relay dead-letters it.
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		log.Printf("Received %s for %s (status %s, referrer %s)",
			event.Type, event.ReferralCode, event.Status, event.ReferrerUserID)

		w.WriteHeader(http.StatusNoContent)
	}
}

// verifySignature checks HMAC-SHA256 over "{timestamp}.{body}" and the
// replay window.
func verifySignature(secret, signature string, timestamp int64, body []byte) bool {
	age := time.Since(time.Unix(timestamp, 0))
	if age > replayWindow || age < -replayWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
