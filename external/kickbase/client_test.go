package kickbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
	"github.com/kbinsights/kickbase-insights/internal/usecase"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		BaseURL:  server.URL,
		Email:    "test@example.com",
		Password: "secret",
		Logger:   logging.NewNop(),
	})
	return client, server
}

func loginHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"` + token + `","user":{"id":"u1","name":"Test"},"leagues":[{"id":"l1","name":"League"}]}`))
	}
}

func TestUserFeedV1FlattensPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/user/login", loginHandler("tok-1"))
	mux.HandleFunc("/leagues/l1/users/u1/feed", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "kkstrauth=tok-1;" {
			t.Errorf("unexpected cookie header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("start") != "0" {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[
			{"id":"e1","type":12,"date":"2025-08-10T09:00:00.000Z","meta":{"pid":"p1","tid":"t1","pfn":"Max","pln":"Muster","p":"1000000"}},
			{"id":"e2","type":2,"date":"2025-08-20T09:00:00.000Z","meta":{"pid":"p1","tid":"t1","pfn":"Max","pln":"Muster","p":1500000.0,"bn":"Alice"}},
			{"id":"e3","type":3,"date":"2025-08-21T09:00:00.000Z","meta":{}}
		]}`))
	})

	client, _ := newTestClient(t, mux)
	items, err := client.ManagerFeed(context.Background(), "l1", transfer.Party{ID: "u1", Name: "Bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 raw items, got=%d", len(items))
	}

	buy := items[0]
	if buy.Schema != transfer.FeedSchemaV1 || buy.EventID != "e1" || buy.ItemType != 12 {
		t.Fatalf("unexpected first item: %+v", buy)
	}
	if buy.Price == nil || *buy.Price != 1_000_000 {
		t.Fatalf("expected string price decoded to 1000000, got=%v", buy.Price)
	}
	if buy.Date != time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected date: %v", buy.Date)
	}

	sell := items[1]
	if sell.Price == nil || *sell.Price != 1_500_000 {
		t.Fatalf("expected float price decoded to 1500000, got=%v", sell.Price)
	}
	if sell.BuyerName == nil || *sell.BuyerName != "Alice" {
		t.Fatalf("expected buyer name on sell item, got=%v", sell.BuyerName)
	}
}

func TestManagerFeedFallsBackToLeagueFeed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/user/login", loginHandler("tok-1"))
	mux.HandleFunc("/leagues/l1/users/u1/feed", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err":404}`, http.StatusNotFound)
	})
	mux.HandleFunc("/v2/leagues/l1/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("start") != "0" {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[
			{"i":"d1","t":15,"dt":"2025-08-22T10:00:00.000Z","data":{"s":{"i":"u1","n":"Bob"},"p":{"i":"p2","tid":"t1","fn":"Erik","n":"Beispiel"},"v":2000000}},
			{"i":"d2","t":15,"dt":"2025-08-23T10:00:00.000Z","data":{"b":{"i":"u9","n":"Other"},"p":{"i":"p3","tid":"t2","fn":"Jan","n":"Andere"},"v":900000}}
		]}`))
	})

	client, _ := newTestClient(t, mux)
	items, err := client.ManagerFeed(context.Background(), "l1", transfer.Party{ID: "u1", Name: "Bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the owner's deal, got=%d", len(items))
	}
	item := items[0]
	if item.Schema != transfer.FeedSchemaV2 || item.EventID != "d1" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Seller == nil || item.Seller.ID != "u1" {
		t.Fatalf("expected seller u1, got=%+v", item.Seller)
	}
	if item.Value == nil || *item.Value != 2_000_000 {
		t.Fatalf("unexpected value: %v", item.Value)
	}
}

func TestDoJSONRenewsExpiredSession(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/user/login", func(w http.ResponseWriter, r *http.Request) {
		n := logins.Add(1)
		token := "tok-1"
		if n > 1 {
			token = "tok-2"
		}
		loginHandler(token)(w, r)
	})
	mux.HandleFunc("/leagues/l1/market", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Cookie"); got != "kkstrauth=tok-2;" {
			t.Errorf("expected renewed token, got cookie %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"players":[{"id":"p1","teamId":"t1","firstName":"Max","lastName":"Muster","position":4,"price":1000000,"marketValue":1100000,"expiry":"2025-09-16T00:00:00.000Z"}]}`))
	})

	client, _ := newTestClient(t, mux)
	listings, err := client.MarketListings(context.Background(), "l1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected one listing, got=%d", len(listings))
	}
	if listings[0].SellerID != "" {
		t.Fatalf("expected platform listing, got seller=%q", listings[0].SellerID)
	}
	if listings[0].Position != "ANG" {
		t.Fatalf("unexpected position: %q", listings[0].Position)
	}
	if logins.Load() != 2 {
		t.Fatalf("expected a re-login, got %d logins", logins.Load())
	}
}

func TestValueAt(t *testing.T) {
	t.Parallel()

	history := []usecase.ValuePoint{
		{Date: time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC), Value: 900_000},
		{Date: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), Value: 1_000_000},
		{Date: time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC), Value: 1_200_000},
	}
	anchor := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	value, found := valueAt(history, anchor)
	if !found || value != 1_000_000 {
		t.Fatalf("expected 1000000 at anchor, got=%d found=%v", value, found)
	}

	_, found = valueAt(history, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	if found {
		t.Fatal("expected no value before history start")
	}
}
