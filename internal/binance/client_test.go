package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryanzhou/perp-forwarder/internal/backoff"
)

func testPolicy() backoff.Policy {
	return backoff.Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond, Factor: 2}
}

func TestFloat64StringUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{`"45000.5"`, 45000.5, false},
		{`"0.00000150"`, 0.0000015, false},
		{`123.25`, 123.25, false}, // bare number tolerated
		{`""`, 0, true},
		{`"abc"`, 0, true},
	}

	for _, tt := range tests {
		var f Float64String
		err := json.Unmarshal([]byte(tt.in), &f)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Unmarshal(%s) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.in, err)
			continue
		}
		if float64(f) != tt.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, float64(f), tt.want)
		}
	}
}

func TestAggTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/aggTrades" {
			t.Errorf("path = %s, want /fapi/v1/aggTrades", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s, want BTCUSDT", got)
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %s, want 100", got)
		}

		fmt.Fprint(w, `[
			{"a":1,"p":"45000.0","q":"1.5","f":1,"l":1,"T":1700000000000,"m":true},
			{"a":2,"p":"45001.0","q":"0.5","f":2,"l":2,"T":1700000000100,"m":false}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(testPolicy()))
	trades, err := c.AggTrades(context.Background(), "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("AggTrades failed: %v", err)
	}

	if len(trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(trades))
	}
	if float64(trades[0].Price) != 45000.0 {
		t.Errorf("trades[0].Price = %v, want 45000.0", float64(trades[0].Price))
	}
	if float64(trades[1].Quantity) != 0.5 {
		t.Errorf("trades[1].Quantity = %v, want 0.5", float64(trades[1].Quantity))
	}
	if !trades[0].IsBuyerMaker || trades[1].IsBuyerMaker {
		t.Error("IsBuyerMaker flags decoded incorrectly")
	}
}

func TestReferenceStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"a":1,"p":"100.0","q":"2.0","T":1,"m":true},
			{"a":2,"p":"200.0","q":"4.0","T":2,"m":false}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(testPolicy()))
	ref, err := c.ReferenceStats(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("ReferenceStats failed: %v", err)
	}
	if ref.Price != 150.0 {
		t.Errorf("Price = %v, want 150.0", ref.Price)
	}
	if ref.Quantity != 3.0 {
		t.Errorf("Quantity = %v, want 3.0", ref.Quantity)
	}
}

func TestReferenceStatsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(testPolicy()))
	if _, err := c.ReferenceStats(context.Background(), "ETHUSDT"); err == nil {
		t.Error("ReferenceStats on empty response succeeded, want error")
	}
}

func TestBootstrapReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		price := map[string]string{"BTCUSDT": "45000.0", "ETHUSDT": "3000.0"}[r.URL.Query().Get("symbol")]
		fmt.Fprintf(w, `[{"a":1,"p":"%s","q":"1.0","T":1,"m":true}]`, price)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(testPolicy()))
	prices, qtys, err := c.BootstrapReferences(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("BootstrapReferences failed: %v", err)
	}

	if prices[0] != 45000.0 || prices[1] != 3000.0 {
		t.Errorf("prices = %v, want [45000 3000]", prices)
	}
	if qtys[0] != 1.0 || qtys[1] != 1.0 {
		t.Errorf("qtys = %v, want [1 1]", qtys)
	}
}

func TestBootstrapReferencesRetriesThenFails(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(testPolicy()))
	_, _, err := c.BootstrapReferences(context.Background(), []string{"BTCUSDT"})
	if !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("error = %v, want ErrBootstrapFailed", err)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("request count = %d, want 5", got)
	}
}

func TestBootstrapReferencesRecovers(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"a":1,"p":"100.0","q":"2.0","T":1,"m":true}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(testPolicy()))
	prices, _, err := c.BootstrapReferences(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("BootstrapReferences failed: %v", err)
	}
	if prices[0] != 100.0 {
		t.Errorf("price = %v, want 100.0", prices[0])
	}
}
