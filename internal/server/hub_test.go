package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/domain"
)

func dialHub(t *testing.T, srv *httptest.Server, market string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?market=" + market
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	return c
}

func TestHub_BroadcastToMarketSubscribers(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	sub := dialHub(t, srv, "gpu-h100")
	defer sub.Close()
	other := dialHub(t, srv, "gpu-a100")
	defer other.Close()

	// Registration races the broadcast without a short settle.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(&domain.MarketStats24h{
		MarketID:     "gpu-h100",
		CurrentPrice: decimal.NewFromInt(105),
		Trades24h:    2,
	})

	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	var row domain.MarketStats24h
	if err := sub.ReadJSON(&row); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if row.MarketID != "gpu-h100" || row.Trades24h != 2 {
		t.Errorf("unexpected payload: %+v", row)
	}

	// The other market's subscriber gets nothing.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if err := other.ReadJSON(&row); err == nil {
		t.Error("subscriber of another market received the broadcast")
	}
}

func TestHub_WildcardSubscriber(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	all, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	defer all.Close()

	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(&domain.MarketStats24h{MarketID: "gpu-a100", Trades24h: 7})

	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	var row domain.MarketStats24h
	if err := all.ReadJSON(&row); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if row.MarketID != "gpu-a100" {
		t.Errorf("MarketID = %s, want gpu-a100", row.MarketID)
	}
}
