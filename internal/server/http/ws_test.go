package httpserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nikhi3632/Stroomweg/internal/bus"
	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestWSSubscribeAck(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteJSON(map[string]string{"subscribe": "speeds", "road": "A2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)
	if ack.Subscribed != "speeds" || ack.FilterCount == nil || *ack.FilterCount != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestWSUnknownKindError(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteJSON(map[string]string{"subscribe": "weather"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)
	if ack.Error == "" {
		t.Fatalf("expected error ack, got %+v", ack)
	}

	// The connection stays usable after a protocol error.
	if err := conn.WriteJSON(map[string]string{"subscribe": "speeds", "site_id": "S1"}); err != nil {
		t.Fatalf("write after error: %v", err)
	}
	readJSON(t, conn, &ack)
	if ack.Subscribed != "speeds" {
		t.Fatalf("connection should survive a bad frame: %+v", ack)
	}
}

func TestWSMalformedFrameKeepsConnection(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)
	if ack.Error == "" {
		t.Fatalf("invalid JSON should produce an error ack, got %+v", ack)
	}

	// A valid control frame still works on the same connection.
	if err := conn.WriteJSON(map[string]string{"subscribe": "speeds", "site_id": "S1"}); err != nil {
		t.Fatalf("write after bad frame: %v", err)
	}
	readJSON(t, conn, &ack)
	if ack.Subscribed != "speeds" {
		t.Fatalf("connection should survive invalid JSON: %+v", ack)
	}
}

func TestWSMissingFilterError(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteJSON(map[string]string{"subscribe": "speeds"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)
	if ack.Error == "" {
		t.Fatalf("subscribe without a filter should fail, got %+v", ack)
	}
}

func TestWSDataDelivery(t *testing.T) {
	s, mem, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteJSON(map[string]string{"subscribe": "speeds", "site_id": "S1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)
	if ack.Subscribed != "speeds" {
		t.Fatalf("ack: %+v", ack)
	}

	waitUntil(t, func() bool { return s.dispatcher.Registry().Len() == 1 })
	snap := bus.SpeedSnapshot{
		Cycle:     1,
		Timestamp: "2026-08-26T10:00:00Z",
		Sites: []bus.SpeedSite{
			{SiteID: "S1", Lanes: []bus.SpeedLane{{Lane: 1, SpeedKMH: ptr(92)}}},
			{SiteID: "S2", Lanes: []bus.SpeedLane{{Lane: 1, SpeedKMH: ptr(70)}}},
		},
	}
	payload, _ := bus.EncodeSnapshot(snap)
	mem.Publish(context.Background(), bus.ChannelFor(datex.KindSpeeds), payload)

	var frame struct {
		Event string                   `json:"event"`
		Data  []dispatch.SpeedDelivery `json:"data"`
	}
	readJSON(t, conn, &frame)
	if frame.Event != "speeds" {
		t.Fatalf("event: %q", frame.Event)
	}
	if len(frame.Data) != 1 || frame.Data[0].SiteID != "S1" {
		t.Fatalf("site filter should pass only S1: %+v", frame.Data)
	}
}

func TestWSUnsubscribe(t *testing.T) {
	s, mem, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteJSON(map[string]string{"subscribe": "speeds", "site_id": "S1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)

	if err := conn.WriteJSON(map[string]string{"unsubscribe": "speeds"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readJSON(t, conn, &ack)
	if ack.Unsubscribed != "speeds" {
		t.Fatalf("expected unsubscribe ack, got %+v", ack)
	}
	waitUntil(t, func() bool { return s.dispatcher.Registry().Len() == 0 })

	// Published snapshots no longer reach the connection.
	snap := bus.SpeedSnapshot{Cycle: 1, Timestamp: "t", Sites: []bus.SpeedSite{{SiteID: "S1"}}}
	payload, _ := bus.EncodeSnapshot(snap)
	mem.Publish(context.Background(), bus.ChannelFor(datex.KindSpeeds), payload)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatalf("unexpected frame after unsubscribe: %+v", frame)
	}
}

func TestWSUnsubscribeWithoutSubscription(t *testing.T) {
	_, _, ts := testServer(t, fakePinger{}, fakePinger{})
	conn := dialWS(t, ts.URL)

	if err := conn.WriteJSON(map[string]string{"unsubscribe": "speeds"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack wsAck
	readJSON(t, conn, &ack)
	if ack.Error == "" {
		t.Fatalf("expected error ack, got %+v", ack)
	}
}
