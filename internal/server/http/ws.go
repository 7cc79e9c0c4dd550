package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nikhi3632/Stroomweg/internal/datex"
	"github.com/nikhi3632/Stroomweg/internal/dispatch"
	logpkg "github.com/nikhi3632/Stroomweg/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins, same as the CORS
	// policy on the REST surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsControl is a client control frame. Exactly one of Subscribe or
// Unsubscribe is expected per frame.
type wsControl struct {
	Subscribe   string   `json:"subscribe,omitempty"`
	Unsubscribe string   `json:"unsubscribe,omitempty"`
	Road        string   `json:"road,omitempty"`
	BBox        string   `json:"bbox,omitempty"`
	SiteID      string   `json:"site_id,omitempty"`
	MinQuality  *float64 `json:"min_quality,omitempty"`
}

type wsAck struct {
	Subscribed   string `json:"subscribed,omitempty"`
	Unsubscribed string `json:"unsubscribed,omitempty"`
	FilterCount  *int   `json:"filter_count,omitempty"`
	Error        string `json:"error,omitempty"`
}

type wsData struct {
	Event datex.Kind  `json:"event"`
	Data  interface{} `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	c := s.dispatcher.Connect()
	defer s.dispatcher.Disconnect(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &wsSession{
		server:     s,
		conn:       conn,
		consumer:   c,
		minQuality: make(map[datex.Kind]*float64),
		acks:       make(chan wsAck, 8),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.writeLoop(ctx)
	}()

	sess.readLoop(ctx)
	cancel()
	wg.Wait()
}

// wsSession owns one WebSocket connection. The read loop handles
// control frames; all writes go through the write loop so control acks
// and data frames never interleave mid-message.
type wsSession struct {
	server   *Server
	conn     *websocket.Conn
	consumer *dispatch.Consumer
	acks     chan wsAck

	mu         sync.Mutex
	minQuality map[datex.Kind]*float64
}

// readLoop decodes frames itself rather than using ReadJSON: a frame
// that is not valid JSON is a protocol error acknowledged on the
// connection, only transport errors end the session.
func (sess *wsSession) readLoop(ctx context.Context) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.server.logger.Debug("websocket closed", logpkg.Err(err))
			}
			return
		}
		var ack wsAck
		var ctl wsControl
		if err := json.Unmarshal(data, &ctl); err != nil {
			ack = wsAck{Error: "malformed control frame: invalid JSON"}
		} else {
			ack = sess.apply(ctl)
		}
		select {
		case sess.acks <- ack:
		case <-ctx.Done():
			return
		}
	}
}

// apply executes one control frame. Malformed frames produce an error
// ack; the connection stays open either way.
func (sess *wsSession) apply(ctl wsControl) wsAck {
	switch {
	case ctl.Subscribe != "":
		kind, ok := kindFromString(ctl.Subscribe)
		if !ok {
			return wsAck{Error: "unknown kind: " + ctl.Subscribe}
		}
		f, err := dispatch.FilterFromParams(ctl.Road, ctl.BBox, ctl.SiteID)
		if err != nil {
			return wsAck{Error: err.Error()}
		}
		count := sess.server.dispatcher.Subscribe(sess.consumer, kind, f)
		sess.mu.Lock()
		sess.minQuality[kind] = ctl.MinQuality
		sess.mu.Unlock()
		return wsAck{Subscribed: string(kind), FilterCount: &count}

	case ctl.Unsubscribe != "":
		kind, ok := kindFromString(ctl.Unsubscribe)
		if !ok {
			return wsAck{Error: "unknown kind: " + ctl.Unsubscribe}
		}
		if !sess.server.dispatcher.Unsubscribe(sess.consumer, kind) {
			return wsAck{Error: "not subscribed: " + string(kind)}
		}
		sess.mu.Lock()
		delete(sess.minQuality, kind)
		sess.mu.Unlock()
		return wsAck{Unsubscribed: string(kind)}

	default:
		return wsAck{Error: "expected subscribe or unsubscribe"}
	}
}

func (sess *wsSession) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-sess.acks:
			if err := sess.conn.WriteJSON(ack); err != nil {
				return
			}
		case d, ok := <-sess.consumer.Deliveries():
			if !ok {
				return
			}
			records := d.Records
			if mq := sess.qualityFloor(d.Kind); mq != nil {
				filtered := filterQuality(d.Records.([]dispatch.JourneyTimeDelivery), *mq)
				if len(filtered) == 0 {
					continue
				}
				records = filtered
			}
			if err := sess.conn.WriteJSON(wsData{Event: d.Kind, Data: records}); err != nil {
				return
			}
		}
	}
}

func (sess *wsSession) qualityFloor(kind datex.Kind) *float64 {
	if kind != datex.KindJourneyTimes {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.minQuality[kind]
}
