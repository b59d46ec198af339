package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"stakepool/core/events"
	"stakepool/observability"
)

const wsWriteTimeout = 10 * time.Second

// streamFrame is written for every fact. Gap is set when facts between the
// previous frame and this one were not delivered.
type streamFrame struct {
	Fact events.Fact `json:"fact"`
	Gap  bool        `json:"gap,omitempty"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamFacts(ctx, conn, cursor); err != nil {
		reason := "client"
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			reason = "error"
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
		observability.Facts().RecordStreamClosed(reason)
	}
}

func (s *Server) streamFacts(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	updates, backlog, truncated, cancel := s.runtime.Facts.Subscribe(ctx, cursor)
	defer cancel()

	next := cursor + 1
	send := func(fact events.Fact, gap bool) error {
		if fact.Sequence < next {
			return nil
		}
		gap = gap || fact.Sequence > next
		next = fact.Sequence + 1
		return writeFrame(ctx, conn, streamFrame{Fact: fact, Gap: gap})
	}

	for i, fact := range backlog {
		if err := send(fact, i == 0 && truncated); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fact, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if err := send(fact, false); err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
