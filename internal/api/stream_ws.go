package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-backlog/internal/eventbus"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("stream bus"))
		return
	}
	workspace, code, err := s.Auth.scope(r)
	if err != nil {
		writeError(w, code, err)
		return
	}

	streamList := splitComma(r.URL.Query().Get("streams"))
	if len(streamList) == 0 {
		streamList = eventbus.Streams
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, s.Bus, streamList, workspace, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

// streamEvents writes matching events until ctx ends. An empty workspace
// matches every workspace.
func streamEvents(ctx context.Context, bus *eventbus.Bus, streamList []string, workspace string, writer wsWriter) error {
	sub := bus.Subscribe(ctx, streamList)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			if workspace != "" && evt.WorkspaceID != workspace {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}
