package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnet-im/linnet/internal/apiclient"
	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/chat"
	"github.com/linnet-im/linnet/internal/codec"
	"github.com/linnet-im/linnet/internal/draft"
	"github.com/linnet-im/linnet/internal/group"
	"github.com/linnet-im/linnet/internal/idle"
	"github.com/linnet-im/linnet/internal/ingest"
	"github.com/linnet-im/linnet/internal/notify"
	"github.com/linnet-im/linnet/internal/protocol"
	"github.com/linnet-im/linnet/internal/queue"
	"github.com/linnet-im/linnet/internal/socket"
	"github.com/linnet-im/linnet/internal/status"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// TestPipelineEndToEnd wires the full inbound path by hand: a websocket
// server pushes envelopes, the queue drains them into the dispatcher, the
// reconciler materializes the chat through the HTTP API, and a forced logout
// drops the session to AUTH_REQUIRED.
func TestPipelineEndToEnd(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat" {
			_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"chatId":"c1","toId":"alice","name":"Alice","chatType":1}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}))
	defer apiSrv.Close()

	upgrader := websocket.Upgrader{}
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		if _, _, err := conn.ReadMessage(); err != nil { // register frame
			return
		}
		_ = conn.WriteJSON(map[string]any{"code": protocol.OpRegisterSuccess})
		_ = conn.WriteJSON(map[string]any{
			"code": protocol.OpSingleMessage,
			"data": map[string]any{
				"chatId":             "c1",
				"fromId":             "alice",
				"messageId":          "m1",
				"messageContentType": int(codec.Text),
				"messageBody":        map[string]string{"content": "hello there"},
				"messageTime":        100,
				"sequence":           1,
			},
		})
		_ = conn.WriteJSON(map[string]any{"code": protocol.OpForceLogout})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer wsSrv.Close()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	exec := idle.New(idle.Options{}, logger)
	exec.Start(context.Background())
	defer exec.Stop()

	api := apiclient.New(apiSrv.URL, logger)
	drafts := draft.NewManager(db, time.Hour, logger)
	rec := chat.NewReconciler("me", db, api, exec, drafts, notify.New(b, logger), b, chat.Options{}, logger)
	groups := group.NewRegistry(logger)
	dispatcher := ingest.NewDispatcher(rec, groups, machine, b, logger)

	q := queue.New(queue.Options{}, dispatcher.Handle, logger)
	q.Start(context.Background())
	defer q.Stop()

	sock := socket.NewClient(socket.Options{
		URL:    "ws" + strings.TrimPrefix(wsSrv.URL, "http"),
		UserID: "me",
	}, q, machine, logger)
	sock.Start(context.Background())
	defer sock.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		chats := rec.Chats()
		if len(chats) == 1 && chats[0].Unread == 1 && chats[0].Sequence == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("chat never reconciled: %+v", chats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for machine.Current() != status.AuthRequired {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want AUTH_REQUIRED after forced logout", machine.Current())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The durable mirror catches up in idle slots.
	for {
		msg, err := db.MessageByID("c1", "m1")
		if err != nil {
			t.Fatal(err)
		}
		if msg != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
