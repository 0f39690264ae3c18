package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/protocol"
	"github.com/linnet-im/linnet/internal/status"
	"go.uber.org/zap"
)

type chanSink struct {
	envs chan protocol.Envelope
}

func (s *chanSink) PushEnvelope(env protocol.Envelope) <-chan struct{} {
	s.envs <- env
	resolved := make(chan struct{})
	close(resolved)
	return resolved
}

func TestConnectRegisterAndReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	registered := make(chan registerPayload, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		// First frame must be the register envelope.
		var env struct {
			Code int             `json:"code"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Errorf("read register: %v", err)
			return
		}
		if env.Code != protocol.OpRegister {
			t.Errorf("first code = %d, want register", env.Code)
		}
		var reg registerPayload
		_ = json.Unmarshal(env.Data, &reg)
		registered <- reg

		// Push one message down.
		_ = conn.WriteJSON(map[string]any{
			"code": protocol.OpSingleMessage,
			"data": map[string]any{"chatId": "c1"},
		})

		// Hold the connection until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sink := &chanSink{envs: make(chan protocol.Envelope, 10)}
	machine := status.NewMachine(bus.New())
	c := NewClient(Options{URL: url, UserID: "me", HeartbeatInterval: time.Hour}, sink, machine, zap.NewNop())
	c.Start(context.Background())
	defer c.Stop()

	select {
	case reg := <-registered:
		if reg.UserID != "me" {
			t.Errorf("register user = %q, want me", reg.UserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never registered")
	}

	select {
	case env := <-sink.envs:
		if env.Code != protocol.OpSingleMessage {
			t.Errorf("envelope code = %d, want single message", env.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("envelope never reached the sink")
	}

	if got := machine.Current(); got != status.Syncing {
		t.Errorf("state = %s, want SYNCING after register", got)
	}
}

func TestDialFailureEntersReconnecting(t *testing.T) {
	machine := status.NewMachine(bus.New())
	sink := &chanSink{envs: make(chan protocol.Envelope, 1)}
	c := NewClient(Options{
		URL:          "ws://127.0.0.1:1", // nothing listens here
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}, sink, machine, zap.NewNop())
	c.Start(context.Background())
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for machine.Current() != status.Reconnecting {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want RECONNECTING", machine.Current())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
