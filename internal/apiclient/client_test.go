package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestGetChatDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("toId"); got != "u2" {
			t.Errorf("toId = %q", got)
		}
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"chatId":"c1","toId":"u2","name":"Alice"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	chat, err := c.GetChat(context.Background(), "me", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if chat.ChatID != "c1" || chat.Name != "Alice" {
		t.Errorf("chat = %+v", chat)
	}
}

func TestServerErrorCodeSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":4001,"msg":"recall window expired"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	err := c.RecallMessage(context.Background(), "c1", "m1")
	if err == nil {
		t.Fatal("expected error for non-zero server code")
	}
}

func TestSafeGetChatFallsBackToNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	if chat := c.SafeGetChat(context.Background(), "me", "u2"); chat != nil {
		t.Errorf("chat = %+v, want nil fallback", chat)
	}
}

func TestSafeReturnsValueOnSuccess(t *testing.T) {
	got := Safe(zap.NewNop(), "op", -1, func() (int, error) { return 7, nil })
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}
