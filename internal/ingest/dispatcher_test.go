package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/codec"
	"github.com/linnet-im/linnet/internal/group"
	"github.com/linnet-im/linnet/internal/protocol"
	"github.com/linnet-im/linnet/internal/status"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

type pipelineCall struct {
	op       string
	msg      *codec.Message
	chatType int
	msgOp    *protocol.MessageOperation
}

type stubPipeline struct {
	calls []pipelineCall
}

func (p *stubPipeline) Ingest(_ context.Context, msg *codec.Message, chatType int) {
	p.calls = append(p.calls, pipelineCall{op: "ingest", msg: msg, chatType: chatType})
}

func (p *stubPipeline) Recall(op *protocol.MessageOperation) {
	p.calls = append(p.calls, pipelineCall{op: "recall", msgOp: op})
}

func (p *stubPipeline) Edit(op *protocol.MessageOperation) {
	p.calls = append(p.calls, pipelineCall{op: "edit", msgOp: op})
}

func newDispatcher(t *testing.T) (*Dispatcher, *stubPipeline, *group.Registry, *status.Machine, *bus.Bus) {
	t.Helper()
	logger := zap.NewNop()
	rec := &stubPipeline{}
	groups := group.NewRegistry(logger)
	b := bus.New()
	machine := status.NewMachine(b)
	for _, s := range []status.State{status.Connecting, status.Syncing, status.Ready} {
		if err := machine.Transition(s); err != nil {
			t.Fatal(err)
		}
	}
	return NewDispatcher(rec, groups, machine, b, logger), rec, groups, machine, b
}

func envelope(t *testing.T, code int, body any) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.Envelope{Code: code, Data: data}
}

func TestSingleMessageIngests(t *testing.T) {
	d, rec, _, _, _ := newDispatcher(t)

	d.Handle(envelope(t, protocol.OpSingleMessage, map[string]any{
		"chatId":             "c1",
		"fromId":             "alice",
		"messageId":          "m1",
		"messageContentType": int(codec.Text),
		"messageBody":        map[string]string{"content": "hi"},
		"messageTime":        100,
		"sequence":           1,
	}))

	if len(rec.calls) != 1 || rec.calls[0].op != "ingest" {
		t.Fatalf("calls = %+v", rec.calls)
	}
	call := rec.calls[0]
	if call.chatType != store.ChatSingle {
		t.Errorf("chat type = %d, want single", call.chatType)
	}
	body, ok := call.msg.Body.(codec.TextBody)
	if !ok || body.Content != "hi" {
		t.Errorf("body = %#v", call.msg.Body)
	}
}

func TestGroupMessageCarriesGroupChatType(t *testing.T) {
	d, rec, _, _, _ := newDispatcher(t)

	d.Handle(envelope(t, protocol.OpGroupMessage, map[string]any{
		"chatId":             "g1",
		"fromId":             "alice",
		"messageId":          "m1",
		"messageContentType": int(codec.Text),
		"messageBody":        map[string]string{"content": "hi all"},
		"sequence":           1,
	}))

	if rec.calls[0].chatType != store.ChatGroup {
		t.Errorf("chat type = %d, want group", rec.calls[0].chatType)
	}
}

// A group-operation message both mutates the member registry and lands in
// history as a notice.
func TestGroupOperationAppliesAndIngests(t *testing.T) {
	d, rec, groups, _, _ := newDispatcher(t)
	groups.SeedMembers("g1", []group.Member{
		{UserID: "alice", Role: group.RoleOwner},
		{UserID: "bob", Role: group.RoleMember},
	})

	d.Handle(envelope(t, protocol.OpGroupMessage, map[string]any{
		"chatId":             "g1",
		"fromId":             "alice",
		"messageId":          "m1",
		"messageContentType": int(codec.GroupOperation),
		"messageBody": map[string]any{
			"op":         group.OpKick,
			"groupId":    "g1",
			"operatorId": "alice",
			"targets":    []string{"bob"},
		},
		"sequence": 1,
	}))

	if _, ok := groups.Member("g1", "bob"); ok {
		t.Error("kicked member still present")
	}
	if len(rec.calls) != 1 || rec.calls[0].op != "ingest" {
		t.Errorf("calls = %+v", rec.calls)
	}
}

// A standalone GROUP_OPERATION envelope mutates the registry directly,
// without a carrier message.
func TestGroupOperationEnvelopeReachesRegistry(t *testing.T) {
	d, rec, groups, _, _ := newDispatcher(t)
	groups.SeedMembers("g1", []group.Member{
		{UserID: "alice", Role: group.RoleOwner},
		{UserID: "bob", Role: group.RoleMember},
	})

	d.Handle(envelope(t, protocol.OpGroupOperation, codec.GroupOpBody{
		Op:         group.OpKick,
		GroupID:    "g1",
		OperatorID: "alice",
		Targets:    []string{"bob"},
	}))

	if _, ok := groups.Member("g1", "bob"); ok {
		t.Error("kicked member still present")
	}
	if len(rec.calls) != 0 {
		t.Errorf("calls = %+v, want none (no carrier message to ingest)", rec.calls)
	}
}

// VIDEO_MESSAGE arrives under one opcode for both chat kinds; the payload's
// chatType decides which one.
func TestVideoMessageHonorsPayloadChatType(t *testing.T) {
	d, rec, _, _, _ := newDispatcher(t)

	d.Handle(envelope(t, protocol.OpVideoMessage, map[string]any{
		"chatId":             "g1",
		"chatType":           store.ChatGroup,
		"fromId":             "alice",
		"messageId":          "m1",
		"messageContentType": int(codec.Video),
		"messageBody":        map[string]any{"url": "v.mp4"},
		"sequence":           1,
	}))
	d.Handle(envelope(t, protocol.OpVideoMessage, map[string]any{
		"chatId":             "c1",
		"fromId":             "alice",
		"messageId":          "m2",
		"messageContentType": int(codec.Video),
		"messageBody":        map[string]any{"url": "v.mp4"},
		"sequence":           1,
	}))

	if rec.calls[0].chatType != store.ChatGroup {
		t.Errorf("group video chat type = %d, want group", rec.calls[0].chatType)
	}
	if rec.calls[1].chatType != store.ChatSingle {
		t.Errorf("bare video chat type = %d, want single default", rec.calls[1].chatType)
	}
}

func TestMessageOperationRoutesRecallAndEdit(t *testing.T) {
	d, rec, _, _, _ := newDispatcher(t)

	d.Handle(envelope(t, protocol.OpMessageOperation, protocol.MessageOperation{
		Type: "recall", ChatID: "c1", MsgID: "m1", OperatorID: "alice",
	}))
	d.Handle(envelope(t, protocol.OpMessageOperation, protocol.MessageOperation{
		Type: "edit", ChatID: "c1", MsgID: "m2", Content: "fixed",
	}))
	d.Handle(envelope(t, protocol.OpMessageOperation, protocol.MessageOperation{
		Type: "star", ChatID: "c1", MsgID: "m3",
	}))

	if len(rec.calls) != 2 {
		t.Fatalf("calls = %+v (unknown operation must be dropped)", rec.calls)
	}
	if rec.calls[0].op != "recall" || rec.calls[0].msgOp.MsgID != "m1" {
		t.Errorf("first call = %+v", rec.calls[0])
	}
	if rec.calls[1].op != "edit" || rec.calls[1].msgOp.Content != "fixed" {
		t.Errorf("second call = %+v", rec.calls[1])
	}
}

func TestForceLogoutDropsToAuthRequired(t *testing.T) {
	d, _, _, machine, b := newDispatcher(t)
	ch, unsub := b.Subscribe("session.force_logout", 10)
	defer unsub()

	d.Handle(protocol.Envelope{Code: protocol.OpForceLogout})

	if machine.Current() != status.AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED", machine.Current())
	}
	select {
	case evt := <-ch:
		if evt.Kind != "session.force_logout" {
			t.Errorf("kind = %q", evt.Kind)
		}
	default:
		t.Error("force logout event not published")
	}
}

func TestUndecodableBodyStillLands(t *testing.T) {
	d, rec, _, _, _ := newDispatcher(t)

	d.Handle(envelope(t, protocol.OpSingleMessage, map[string]any{
		"chatId":             "c1",
		"fromId":             "alice",
		"messageId":          "m1",
		"messageContentType": int(codec.Text),
		"messageBody":        `"not json at all`,
		"sequence":           1,
	}))

	if len(rec.calls) != 1 {
		t.Fatalf("calls = %+v (message must land with placeholder body)", rec.calls)
	}
	if _, ok := rec.calls[0].msg.Body.(codec.UnknownBody); !ok {
		t.Errorf("body = %#v, want UnknownBody", rec.calls[0].msg.Body)
	}
}

func TestUnknownOpcodeIgnored(t *testing.T) {
	d, rec, _, machine, _ := newDispatcher(t)

	d.Handle(protocol.Envelope{Code: 9999})

	if len(rec.calls) != 0 {
		t.Errorf("calls = %+v, want none", rec.calls)
	}
	if machine.Current() != status.Ready {
		t.Errorf("state = %s, want READY unchanged", machine.Current())
	}
}
