package ingest

import (
	"context"
	"encoding/json"

	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/codec"
	"github.com/linnet-im/linnet/internal/group"
	"github.com/linnet-im/linnet/internal/protocol"
	"github.com/linnet-im/linnet/internal/status"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// Pipeline is the reconciler surface the dispatcher drives.
type Pipeline interface {
	Ingest(ctx context.Context, msg *codec.Message, chatType int)
	Recall(op *protocol.MessageOperation)
	Edit(op *protocol.MessageOperation)
}

// Dispatcher consumes drained envelopes and routes each opcode to its
// domain handler. It is the queue's single consumer.
type Dispatcher struct {
	rec     Pipeline
	groups  *group.Registry
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(rec Pipeline, groups *group.Registry, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		rec:     rec,
		groups:  groups,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// Handle processes one envelope. Unknown opcodes are logged and dropped;
// the server may introduce codes this build does not know.
func (d *Dispatcher) Handle(env protocol.Envelope) {
	switch env.Code {
	case protocol.OpSingleMessage:
		d.handleMessage(env.Data, store.ChatSingle)
	case protocol.OpGroupMessage:
		d.handleMessage(env.Data, store.ChatGroup)
	case protocol.OpVideoMessage:
		d.handleMessage(env.Data, store.ChatSingle)
	case protocol.OpGroupOperation:
		d.handleGroupOperation(env.Data)
	case protocol.OpMessageOperation:
		d.handleOperation(env.Data)
	case protocol.OpForceLogout:
		d.logger.Warn("forced logout received")
		if err := d.machine.Transition(status.AuthRequired); err != nil {
			d.logger.Warn("force logout transition rejected", zap.Error(err))
		}
		d.emit("session.force_logout", env.Data)
	case protocol.OpLoginExpired:
		d.logger.Warn("login expired")
		if err := d.machine.Transition(status.AuthRequired); err != nil {
			d.logger.Warn("login expired transition rejected", zap.Error(err))
		}
		d.emit("session.login_expired", env.Data)
	case protocol.OpRefreshToken:
		d.emit("session.refresh_token", env.Data)
	case protocol.OpRegisterSuccess:
		d.logger.Info("socket registered")
		d.emit("session.registered", nil)
	case protocol.OpRegisterFailed:
		d.logger.Warn("socket register failed")
		d.emit("session.register_failed", env.Data)
	case protocol.OpHeartBeatSuccess:
		d.logger.Debug("heartbeat acknowledged")
	case protocol.OpHeartBeatFailed:
		d.logger.Warn("heartbeat rejected")
	default:
		d.logger.Warn("unknown opcode ignored", zap.Int("code", env.Code))
	}
}

func (d *Dispatcher) handleMessage(data json.RawMessage, chatType int) {
	var wm protocol.WireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		d.logger.Warn("malformed message envelope dropped", zap.Error(err))
		return
	}
	// A payload-carried chat type wins over the opcode default; video
	// messages arrive under one opcode for both chat kinds.
	if wm.ChatType != 0 {
		chatType = wm.ChatType
	}

	msg, err := codec.Normalize(&wm)
	if err != nil {
		// The message still lands, with a placeholder body.
		d.logger.Warn("message body undecodable",
			zap.Error(err),
			zap.String("chat_id", wm.ChatID),
			zap.Int("content_type", wm.ContentType))
	}

	if body, ok := msg.Body.(codec.GroupOpBody); ok {
		d.applyGroupOp(body)
	}

	d.rec.Ingest(context.Background(), msg, chatType)
}

// handleGroupOperation applies a standalone GROUP_OPERATION envelope. Unlike
// the in-message notice, it mutates the registry without landing in history.
func (d *Dispatcher) handleGroupOperation(data json.RawMessage) {
	var body codec.GroupOpBody
	if err := json.Unmarshal(data, &body); err != nil {
		d.logger.Warn("malformed group operation dropped", zap.Error(err))
		return
	}
	d.applyGroupOp(body)
}

func (d *Dispatcher) applyGroupOp(body codec.GroupOpBody) {
	d.groups.Apply(group.Event{
		GroupID:      body.GroupID,
		Op:           body.Op,
		OperatorID:   body.OperatorID,
		Targets:      body.Targets,
		Role:         group.Role(body.Role),
		Name:         body.Name,
		Avatar:       body.Avatar,
		Announcement: body.Announcement,
		JoinMode:     body.JoinMode,
		MuteEndTime:  body.MuteEndTime,
	})
}

func (d *Dispatcher) handleOperation(data json.RawMessage) {
	var op protocol.MessageOperation
	if err := json.Unmarshal(data, &op); err != nil {
		d.logger.Warn("malformed message operation dropped", zap.Error(err))
		return
	}
	switch op.Type {
	case "recall":
		d.rec.Recall(&op)
	case "edit":
		d.rec.Edit(&op)
	default:
		d.logger.Warn("unknown message operation ignored", zap.String("type", op.Type))
	}
}

func (d *Dispatcher) emit(kind string, payload any) {
	if d.bus != nil {
		d.bus.Emit(kind, payload)
	}
}
