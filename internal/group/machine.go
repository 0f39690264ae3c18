package group

import (
	"sync"

	"go.uber.org/zap"
)

// Role of a group member.
type Role int

const (
	RoleMember Role = iota
	RoleAdmin
	RoleOwner
)

// Group operation codes. The server may introduce new ones; unknown codes
// are logged and ignored.
const (
	OpJoin = iota + 1
	OpLeave
	OpKick
	OpPromote
	OpDemote
	OpTransferOwner
	OpMuteMember
	OpUnmuteMember
	OpMuteAll
	OpUnmuteAll
	OpSetRole
	OpSetInfo
	OpSetAnnouncement
	OpSetJoinMode
	OpDismiss
)

// Member is one entry in a group's member map.
type Member struct {
	UserID      string
	Name        string
	Avatar      string
	Role        Role
	Muted       bool
	MuteEndTime int64
	Alias       string
}

// Info is a group's metadata.
type Info struct {
	GroupID      string
	Name         string
	Avatar       string
	Announcement string
	JoinMode     int
	AllMuted     bool
	Dismissed    bool
}

// Event is one group-operation delta.
type Event struct {
	GroupID      string
	Op           int
	OperatorID   string
	Targets      []string
	Role         Role
	Name         string
	Avatar       string
	Announcement string
	JoinMode     int
	MuteEndTime  int64
}

type state struct {
	info    Info
	members map[string]*Member
}

// Registry owns every group's member map and info. Consumers get copies
// through the read-only accessors, never the maps themselves.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*state
	logger *zap.Logger
}

type handler func(*state, Event)

// Delivery is at-least-once and may be reordered, so every handler must be
// idempotent and must not depend on another operation having been applied
// first. TransferOwner is the one compound case and runs atomically inside
// a single handler.
var handlers = map[int]handler{
	OpJoin:            applyJoin,
	OpLeave:           applyRemove,
	OpKick:            applyRemove,
	OpPromote:         applyPromote,
	OpDemote:          applyDemote,
	OpTransferOwner:   applyTransferOwner,
	OpMuteMember:      applyMuteMember,
	OpUnmuteMember:    applyUnmuteMember,
	OpMuteAll:         applyMuteAll,
	OpUnmuteAll:       applyUnmuteAll,
	OpSetRole:         applySetRole,
	OpSetInfo:         applySetInfo,
	OpSetAnnouncement: applySetAnnouncement,
	OpSetJoinMode:     applySetJoinMode,
	OpDismiss:         applyDismiss,
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		groups: make(map[string]*state),
		logger: logger,
	}
}

// Apply dispatches one event to its handler under the registry lock.
func (r *Registry) Apply(evt Event) {
	h, ok := handlers[evt.Op]
	if !ok {
		if r.logger != nil {
			r.logger.Warn("unknown group operation ignored",
				zap.Int("op", evt.Op),
				zap.String("group_id", evt.GroupID))
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h(r.get(evt.GroupID), evt)
}

// get returns the group state, creating it lazily.
func (r *Registry) get(groupID string) *state {
	s, ok := r.groups[groupID]
	if !ok {
		s = &state{
			info:    Info{GroupID: groupID},
			members: make(map[string]*Member),
		}
		r.groups[groupID] = s
	}
	return s
}

// SeedMembers installs an initial member list (first fetch of a group).
func (r *Registry) SeedMembers(groupID string, members []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(groupID)
	for i := range members {
		m := members[i]
		s.members[m.UserID] = &m
	}
}

// Member returns a copy of one member entry.
func (r *Registry) Member(groupID, userID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.groups[groupID]
	if !ok {
		return Member{}, false
	}
	m, ok := s.members[userID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns copies of all member entries.
func (r *Registry) Members(groupID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m)
	}
	return out
}

// InfoOf returns a copy of the group's metadata.
func (r *Registry) InfoOf(groupID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.groups[groupID]
	if !ok {
		return Info{}, false
	}
	return s.info, true
}

func applyJoin(s *state, evt Event) {
	for _, id := range evt.Targets {
		if _, ok := s.members[id]; ok {
			continue
		}
		s.members[id] = &Member{UserID: id, Role: RoleMember}
	}
}

// applyRemove covers both leave and kick; removing an absent member is a
// no-op, not an error.
func applyRemove(s *state, evt Event) {
	for _, id := range evt.Targets {
		delete(s.members, id)
	}
}

func applyPromote(s *state, evt Event) {
	for _, id := range evt.Targets {
		if m, ok := s.members[id]; ok && m.Role != RoleOwner {
			m.Role = RoleAdmin
		}
	}
}

func applyDemote(s *state, evt Event) {
	for _, id := range evt.Targets {
		if m, ok := s.members[id]; ok && m.Role != RoleOwner {
			m.Role = RoleMember
		}
	}
}

// applyTransferOwner demotes the previous owner and promotes the target in
// one step; a half-applied transfer (two owners, or none) is never
// observable.
func applyTransferOwner(s *state, evt Event) {
	if len(evt.Targets) == 0 {
		return
	}
	target, ok := s.members[evt.Targets[0]]
	if !ok {
		return
	}
	for _, m := range s.members {
		if m.Role == RoleOwner {
			m.Role = RoleMember
		}
	}
	target.Role = RoleOwner
}

func applyMuteMember(s *state, evt Event) {
	for _, id := range evt.Targets {
		if m, ok := s.members[id]; ok {
			m.Muted = true
			m.MuteEndTime = evt.MuteEndTime
		}
	}
}

func applyUnmuteMember(s *state, evt Event) {
	for _, id := range evt.Targets {
		if m, ok := s.members[id]; ok {
			m.Muted = false
			m.MuteEndTime = 0
		}
	}
}

func applyMuteAll(s *state, _ Event) {
	s.info.AllMuted = true
}

func applyUnmuteAll(s *state, _ Event) {
	s.info.AllMuted = false
}

func applySetRole(s *state, evt Event) {
	for _, id := range evt.Targets {
		if m, ok := s.members[id]; ok && m.Role != RoleOwner {
			m.Role = evt.Role
		}
	}
}

func applySetInfo(s *state, evt Event) {
	if evt.Name != "" {
		s.info.Name = evt.Name
	}
	if evt.Avatar != "" {
		s.info.Avatar = evt.Avatar
	}
}

func applySetAnnouncement(s *state, evt Event) {
	s.info.Announcement = evt.Announcement
}

func applySetJoinMode(s *state, evt Event) {
	s.info.JoinMode = evt.JoinMode
}

func applyDismiss(s *state, _ Event) {
	s.info.Dismissed = true
	s.members = make(map[string]*Member)
}
