package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"cinema-chat/internal/models"
	"cinema-chat/internal/observability"
	"cinema-chat/internal/worker"
)

// Handle is one live client connection.
type Handle interface {
	ID() string
	Send(event string, payload any) error
}

// FriendSource yields the accepted friends that are told about presence changes.
type FriendSource interface {
	AcceptedFriendIDs(ctx context.Context, userID int) ([]int, error)
}

// Mirror publishes online/offline transitions outside the process.
type Mirror interface {
	SetOnline(ctx context.Context, userID int) error
	SetOffline(ctx context.Context, userID int, lastSeen time.Time) error
}

// Stats is a snapshot of registry occupancy.
type Stats struct {
	TotalConnections   int         `json:"total_connections"`
	UniqueUsers        int         `json:"unique_users"`
	OnlineUsers        int         `json:"online_users"`
	ConnectionsPerUser map[int]int `json:"connections_per_user"`
}

// Registry tracks which users have live connections. State is in memory only.
type Registry struct {
	mu     sync.RWMutex
	conns  map[int]map[string]Handle
	owners map[string]int

	// Transitions are numbered under mu. Broadcast tasks for one user run under
	// that user's lane lock and drop themselves once a newer transition exists.
	seq    uint64
	latest map[int]uint64
	lanes  map[int]*sync.Mutex

	friends FriendSource
	exec    *worker.Executor
	mirror  Mirror
	now     func() time.Time
}

// NewRegistry creates an empty registry. mirror may be nil.
func NewRegistry(friends FriendSource, exec *worker.Executor, mirror Mirror) *Registry {
	return &Registry{
		conns:   make(map[int]map[string]Handle),
		owners:  make(map[string]int),
		latest:  make(map[int]uint64),
		lanes:   make(map[int]*sync.Mutex),
		friends: friends,
		exec:    exec,
		mirror:  mirror,
		now:     time.Now,
	}
}

// Register adds a handle for userID. It reports whether the user just came online.
func (r *Registry) Register(userID int, h Handle) bool {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]Handle)
		r.conns[userID] = set
	}
	set[h.ID()] = h
	r.owners[h.ID()] = userID
	online := len(r.conns)
	var seq uint64
	if !ok {
		seq = r.nextTransitionLocked(userID)
	}
	r.mu.Unlock()

	observability.SetOnlineUsers(online)
	if ok {
		return false
	}
	log.Printf("presence online user_id=%d conn_id=%s", userID, h.ID())
	r.broadcastPresence(userID, true, seq)
	return true
}

// Unregister removes a handle. It reports whether its owner went offline.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	userID, ok := r.owners[h.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.owners, h.ID())
	set := r.conns[userID]
	delete(set, h.ID())
	offline := len(set) == 0
	var seq uint64
	if offline {
		delete(r.conns, userID)
		seq = r.nextTransitionLocked(userID)
	}
	online := len(r.conns)
	r.mu.Unlock()

	observability.SetOnlineUsers(online)
	if !offline {
		return false
	}
	log.Printf("presence offline user_id=%d conn_id=%s", userID, h.ID())
	r.broadcastPresence(userID, false, seq)
	return true
}

func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// OnlineSubsetOf returns the ids from userIDs that are online, in input order without duplicates.
func (r *Registry) OnlineSubsetOf(userIDs []int) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	online := make([]int, 0, len(userIDs))
	seen := make(map[int]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.conns[id]; ok {
			online = append(online, id)
		}
	}
	return online
}

// SendToUser delivers an event to every handle of userID and returns how many
// handles accepted it. Failing handles are logged and skipped.
func (r *Registry) SendToUser(userID int, event string, payload any) int {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.conns[userID]))
	for _, h := range r.conns[userID] {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, h := range handles {
		if err := h.Send(event, payload); err != nil {
			log.Printf("presence send failed user_id=%d conn_id=%s event=%s: %v", userID, h.ID(), event, err)
			continue
		}
		delivered++
	}
	return delivered
}

// OnlineUserIDs lists every online user in ascending order.
func (r *Registry) OnlineUserIDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perUser := make(map[int]int, len(r.conns))
	for userID, set := range r.conns {
		perUser[userID] = len(set)
	}
	return Stats{
		TotalConnections:   len(r.owners),
		UniqueUsers:        len(r.conns),
		OnlineUsers:        len(r.conns),
		ConnectionsPerUser: perUser,
	}
}

func (r *Registry) nextTransitionLocked(userID int) uint64 {
	r.seq++
	r.latest[userID] = r.seq
	if _, ok := r.lanes[userID]; !ok {
		r.lanes[userID] = &sync.Mutex{}
	}
	return r.seq
}

// superseded reports whether a transition newer than seq was recorded for userID.
func (r *Registry) superseded(userID int, seq uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest[userID] != seq
}

func (r *Registry) lane(userID int) *sync.Mutex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lanes[userID]
}

func (r *Registry) broadcastPresence(userID int, online bool, seq uint64) {
	at := r.now()
	task := func(ctx context.Context) {
		lane := r.lane(userID)
		lane.Lock()
		defer lane.Unlock()
		if r.superseded(userID, seq) {
			return
		}

		r.syncMirror(ctx, userID, online, at)
		if r.friends == nil {
			return
		}
		friendIDs, err := r.friends.AcceptedFriendIDs(ctx, userID)
		if err != nil {
			log.Printf("presence friends lookup failed user_id=%d: %v", userID, err)
			return
		}
		payload := models.OnlineStatusEvent{UserID: userID, IsOnline: online}
		for _, friendID := range friendIDs {
			if !r.IsOnline(friendID) {
				continue
			}
			r.SendToUser(friendID, models.EventUserOnlineStatus, payload)
		}
	}

	if r.exec == nil {
		task(context.Background())
		return
	}
	r.exec.Go("presence_broadcast", task)
}

func (r *Registry) syncMirror(ctx context.Context, userID int, online bool, at time.Time) {
	if r.mirror == nil {
		return
	}
	var err error
	if online {
		err = r.mirror.SetOnline(ctx, userID)
	} else {
		err = r.mirror.SetOffline(ctx, userID, at)
	}
	if err != nil {
		log.Printf("presence mirror failed user_id=%d online=%t: %v", userID, online, err)
	}
}
