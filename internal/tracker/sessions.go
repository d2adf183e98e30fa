package tracker

import (
	"context"
	"sync"
	"time"
)

type sessionEntry struct {
	tracker  *Tracker
	lastSeen time.Time
}

// Sessions 按会话 ID 复用 Tracker，使每个会话的点击计数和当前用户跨请求保留。
// 超过 idle 未访问的会话会被清理。
type Sessions struct {
	root *Tracker
	idle time.Duration

	mu        sync.Mutex
	byID      map[string]*sessionEntry
	lastSweep time.Time
}

// NewSessions 以 root 的依赖创建会话表，idle 为 0 时使用会话存储的 TTL
func NewSessions(root *Tracker, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = root.ttl
	}
	return &Sessions{root: root, idle: idle, byID: make(map[string]*sessionEntry)}
}

// Get 返回会话对应的 Tracker，不存在时创建；sessionID 为空时分配新 ID。
// userID 非空且与当前用户不同时重新绑定用户。
func (s *Sessions) Get(ctx context.Context, sessionID, userID string) *Tracker {
	now := s.root.now()

	s.mu.Lock()
	s.sweep(now)
	entry, ok := s.byID[sessionID]
	if !ok || sessionID == "" {
		t := s.root.ForSession(sessionID)
		entry = &sessionEntry{tracker: t}
		s.byID[t.SessionID()] = entry
	}
	entry.lastSeen = now
	s.mu.Unlock()

	t := entry.tracker
	if userID != "" && t.UserID() != userID {
		t.SetUserID(ctx, userID)
	}
	return t
}

// Len 当前保留的会话数
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// sweep 每分钟最多清理一次，调用方需持有锁
func (s *Sessions) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for id, e := range s.byID {
		if now.Sub(e.lastSeen) > s.idle {
			delete(s.byID, id)
		}
	}
}
