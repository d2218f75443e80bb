// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// A Session is an authenticated RPC session
type Session struct {
	ID      string
	UID     int64
	Login   string
	Lang    string
	expires time.Time
}

// A SessionStore holds the sessions of a server in memory
type SessionStore struct {
	sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionStore returns an empty SessionStore whose sessions expire after
// ttl without activity.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// New creates a session for the given user
func (ss *SessionStore) New(uid int64, login, lang string) *Session {
	ss.Lock()
	defer ss.Unlock()
	sess := &Session{
		ID:      uuid.NewString(),
		UID:     uid,
		Login:   login,
		Lang:    lang,
		expires: ss.now().Add(ss.ttl),
	}
	ss.sessions[sess.ID] = sess
	ss.purge()
	return sess
}

// Get returns the session with the given id and extends its lifetime.
func (ss *SessionStore) Get(id string) (*Session, error) {
	ss.Lock()
	defer ss.Unlock()
	sess, ok := ss.sessions[id]
	if !ok || ss.now().After(sess.expires) {
		delete(ss.sessions, id)
		return nil, exceptions.AccessDenied("session_expired", "Session expired or invalid")
	}
	sess.expires = ss.now().Add(ss.ttl)
	return sess, nil
}

// Delete removes the session with the given id
func (ss *SessionStore) Delete(id string) {
	ss.Lock()
	defer ss.Unlock()
	delete(ss.sessions, id)
}

// purge removes expired sessions. ss must be locked.
func (ss *SessionStore) purge() {
	now := ss.now()
	for id, sess := range ss.sessions {
		if now.After(sess.expires) {
			delete(ss.sessions, id)
		}
	}
}

// sessionMiddleware authenticates the request from its bearer token
func (s *Server) sessionMiddleware(c *Context) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer"))
	if token == "" {
		c.RPCError(exceptions.AccessDenied("no_session", "Missing session token"))
		return
	}
	sess, err := s.sessions.Get(token)
	if err != nil {
		c.RPCError(err)
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}
