package server

import (
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/messaging"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/protocol"
	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
)

const writeTimeout = 5 * time.Second

// userConn is one user's control connection from the routing layer.
type userConn struct {
	user     model.User
	conn     net.Conn
	remote   string
	maxFrame int

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *userConn) write(msg *pb.ControlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return protocol.WriteControlMessageMax(c.conn, msg, c.maxFrame)
}

// SendPluginMessage implements messaging.Conn.
func (c *userConn) SendPluginMessage(channel string, data []byte) error {
	return c.write(&pb.ControlMessage{
		PluginMessage: &pb.PluginMessage{Channel: channel, Data: data},
	})
}

func (c *userConn) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// connTable maps users to their live connection. It is the messaging
// transport and the coordinator's presence view.
type connTable struct {
	maxFrame int

	mu     sync.RWMutex
	byUser map[model.UserID]*userConn
}

func newConnTable(maxFrame int) *connTable {
	return &connTable{
		maxFrame: maxFrame,
		byUser:   make(map[model.UserID]*userConn),
	}
}

// add registers c and returns the connection it replaced, if any.
func (t *connTable) add(c *userConn) *userConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.byUser[c.user.ID]
	t.byUser[c.user.ID] = c
	return prev
}

// remove unregisters c if it is still the user's current connection.
func (t *connTable) remove(c *userConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byUser[c.user.ID] != c {
		return false
	}
	delete(t.byUser, c.user.ID)
	return true
}

// Conn implements messaging.Transport.
func (t *connTable) Conn(id model.UserID) (messaging.Conn, bool) {
	t.mu.RLock()
	c, ok := t.byUser[id]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c, true
}

// Online implements coordinator.Presence.
func (t *connTable) Online(id model.UserID) (model.User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byUser[id]
	if !ok {
		return model.User{}, false
	}
	return c.user, true
}

// ByName finds an online user by display name, ignoring case.
func (t *connTable) ByName(name string) (model.User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.byUser {
		if strings.EqualFold(c.user.Username, name) {
			return c.user, true
		}
	}
	return model.User{}, false
}

// Users returns online users whose name starts with prefix (case-insensitive),
// sorted by name, at most limit of them (limit <= 0 means all).
func (t *connTable) Users(prefix string, limit int) []model.User {
	prefix = strings.ToLower(prefix)
	t.mu.RLock()
	out := make([]model.User, 0, len(t.byUser))
	for _, c := range t.byUser {
		if strings.HasPrefix(strings.ToLower(c.user.Username), prefix) {
			out = append(out, c.user)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the number of connected users.
func (t *connTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}

// closeAll sends msg (if non-nil) to every connection and closes it.
func (t *connTable) closeAll(msg *pb.ControlMessage) {
	t.mu.RLock()
	conns := make([]*userConn, 0, len(t.byUser))
	for _, c := range t.byUser {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		if msg != nil {
			_ = c.write(msg)
		}
		c.close()
	}
}
