package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"presenced/models"
	"presenced/protocol"
)

// Dispatcher delivers encoded frames to connections by id. Implementations
// must never block the caller: a slow peer is the dispatcher's problem, not
// the coordinator's.
type Dispatcher interface {
	Send(connID string, frame []byte)
	Broadcast(connIDs []string, frame []byte)
	Remove(connID string)
}

// EventSink receives every system event for out-of-process observers. May be
// nil when no sink is configured.
type EventSink interface {
	Publish(ev models.SystemEvent)
}

// CoordinatorConfig carries the timing knobs the state machine needs.
type CoordinatorConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
}

// Coordinator is the single writer over the registry and room table. Every
// inbound frame and every transport close funnels through it, so two
// concurrent joins to the same room are applied one after the other and
// neither is lost.
type Coordinator struct {
	cfg        CoordinatorConfig
	registry   *Registry
	rooms      *RoomTable
	feed       *EventFeed
	dispatcher Dispatcher
	sink       EventSink

	// mu serializes all state transitions (single logical writer). Reads for
	// REST snapshots go straight to the registry/room table, which copy on
	// read.
	mu  sync.Mutex
	log *logrus.Entry
}

func NewCoordinator(cfg CoordinatorConfig, registry *Registry, rooms *RoomTable, feed *EventFeed, dispatcher Dispatcher, sink EventSink) *Coordinator {
	if registry == nil || rooms == nil || feed == nil || dispatcher == nil {
		panic("coordinator requires registry, rooms, feed and dispatcher")
	}
	return &Coordinator{
		cfg:        cfg,
		registry:   registry,
		rooms:      rooms,
		feed:       feed,
		dispatcher: dispatcher,
		sink:       sink,
		log:        logrus.WithField("component", "coordinator"),
	}
}

// Connect registers a new pending connection and returns its id.
func (c *Coordinator) Connect() string {
	id := c.registry.Register(time.Now())
	c.log.WithField("conn_id", id).Info("connection registered")
	return id
}

// HandleFrame decodes and applies one inbound frame. A non-nil return means
// the frame was a protocol violation and the connection must be closed;
// state errors (wrong lifecycle phase) are logged and swallowed so the
// connection stays up.
func (c *Coordinator) HandleFrame(connID string, data []byte) error {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			c.log.WithField("conn_id", connID).WithError(err).Warn("ignoring unknown message type")
			return nil
		}
		c.log.WithField("conn_id", connID).WithError(err).Warn("protocol violation, closing connection")
		return err
	}

	switch in.Type {
	case protocol.TypeJoin:
		c.join(connID, in.Join)
	case protocol.TypeLeave:
		c.leave(connID)
	case protocol.TypePing:
		c.ping(connID)
	case protocol.TypeOnlineUsers:
		c.sendOnlineUsers(connID)
	case protocol.TypeRoomPresence:
		c.sendRoomPresence(connID, in.RoomPresence.RoomID)
	}
	return nil
}

// join applies the JOIN transition: enter the room, bind identity (leaving a
// previous room afterwards on a switch), then fan out the ack, the join
// event, the room snapshot and the global user list, in that order for the
// joiner.
func (c *Coordinator) join(connID string, p *protocol.JoinPayload) {
	now := time.Now()
	logCtx := c.log.WithFields(logrus.Fields{
		"conn_id":  connID,
		"username": p.Username,
		"room_id":  p.RoomID,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.registry.Get(connID)
	if !ok {
		logCtx.Debug("join for evicted connection, ignoring")
		return
	}
	// Take the room seat before binding identity: a JOIN refused by the
	// room cap must leave no trace, not a bound-but-roomless user.
	if _, err := c.rooms.Join(p.RoomID, p.Username); err != nil {
		logCtx.WithError(err).Warn("join refused")
		return
	}
	if err := c.registry.Bind(connID, p.Username); err != nil {
		if !c.registry.HasJoined(p.Username, p.RoomID, connID) {
			c.rooms.Leave(p.RoomID, p.Username)
		}
		logCtx.WithError(err).Warn("join rejected, connection already bound to another user")
		return
	}
	if err := c.registry.SetRoom(connID, p.RoomID, now); err != nil {
		// Evicted between Get and SetRoom; undo the membership we just took.
		if !c.registry.HasJoined(p.Username, p.RoomID, connID) {
			c.rooms.Leave(p.RoomID, p.Username)
		}
		return
	}

	// Room switch: release the old seat before announcing the new one.
	if conn.State == StateJoined && conn.RoomID != "" && conn.RoomID != p.RoomID {
		c.departRoomLocked(connID, p.Username, conn.RoomID, now)
	}

	if ack, err := protocol.EncodeAt(protocol.TypeJoin, p, now); err == nil {
		c.dispatcher.Send(connID, ack)
	}

	ev := c.feed.Add(fmt.Sprintf("%s joined %s", p.Username, p.RoomID), models.EventJoin, p.RoomID, now)
	c.emit(ev)

	recipients := c.registry.ConnsInRoom(p.RoomID)
	c.broadcastSystem(recipients, ev)
	c.broadcastRoomPresence(recipients, p.RoomID, now)
	c.broadcastOnlineUsersLocked(now)

	logCtx.Info("user joined room")
}

// leave applies the LEAVE transition. Identity stays bound so an immediate
// re-join skips the bind step; only the room seat is released.
func (c *Coordinator) leave(connID string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.registry.Get(connID)
	if !ok {
		return
	}
	if conn.State != StateJoined {
		c.log.WithField("conn_id", connID).Warn("leave before join, dropping")
		return
	}
	if err := c.registry.ClearRoom(connID); err != nil {
		return
	}
	c.departRoomLocked(connID, conn.Username, conn.RoomID, now)
	c.broadcastOnlineUsersLocked(now)

	c.log.WithFields(logrus.Fields{
		"conn_id":  connID,
		"username": conn.Username,
		"room_id":  conn.RoomID,
	}).Info("user left room")
}

// ping refreshes the heartbeat. Pure liveness: no broadcast.
func (c *Coordinator) ping(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.registry.Get(connID)
	if !ok {
		return
	}
	if conn.State != StateJoined {
		c.log.WithField("conn_id", connID).Warn("ping before join, dropping")
		return
	}
	_ = c.registry.Touch(connID, time.Now())
}

// sendOnlineUsers unicasts the global presence snapshot to the requester.
func (c *Coordinator) sendOnlineUsers(connID string) {
	users, total := c.OnlineUsers()
	frame, err := protocol.Encode(protocol.TypeOnlineUsers, protocol.OnlineUsersPayload{Users: users, TotalCount: total})
	if err != nil {
		return
	}
	c.dispatcher.Send(connID, frame)
}

// sendRoomPresence unicasts one room's snapshot to the requester. A room
// with no members yields an empty list, not an error.
func (c *Coordinator) sendRoomPresence(connID, roomID string) {
	users := c.RoomPresence(roomID)
	frame, err := protocol.Encode(protocol.TypeRoomPresence, protocol.RoomPresencePayload{RoomID: roomID, Users: users})
	if err != nil {
		return
	}
	c.dispatcher.Send(connID, frame)
}

// Disconnect tears a connection down: transport close and heartbeat timeout
// both land here. A joined connection gets the full implicit-leave treatment
// so the room and the feed stay consistent. Safe to call twice.
func (c *Coordinator) Disconnect(connID string) {
	now := time.Now()
	c.mu.Lock()
	username, roomID, wasJoined, err := c.registry.Evict(connID)
	if err == nil && wasJoined {
		c.departRoomLocked(connID, username, roomID, now)
		c.broadcastOnlineUsersLocked(now)
	}
	c.mu.Unlock()

	c.dispatcher.Remove(connID)
	if err == nil {
		c.log.WithFields(logrus.Fields{
			"conn_id":  connID,
			"username": username,
		}).Info("connection closed")
	}
}

// Run drives the heartbeat sweep until ctx is cancelled. Stale ids are
// collected under a brief registry read lock, then each one is evicted
// through the normal disconnect path so leave events and broadcasts fire.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stale := c.registry.Sweep(time.Now(), c.cfg.HeartbeatTimeout)
			for _, id := range stale {
				c.log.WithField("conn_id", id).Warn("heartbeat timeout, evicting")
				c.Disconnect(id)
			}
		case <-ctx.Done():
			c.log.Info("sweep loop stopped")
			return
		}
	}
}

// Shutdown drops every connection without emitting broadcasts; the process
// is going away and there is nobody left to tell.
func (c *Coordinator) Shutdown() {
	for _, id := range c.registry.AllConns() {
		_, _, _, _ = c.registry.Evict(id)
		c.dispatcher.Remove(id)
	}
}

// departRoomLocked releases connID's claim on roomID (the registry record
// must already point elsewhere) and notifies the remaining members. While
// another connection with the same identity still occupies the room the
// member list is unchanged, so nothing is removed and nothing is announced.
func (c *Coordinator) departRoomLocked(connID, username, roomID string, now time.Time) {
	if c.registry.HasJoined(username, roomID, connID) {
		return
	}
	c.rooms.Leave(roomID, username)
	ev := c.feed.Add(fmt.Sprintf("%s left %s", username, roomID), models.EventLeave, roomID, now)
	c.emit(ev)

	recipients := c.registry.ConnsInRoom(roomID)
	if len(recipients) == 0 {
		return
	}
	c.broadcastSystem(recipients, ev)
	c.broadcastRoomPresence(recipients, roomID, now)
}

func (c *Coordinator) broadcastSystem(recipients []string, ev models.SystemEvent) {
	if len(recipients) == 0 {
		return
	}
	frame, err := protocol.EncodeAt(protocol.TypeSystem, protocol.SystemPayload{
		Message:   ev.Message,
		EventType: ev.EventType,
		RoomID:    ev.RoomID,
	}, ev.Timestamp)
	if err != nil {
		return
	}
	c.dispatcher.Broadcast(recipients, frame)
}

func (c *Coordinator) broadcastRoomPresence(recipients []string, roomID string, now time.Time) {
	if len(recipients) == 0 {
		return
	}
	frame, err := protocol.EncodeAt(protocol.TypeRoomPresence, protocol.RoomPresencePayload{
		RoomID: roomID,
		Users:  c.RoomPresence(roomID),
	}, now)
	if err != nil {
		return
	}
	c.dispatcher.Broadcast(recipients, frame)
}

func (c *Coordinator) broadcastOnlineUsersLocked(now time.Time) {
	users, total := c.OnlineUsers()
	frame, err := protocol.EncodeAt(protocol.TypeOnlineUsers, protocol.OnlineUsersPayload{Users: users, TotalCount: total}, now)
	if err != nil {
		return
	}
	c.dispatcher.Broadcast(c.registry.AllConns(), frame)
}

func (c *Coordinator) emit(ev models.SystemEvent) {
	if c.sink == nil {
		return
	}
	// The sink may do network I/O; never on the coordinator's time.
	go c.sink.Publish(ev)
}

// OnlineUsers builds the global presence snapshot. Multiple connections per
// username coalesce into one record; the most recently active connection
// decides the room and last-seen, and silence beyond twice the heartbeat
// interval reads as away.
func (c *Coordinator) OnlineUsers() ([]models.User, int) {
	now := time.Now()
	latest := make(map[string]Connection)
	for _, conn := range c.registry.Snapshot() {
		if conn.Username == "" {
			continue
		}
		if prev, ok := latest[conn.Username]; !ok || conn.LastSeen.After(prev.LastSeen) {
			latest[conn.Username] = conn
		}
	}

	users := make([]models.User, 0, len(latest))
	for _, conn := range latest {
		users = append(users, c.userRecord(conn, now))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, len(users)
}

// RoomPresence returns the member snapshot of one room in join order.
func (c *Coordinator) RoomPresence(roomID string) []models.User {
	members := c.rooms.Snapshot(roomID)
	if len(members) == 0 {
		return []models.User{}
	}
	byName := make(map[string]models.User)
	if users, _ := c.OnlineUsers(); users != nil {
		for _, u := range users {
			byName[u.Username] = u
		}
	}
	out := make([]models.User, 0, len(members))
	for _, name := range members {
		if u, ok := byName[name]; ok {
			out = append(out, u)
		}
	}
	return out
}

// Rooms lists every live room with its member count.
func (c *Coordinator) Rooms() []models.RoomSummary {
	return c.rooms.List()
}

// RoomDetails expands every live room into the full DTO, members included.
func (c *Coordinator) RoomDetails() []models.Room {
	summaries := c.rooms.List()
	out := make([]models.Room, 0, len(summaries))
	for _, s := range summaries {
		users := c.RoomPresence(s.ID)
		out = append(out, models.Room{
			ID:        s.ID,
			Name:      s.ID,
			UserCount: len(users),
			Users:     users,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns the recent system-event feed, newest first.
func (c *Coordinator) Events() []models.SystemEvent {
	return c.feed.Recent()
}

// Stats reports live connection and room counts.
func (c *Coordinator) Stats() (connections, rooms int) {
	return c.registry.Count(), c.rooms.Count()
}

func (c *Coordinator) userRecord(conn Connection, now time.Time) models.User {
	status := models.StatusOnline
	if c.cfg.HeartbeatInterval > 0 && now.Sub(conn.LastSeen) > 2*c.cfg.HeartbeatInterval {
		status = models.StatusAway
	}
	var roomID *string
	if conn.RoomID != "" {
		r := conn.RoomID
		roomID = &r
	}
	return models.User{
		ID:       conn.ID,
		Username: conn.Username,
		Status:   status,
		RoomID:   roomID,
		LastSeen: conn.LastSeen,
	}
}
