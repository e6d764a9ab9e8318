package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/protocol"
	"github.com/eldtechnologies/boardsync/internal/session"
)

type enqueued struct {
	boardID  string
	snapshot string
	preview  *string
	cleared  bool
}

type recordingPersister struct {
	writes []enqueued
}

func (p *recordingPersister) Enqueue(boardID string, snapshot json.RawMessage, preview *string) {
	p.writes = append(p.writes, enqueued{boardID: boardID, snapshot: string(snapshot), preview: preview})
}

func (p *recordingPersister) EnqueueClear(boardID string, snapshot json.RawMessage) {
	p.writes = append(p.writes, enqueued{boardID: boardID, snapshot: string(snapshot), cleared: true})
}

func newTestHub(p Persister) *Hub {
	return NewHub(Options{}, nil, p, zerolog.Nop())
}

func addClient(h *Hub, id string) *Client {
	c := &Client{id: id, hub: h, send: make(chan []byte, 64)}
	h.clients[id] = c
	return c
}

func send(t *testing.T, h *Hub, c *Client, typ string, payload interface{}, seed ...json.RawMessage) {
	t.Helper()
	in := inbound{client: c, env: protocol.Envelope{Type: typ}}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		in.env.Data = data
	}
	if len(seed) > 0 {
		in.seed = seed[0]
	}
	h.handle(in)
	h.reap()
}

// drain returns every queued frame for c without blocking.
func drain(t *testing.T, c *Client) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			env, err := protocol.Decode(frame)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []protocol.Envelope, typ string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func join(t *testing.T, h *Hub, c *Client, sessionID, name string) {
	t.Helper()
	send(t, h, c, protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: sessionID, DisplayName: name})
}

func TestScenario(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")

	join(t, h, a, "abc", "A")
	if got := h.registry.Count("abc"); got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}
	msgs := drain(t, a)
	joined := ofType(msgs, protocol.TypeRoomJoined)
	if len(joined) != 1 {
		t.Fatalf("expected room-joined, got %+v", msgs)
	}
	var ack protocol.RoomJoined
	json.Unmarshal(joined[0].Data, &ack)
	if string(ack.Snapshot) != string(session.EmptySnapshot) {
		t.Fatalf("expected empty snapshot, got %s", ack.Snapshot)
	}
	if ack.ConnectionID != "conn-a" {
		t.Fatalf("expected connection id in ack, got %q", ack.ConnectionID)
	}

	join(t, h, b, "abc", "B")
	if got := h.registry.Count("abc"); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	msgsB := drain(t, b)
	json.Unmarshal(ofType(msgsB, protocol.TypeRoomJoined)[0].Data, &ack)
	if string(ack.Snapshot) != string(session.EmptySnapshot) {
		t.Fatalf("B expected empty snapshot, got %s", ack.Snapshot)
	}
	msgsA := drain(t, a)
	lists := ofType(msgsA, protocol.TypeParticipantsList)
	if len(lists) != 1 || string(lists[0].Data) != `["A","B"]` {
		t.Fatalf("expected participantsList [A,B] for A, got %+v", lists)
	}
	counts := ofType(msgsA, protocol.TypeParticipantsCount)
	if len(counts) != 1 || string(counts[0].Data) != "2" {
		t.Fatalf("expected participantsCount 2 for A, got %+v", counts)
	}

	s1 := json.RawMessage(`{"objects":[{"type":"rect","left":10}]}`)
	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "abc", Snapshot: s1})
	states := ofType(drain(t, b), protocol.TypeCanvasStateFromServer)
	if len(states) != 1 {
		t.Fatalf("expected B to receive canvas-state-from-server, got %d", len(states))
	}
	var st protocol.CanvasStateFromServer
	json.Unmarshal(states[0].Data, &st)
	if string(st.Snapshot) != string(s1) {
		t.Fatalf("expected S1, got %s", st.Snapshot)
	}
	if len(drain(t, a)) != 0 {
		t.Fatal("sender must not receive its own snapshot")
	}

	send(t, h, b, protocol.TypeClear, protocol.SessionRef{SessionID: "abc"})
	if len(ofType(drain(t, a), protocol.TypeClear)) != 1 {
		t.Fatal("expected A to receive clear")
	}
	if len(ofType(drain(t, b), protocol.TypeClear)) != 1 {
		t.Fatal("expected B to receive its own clear")
	}

	c := addClient(h, "conn-c")
	join(t, h, c, "abc", "C")
	json.Unmarshal(ofType(drain(t, c), protocol.TypeRoomJoined)[0].Data, &ack)
	if string(ack.Snapshot) != string(session.EmptySnapshot) {
		t.Fatalf("C expected empty snapshot after clear, got %s", ack.Snapshot)
	}
	drain(t, a)
	drain(t, b)

	h.disconnect(a)
	if got := h.registry.Count("abc"); got != 2 {
		t.Fatalf("expected count 2 after A left, got %d", got)
	}
	left := ofType(drain(t, b), protocol.TypeUserLeft)
	if len(left) != 1 {
		t.Fatalf("expected exactly one userLeft, got %d", len(left))
	}
	var pr protocol.Presence
	json.Unmarshal(left[0].Data, &pr)
	if pr.UserName != "A" || pr.Message != "A left the room." || pr.Count != 2 {
		t.Fatalf("unexpected userLeft payload %+v", pr)
	}

	// A second disconnect of the same connection is a no-op.
	h.disconnect(a)
	if len(ofType(drain(t, b), protocol.TypeUserLeft)) != 0 {
		t.Fatal("leave must be announced exactly once")
	}
}

func TestJoinNotices(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "room", "Ann")
	drain(t, a)
	// Same display name, different connection.
	join(t, h, b, "room", "Ann")

	var pa, pb protocol.Presence
	json.Unmarshal(ofType(drain(t, a), protocol.TypeUserJoined)[0].Data, &pa)
	json.Unmarshal(ofType(drain(t, b), protocol.TypeUserJoined)[0].Data, &pb)

	if pa.Self || pa.Message != "Ann joined the room." {
		t.Errorf("existing member got %+v", pa)
	}
	if !pb.Self || pb.Message != "You have joined the room." {
		t.Errorf("joiner got %+v", pb)
	}
}

func TestJoinUsesSeedForNewSession(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	seed := json.RawMessage(`{"objects":[{"type":"circle"}]}`)
	send(t, h, a, protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: "saved", DisplayName: "A"}, seed)

	var ack protocol.RoomJoined
	json.Unmarshal(ofType(drain(t, a), protocol.TypeRoomJoined)[0].Data, &ack)
	if string(ack.Snapshot) != string(seed) {
		t.Fatalf("expected seeded snapshot, got %s", ack.Snapshot)
	}

	// A live session ignores later seeds.
	b := addClient(h, "conn-b")
	send(t, h, b, protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: "saved", DisplayName: "B"}, json.RawMessage(`{"objects":[]}`))
	json.Unmarshal(ofType(drain(t, b), protocol.TypeRoomJoined)[0].Data, &ack)
	if string(ack.Snapshot) != string(seed) {
		t.Fatalf("expected live snapshot, got %s", ack.Snapshot)
	}
}

func TestLastWriteWins(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "lww", "A")
	join(t, h, b, "lww", "B")

	s1 := json.RawMessage(`{"objects":[1]}`)
	s2 := json.RawMessage(`{"objects":[2]}`)
	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "lww", Snapshot: s1})
	send(t, h, b, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "lww", Snapshot: s2})

	late := addClient(h, "conn-late")
	join(t, h, late, "lww", "Late")
	var ack protocol.RoomJoined
	json.Unmarshal(ofType(drain(t, late), protocol.TypeRoomJoined)[0].Data, &ack)
	if string(ack.Snapshot) != string(s2) {
		t.Fatalf("expected S2, got %s", ack.Snapshot)
	}
}

func TestClientReadyRepushesSnapshot(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	join(t, h, a, "r", "A")
	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "r", Snapshot: json.RawMessage(`{"objects":[7]}`)})
	drain(t, a)

	send(t, h, a, protocol.TypeClientReady, protocol.SessionRef{SessionID: "r"})
	states := ofType(drain(t, a), protocol.TypeCanvasStateFromServer)
	if len(states) != 1 {
		t.Fatalf("expected one snapshot push, got %d", len(states))
	}
	var st protocol.CanvasStateFromServer
	json.Unmarshal(states[0].Data, &st)
	if string(st.Snapshot) != `{"objects":[7]}` {
		t.Fatalf("unexpected snapshot %s", st.Snapshot)
	}
}

func TestUndoRedoBroadcastToAll(t *testing.T) {
	p := &recordingPersister{}
	h := newTestHub(p)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "u", "A")
	join(t, h, b, "u", "B")

	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "u", Snapshot: json.RawMessage(`{"objects":[1]}`)})
	drain(t, a)
	drain(t, b)

	send(t, h, a, protocol.TypeUndo, protocol.SessionRef{SessionID: "u"})
	for _, c := range []*Client{a, b} {
		states := ofType(drain(t, c), protocol.TypeCanvasStateFromServer)
		if len(states) != 1 {
			t.Fatalf("%s expected undo broadcast, got %d", c.id, len(states))
		}
		var st protocol.CanvasStateFromServer
		json.Unmarshal(states[0].Data, &st)
		if string(st.Snapshot) != string(session.EmptySnapshot) {
			t.Fatalf("%s expected empty snapshot after undo, got %s", c.id, st.Snapshot)
		}
	}

	send(t, h, b, protocol.TypeRedo, protocol.SessionRef{SessionID: "u"})
	if len(ofType(drain(t, a), protocol.TypeCanvasStateFromServer)) != 1 {
		t.Fatal("expected redo broadcast")
	}
	drain(t, b)

	send(t, h, b, protocol.TypeRedo, protocol.SessionRef{SessionID: "u"})
	errs := ofType(drain(t, b), protocol.TypeError)
	if len(errs) != 1 {
		t.Fatal("expected error when nothing to redo")
	}

	last := p.writes[len(p.writes)-1]
	if last.snapshot != `{"objects":[1]}` {
		t.Fatalf("expected redo to be persisted, got %+v", last)
	}
}

func TestRejections(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, b, "other", "B")
	drain(t, b)

	cases := []struct {
		name    string
		typ     string
		payload interface{}
	}{
		{"not joined", protocol.TypeCanvasState, protocol.CanvasState{SessionID: "other", Snapshot: json.RawMessage(`{"objects":[]}`)}},
		{"bad session id", protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: "../etc", DisplayName: "x"}},
		{"missing data", protocol.TypeClear, nil},
		{"unknown type", "draw-line", map[string]string{"sessionId": "other"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, h, a, tc.typ, tc.payload)
			errs := ofType(drain(t, a), protocol.TypeError)
			if len(errs) != 1 {
				t.Fatalf("expected one error reply, got %d", len(errs))
			}
			var ep protocol.ErrorPayload
			json.Unmarshal(errs[0].Data, &ep)
			if ep.Ref != tc.typ {
				t.Errorf("expected ref %q, got %q", tc.typ, ep.Ref)
			}
		})
	}
	if len(drain(t, b)) != 0 {
		t.Fatal("rejected messages must not reach peers")
	}
}

func TestInvalidSnapshotRejected(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "v", "A")
	join(t, h, b, "v", "B")
	drain(t, a)
	drain(t, b)

	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "v", Snapshot: json.RawMessage(`{"objects":"nope"}`)})
	if len(ofType(drain(t, a), protocol.TypeError)) != 1 {
		t.Fatal("expected error reply")
	}
	if len(drain(t, b)) != 0 {
		t.Fatal("invalid snapshot must not be broadcast")
	}
	v, _ := h.registry.Get("v")
	if string(v.Snapshot) != string(session.EmptySnapshot) {
		t.Fatalf("invalid snapshot must not be applied, got %s", v.Snapshot)
	}
}

func TestPersistence(t *testing.T) {
	p := &recordingPersister{}
	h := newTestHub(p)
	a := addClient(h, "conn-a")
	join(t, h, a, "p", "A")

	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{
		SessionID:    "p",
		Snapshot:     json.RawMessage(`{"objects":[1]}`),
		PreviewImage: "data:image/png;base64,AA==",
	})
	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{
		SessionID:    "p",
		Snapshot:     json.RawMessage(`{"objects":[1,2]}`),
		PreviewImage: "javascript:alert(1)",
	})
	send(t, h, a, protocol.TypeClear, protocol.SessionRef{SessionID: "p"})
	send(t, h, a, protocol.TypeCanvasState, protocol.CanvasState{SessionID: "p", Snapshot: json.RawMessage(`{"objects":[3]}`)})
	h.disconnect(a)

	if len(p.writes) != 5 {
		t.Fatalf("expected 5 writes, got %d: %+v", len(p.writes), p.writes)
	}
	if p.writes[0].preview == nil || *p.writes[0].preview != "data:image/png;base64,AA==" {
		t.Errorf("expected preview on first write, got %v", p.writes[0].preview)
	}
	if p.writes[1].preview != nil {
		t.Errorf("expected invalid preview dropped, got %v", *p.writes[1].preview)
	}
	if !p.writes[2].cleared {
		t.Errorf("expected clear write, got %+v", p.writes[2])
	}
	final := p.writes[4]
	if final.snapshot != `{"objects":[3]}` {
		t.Errorf("expected final snapshot on eviction, got %+v", final)
	}
	if h.registry.Len() != 0 {
		t.Errorf("expected session evicted, got %d live", h.registry.Len())
	}
}

func TestMoveBetweenSessions(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "one", "A")
	join(t, h, b, "one", "B")
	drain(t, b)

	join(t, h, a, "two", "A")
	left := ofType(drain(t, b), protocol.TypeUserLeft)
	if len(left) != 1 {
		t.Fatalf("expected B to see A leave, got %d", len(left))
	}
	if h.registry.Count("one") != 1 || h.registry.Count("two") != 1 {
		t.Fatalf("unexpected counts one=%d two=%d", h.registry.Count("one"), h.registry.Count("two"))
	}
}

func TestLeaveRoom(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "l", "A")
	join(t, h, b, "l", "B")
	drain(t, b)

	send(t, h, a, protocol.TypeLeaveRoom, protocol.LeaveRoom{SessionID: "l"})
	msgs := drain(t, b)
	if len(ofType(msgs, protocol.TypeUserLeft)) != 1 {
		t.Fatal("expected userLeft")
	}
	if c := ofType(msgs, protocol.TypeParticipantsCount); len(c) != 1 || string(c[0].Data) != "1" {
		t.Fatalf("expected participantsCount 1, got %+v", c)
	}

	// The connection stays open and is no longer bound to a session.
	h.disconnect(a)
	if len(ofType(drain(t, b), protocol.TypeUserLeft)) != 0 {
		t.Fatal("disconnect after leave-room must not announce again")
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	slow := &Client{id: "conn-slow", hub: h, send: make(chan []byte, 1)}
	h.clients[slow.id] = slow
	join(t, h, a, "s", "A")
	join(t, h, slow, "s", "Slow")

	if _, ok := h.clients[slow.id]; ok {
		t.Fatal("expected slow consumer to be dropped")
	}
	if h.registry.Count("s") != 1 {
		t.Fatalf("expected slow consumer removed from roster, got %d", h.registry.Count("s"))
	}
}

func TestCountMatchesRoster(t *testing.T) {
	h := newTestHub(nil)
	var clients []*Client
	for i := 0; i < 20; i++ {
		clients = append(clients, addClient(h, fmt.Sprintf("conn-%02d", i)))
	}
	for i, c := range clients {
		join(t, h, c, "count", c.id)
		if i%3 == 2 {
			h.disconnect(clients[i-1])
		}
		if got, want := h.registry.Count("count"), len(h.registry.Roster("count")); got != want {
			t.Fatalf("count %d != roster %d", got, want)
		}
	}
}

func TestStatsAndOverview(t *testing.T) {
	h := newTestHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := &Client{id: "conn-a", hub: h, send: make(chan []byte, 64)}
	h.register <- c
	data, _ := json.Marshal(protocol.JoinRoom{SessionID: "live", DisplayName: "A"})
	h.inbound <- inbound{client: c, env: protocol.Envelope{Type: protocol.TypeJoinRoom, Data: data}}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := h.Stats(ctx, "live")
		if err != nil {
			t.Fatal(err)
		}
		if st.Live {
			if st.ParticipantsCount != 1 || st.Participants[0].Name != "A" {
				t.Fatalf("unexpected stats %+v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never became live")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ov, err := h.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Sessions != 1 || ov.Participants != 1 || ov.Connections != 1 {
		t.Fatalf("unexpected overview %+v", ov)
	}

	st, err := h.Stats(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if st.Live || st.ParticipantsCount != 0 {
		t.Fatalf("expected idle session, got %+v", st)
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	if _, err := h.Overview(context.Background()); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}

func inboundFrame(t *testing.T, c *Client, typ string, payload interface{}) inbound {
	t.Helper()
	in := inbound{client: c, env: protocol.Envelope{Type: typ}}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		in.env.Data = data
	}
	return in
}

// A connection's close is queued behind its frames, so an edit received
// before the socket dropped is applied and broadcast before the leave.
func TestCloseAfterQueuedFrames(t *testing.T) {
	for run := 0; run < 20; run++ {
		h := newTestHub(nil)
		ctx, cancel := context.WithCancel(context.Background())
		go h.Run(ctx)

		a := &Client{id: "conn-a", hub: h, send: make(chan []byte, 512)}
		b := &Client{id: "conn-b", hub: h, send: make(chan []byte, 512)}
		h.register <- a
		h.register <- b
		h.inbound <- inboundFrame(t, a, protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: "abc", DisplayName: "A"})
		h.inbound <- inboundFrame(t, b, protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: "abc", DisplayName: "B"})
		for i := 0; i < 100; i++ {
			h.inbound <- inboundFrame(t, b, protocol.TypePing, nil)
		}
		h.inbound <- inboundFrame(t, a, protocol.TypeCanvasState, protocol.CanvasState{
			SessionID: "abc",
			Snapshot:  json.RawMessage(`{"objects":[1]}`),
		})
		h.inbound <- inbound{client: a, closed: true}

		var order []string
		timeout := time.After(2 * time.Second)
	read:
		for {
			select {
			case frame := <-b.send:
				env, err := protocol.Decode(frame)
				if err != nil {
					t.Fatal(err)
				}
				switch env.Type {
				case protocol.TypeCanvasStateFromServer:
					var st protocol.CanvasStateFromServer
					json.Unmarshal(env.Data, &st)
					if string(st.Snapshot) != `{"objects":[1]}` {
						t.Fatalf("unexpected snapshot %s", st.Snapshot)
					}
					order = append(order, env.Type)
				case protocol.TypeUserLeft:
					order = append(order, env.Type)
					break read
				}
			case <-timeout:
				t.Fatalf("run %d: timed out, saw %v", run, order)
			}
		}
		cancel()

		if len(order) != 2 || order[0] != protocol.TypeCanvasStateFromServer {
			t.Fatalf("run %d: expected edit before userLeft, got %v", run, order)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newTestHub(nil)
	a := addClient(h, "conn-a")
	b := addClient(h, "conn-b")
	join(t, h, a, "abc", "A")
	join(t, h, b, "abc", "B")
	drain(t, b)

	// Dropped as a slow consumer, then the read loop reports the close.
	h.disconnect(a)
	h.handle(inbound{client: a, closed: true})
	if n := len(ofType(drain(t, b), protocol.TypeUserLeft)); n != 1 {
		t.Fatalf("expected exactly one userLeft, got %d", n)
	}
}
