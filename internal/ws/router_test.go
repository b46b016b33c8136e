package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casalink/support-chat/internal/auth"
	"github.com/casalink/support-chat/internal/call"
	"github.com/casalink/support-chat/internal/chat"
	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/internal/presence"
	"github.com/casalink/support-chat/internal/store"
	"github.com/casalink/support-chat/pkg/logger"
)

const testOrigin = "http://localhost:3000"

// localNotifier delivers straight into the hub, standing in for the
// cross-node event bus.
type localNotifier struct {
	hub *Hub
}

func (n *localNotifier) NotifyUsers(_ context.Context, userIDs []string, event model.Event) {
	for _, id := range userIDs {
		n.hub.DeliverUser(id, event)
	}
}

func (n *localNotifier) NotifyAdmins(_ context.Context, event model.Event) {
	n.hub.DeliverAdmins(event)
}

type testServer struct {
	srv         *httptest.Server
	verifier    *auth.JWTVerifier
	coordinator *chat.Coordinator
	registry    *presence.Registry
	hub         *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	verifier := auth.NewJWTVerifier("test-secret")
	hub := NewHub()
	notifier := &localNotifier{hub: hub}
	registry := presence.NewRegistry()
	coordinator := chat.NewCoordinator(store.NewMemory(), notifier, 10*time.Second, log)
	relay := call.NewRelay(registry, notifier, log)
	router := NewRouter(context.Background(), verifier, registry, coordinator, relay, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", router.Handler(hub, []string{testOrigin}, 64))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, verifier: verifier, coordinator: coordinator, registry: registry, hub: hub}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.srv.URL, "http://", "ws://", 1) + "/ws"
	header := http.Header{}
	header.Set("Origin", testOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) authenticate(t *testing.T, conn *websocket.Conn, userID, name, role string) {
	t.Helper()
	token, err := ts.verifier.Sign(userID, name, role, time.Minute)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	send(t, conn, model.EventAuthenticate, token)

	ack := waitFor(t, conn, model.EventAuthenticated)
	var p model.AuthenticatedPayload
	json.Unmarshal(ack.Data, &p)
	if !p.Success || p.UserID != userID {
		t.Fatalf("Authentication failed: %+v", p)
	}
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	if err := conn.WriteJSON(model.NewEvent(name, data)); err != nil {
		t.Fatalf("Failed to send %s: %v", name, err)
	}
}

// waitFor reads frames until one matches name, skipping unrelated broadcasts.
func waitFor(t *testing.T, conn *websocket.Conn, name string) model.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var event model.Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("Did not receive %s: %v", name, err)
		}
		if event.Name == name {
			return event
		}
	}
}

func TestPreAuthEventRejected(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, model.EventSendMessage, model.SendMessagePayload{ChatID: "x", Message: "hi"})

	event := waitFor(t, conn, model.EventError)
	var p model.ErrorPayload
	json.Unmarshal(event.Data, &p)
	if p.Code != "unauthenticated" {
		t.Errorf("Expected unauthenticated error, got %+v", p)
	}
}

func TestAuthenticateInvalidToken(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	send(t, conn, model.EventAuthenticate, "not-a-jwt")

	ack := waitFor(t, conn, model.EventAuthenticated)
	var p model.AuthenticatedPayload
	json.Unmarshal(ack.Data, &p)
	if p.Success || p.Error != "invalid token" {
		t.Errorf("Expected invalid token failure, got %+v", p)
	}
	if ts.registry.IsOnline("anyone") {
		t.Error("Failed authentication must not register presence")
	}
}

func TestAuthenticateObjectPayload(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	token, _ := ts.verifier.Sign("u1", "Ana", "", time.Minute)
	send(t, conn, model.EventAuthenticate, model.AuthPayload{Token: token})

	ack := waitFor(t, conn, model.EventAuthenticated)
	var p model.AuthenticatedPayload
	json.Unmarshal(ack.Data, &p)
	if !p.Success || p.UserID != "u1" {
		t.Errorf("Expected success for object-shaped payload, got %+v", p)
	}
}

func TestAuthenticateRegistersPresence(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)
	ts.authenticate(t, conn, "u1", "Ana", "")

	if !ts.registry.IsOnline("u1") {
		t.Error("Authenticated user should be online")
	}

	send(t, conn, model.EventGetOnlineUsers, nil)
	event := waitFor(t, conn, model.EventOnlineUsers)
	var p model.OnlineUsersPayload
	json.Unmarshal(event.Data, &p)
	if len(p.Users) != 1 || p.Users[0] != "u1" {
		t.Errorf("Expected [u1] online, got %v", p.Users)
	}
}

func TestCheckUserOnline(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t)
	ts.authenticate(t, a, "u1", "Ana", "")
	b := ts.dial(t)
	ts.authenticate(t, b, "u2", "Bo", "")

	send(t, a, model.EventCheckUserOnline, model.UserRefPayload{UserID: "u2"})
	waitFor(t, a, model.EventUserOnline)

	send(t, a, model.EventCheckUserOnline, model.UserRefPayload{UserID: "ghost"})
	waitFor(t, a, model.EventUserOffline)
}

func TestMessageRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	buyerConn := ts.dial(t)
	ts.authenticate(t, buyerConn, "buyer-1", "Ana", "")
	adminConn := ts.dial(t)
	ts.authenticate(t, adminConn, "admin-1", "Support", auth.RoleAdmin)

	conv, err := ts.coordinator.StartOrGet(context.Background(), auth.Identity{UserID: "buyer-1", Name: "Ana"})
	if err != nil {
		t.Fatalf("StartOrGet failed: %v", err)
	}

	send(t, buyerConn, model.EventSendMessage, model.SendMessagePayload{ChatID: conv.ID, Message: "hello"})

	// The sender's own connection renders from the same fan-out.
	event := waitFor(t, buyerConn, model.EventNewMessage)
	var msg model.Message
	json.Unmarshal(event.Data, &msg)
	if msg.Body != "hello" || msg.SenderID != "buyer-1" || msg.ConversationID != conv.ID {
		t.Errorf("Unexpected message: %+v", msg)
	}

	// Admin consoles get the conversation-list refresh.
	waitFor(t, adminConn, model.EventChatUpdated)
}

func TestCallSignalingRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t)
	ts.authenticate(t, alice, "alice", "Alice", "")
	bob := ts.dial(t)
	ts.authenticate(t, bob, "bob", "Bob", "")

	send(t, alice, model.EventCallUser, model.CallUserPayload{
		UserToCall: "bob",
		SignalData: json.RawMessage(`{"sdp":"offer"}`),
		CallType:   model.CallVideo,
	})

	incoming := waitFor(t, bob, model.EventIncomingCall)
	var offer model.IncomingCallPayload
	json.Unmarshal(incoming.Data, &offer)
	if offer.From != "alice" || offer.Name != "Alice" || offer.CallID == "" {
		t.Fatalf("Unexpected incoming call: %+v", offer)
	}
	if string(offer.Signal) != `{"sdp":"offer"}` {
		t.Errorf("Offer should be relayed verbatim, got %s", offer.Signal)
	}

	send(t, bob, model.EventAcceptCall, model.AcceptCallPayload{
		To:     "alice",
		Signal: json.RawMessage(`{"sdp":"answer"}`),
		CallID: offer.CallID,
	})

	accepted := waitFor(t, alice, model.EventCallAccepted)
	var answer model.CallAcceptedPayload
	json.Unmarshal(accepted.Data, &answer)
	if answer.From != "bob" || string(answer.Signal) != `{"sdp":"answer"}` {
		t.Errorf("Unexpected answer: %+v", answer)
	}

	send(t, bob, model.EventIceCandidate, model.IceCandidatePayload{
		To:        "alice",
		Candidate: json.RawMessage(`{"candidate":"c1"}`),
	})
	candidate := waitFor(t, alice, model.EventIceCandidate)
	var ice model.IceCandidatePayload
	json.Unmarshal(candidate.Data, &ice)
	if ice.From != "bob" || string(ice.Candidate) != `{"candidate":"c1"}` {
		t.Errorf("Unexpected candidate: %+v", ice)
	}

	send(t, alice, model.EventEndCall, model.CallPeerPayload{To: "bob"})
	waitFor(t, bob, model.EventCallEnded)
}

func TestCallOfflinePeer(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t)
	ts.authenticate(t, alice, "alice", "Alice", "")

	send(t, alice, model.EventCallUser, model.CallUserPayload{
		UserToCall: "ghost",
		SignalData: json.RawMessage(`{}`),
		CallType:   model.CallAudio,
	})

	event := waitFor(t, alice, model.EventError)
	var p model.ErrorPayload
	json.Unmarshal(event.Data, &p)
	if p.Code != "peer_offline" {
		t.Errorf("Expected peer_offline, got %+v", p)
	}
}

func TestForbiddenOriginRejected(t *testing.T) {
	ts := newTestServer(t)

	url := strings.Replace(ts.srv.URL, "http://", "ws://", 1) + "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")

	_, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Error("Connection from a forbidden origin should fail")
	}
}

func TestMalformedFrame(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	event := waitFor(t, conn, model.EventError)
	var p model.ErrorPayload
	json.Unmarshal(event.Data, &p)
	if p.Code != "bad_frame" {
		t.Errorf("Expected bad_frame, got %+v", p)
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)
	ts.authenticate(t, conn, "u1", "Ana", "")

	clients := ts.hub.snapshotUser("u1")
	if len(clients) != 1 {
		t.Fatalf("Expected 1 client for u1, got %d", len(clients))
	}
	c := clients[0]

	// A deliverer that snapshotted the client before it disconnected may
	// still call Send afterwards; that must be a silent drop.
	c.close()
	c.Send(model.NewEvent(model.EventUserOnline, model.UserRefPayload{UserID: "u2"}))
	c.close()

	if ts.hub.remove(c) {
		t.Error("Client should already be removed from the hub")
	}
	if ts.registry.IsOnline("u1") {
		t.Error("Presence should be cleared after close")
	}
}

func TestDeliveryDuringAuthentication(t *testing.T) {
	ts := newTestServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			ts.hub.DeliverAll(model.NewEvent(model.EventUserOnline,
				model.UserRefPayload{UserID: "x"}))
			ts.hub.DeliverAdmins(model.NewEvent(model.EventChatUpdated,
				model.ChatUpdatedPayload{ChatID: "x"}))
		}
	}()

	for i := 0; i < 4; i++ {
		conn := ts.dial(t)
		ts.authenticate(t, conn, fmt.Sprintf("u%d", i), "Ana", "")
	}
	<-done
}

func TestDisconnectClearsPresence(t *testing.T) {
	ts := newTestServer(t)

	conn := ts.dial(t)
	ts.authenticate(t, conn, "u1", "Ana", "")
	second := ts.dial(t)
	ts.authenticate(t, second, "u1", "Ana", "")

	conn.Close()
	waitForOffline := func(want bool) bool {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if ts.registry.IsOnline("u1") == want {
				return true
			}
			time.Sleep(10 * time.Millisecond)
		}
		return false
	}

	// Another tab is still open.
	if !waitForOffline(true) {
		t.Fatal("User should stay online while a second tab is open")
	}

	second.Close()
	if !waitForOffline(false) {
		t.Error("User should go offline after the last tab closes")
	}
}
