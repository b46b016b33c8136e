package presence

import (
	"reflect"
	"testing"
)

type recordingWatcher struct {
	online  []string
	offline []string
}

func (w *recordingWatcher) UserOnline(userID string)  { w.online = append(w.online, userID) }
func (w *recordingWatcher) UserOffline(userID string) { w.offline = append(w.offline, userID) }

func TestRegisterFirstConnectionFiresOnline(t *testing.T) {
	w := &recordingWatcher{}
	r := NewRegistry()
	r.SetWatcher(w)

	r.Register("u1", "c1")

	if !r.IsOnline("u1") {
		t.Error("u1 should be online after first register")
	}
	if len(w.online) != 1 || w.online[0] != "u1" {
		t.Errorf("Expected one online event for u1, got %v", w.online)
	}
}

func TestSecondTabDoesNotRefireOnline(t *testing.T) {
	w := &recordingWatcher{}
	r := NewRegistry()
	r.SetWatcher(w)

	r.Register("u1", "c1")
	r.Register("u1", "c2")

	if len(w.online) != 1 {
		t.Errorf("Expected exactly one online event, got %d", len(w.online))
	}
	if got := len(r.ConnectionsFor("u1")); got != 2 {
		t.Errorf("Expected 2 connections for u1, got %d", got)
	}
}

func TestRegisterSamePairIdempotent(t *testing.T) {
	w := &recordingWatcher{}
	r := NewRegistry()
	r.SetWatcher(w)

	r.Register("u1", "c1")
	r.Register("u1", "c1")

	if len(w.online) != 1 {
		t.Errorf("Expected one online event for duplicate register, got %d", len(w.online))
	}
	if got := len(r.ConnectionsFor("u1")); got != 1 {
		t.Errorf("Expected 1 connection for u1, got %d", got)
	}
}

func TestOfflineOnlyOnLastConnection(t *testing.T) {
	w := &recordingWatcher{}
	r := NewRegistry()
	r.SetWatcher(w)

	r.Register("u1", "c1")
	r.Register("u1", "c2")

	r.Unregister("u1", "c1")
	if !r.IsOnline("u1") {
		t.Error("u1 should still be online with one tab left")
	}
	if len(w.offline) != 0 {
		t.Errorf("Expected no offline event yet, got %v", w.offline)
	}

	r.Unregister("u1", "c2")
	if r.IsOnline("u1") {
		t.Error("u1 should be offline after last connection closed")
	}
	if len(w.offline) != 1 || w.offline[0] != "u1" {
		t.Errorf("Expected one offline event for u1, got %v", w.offline)
	}
}

func TestUnregisterUnknownPairIsNoop(t *testing.T) {
	w := &recordingWatcher{}
	r := NewRegistry()
	r.SetWatcher(w)

	r.Unregister("ghost", "c1")

	r.Register("u1", "c1")
	r.Unregister("u1", "c1")
	// Double-disconnect race: second unregister must not fire a second edge.
	r.Unregister("u1", "c1")

	if len(w.offline) != 1 {
		t.Errorf("Expected one offline event, got %d", len(w.offline))
	}
}

func TestOnlineUsersSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("charlie", "c1")
	r.Register("alice", "c2")
	r.Register("bob", "c3")

	got := r.OnlineUsers()
	want := []string{"alice", "bob", "charlie"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
