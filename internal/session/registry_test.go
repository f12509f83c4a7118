package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/castlebay/liveroom/internal/msgcat"
	"github.com/castlebay/liveroom/internal/rules"
)

func TestCreateAssignsWhiteAndCode(t *testing.T) {
	reg := newTestRegistry(t, nil)
	wp := &fakePeer{}

	created, err := reg.Create(context.Background(), "alice", "", "3+2", wp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Color != White {
		t.Fatalf("creator color = %s, want white", created.Color)
	}
	if len(created.Code) != 6 || created.Code != strings.ToUpper(created.Code) {
		t.Fatalf("code = %q, want 6 upper alnum", created.Code)
	}
	if created.Identity == "" {
		t.Fatalf("creator got no identity token")
	}
	if created.Session.Status() != StatusWaiting {
		t.Fatalf("status = %s, want waiting", created.Session.Status())
	}
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	reg := newTestRegistry(t, nil)
	created, err := reg.Create(context.Background(), "alice", "", "none", &fakePeer{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	lower := strings.ToLower(created.Code)
	joined, err := reg.Join("  "+lower+" ", "", "bob", "", &fakePeer{})
	if err != nil {
		t.Fatalf("Join with %q: %v", lower, err)
	}
	if joined.Color != Black {
		t.Fatalf("joiner color = %s, want black", joined.Color)
	}
	if created.Session.Status() != StatusActive {
		t.Fatalf("status = %s after second seat, want active", created.Session.Status())
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	reg := newTestRegistry(t, nil)
	if _, err := reg.Join("ZZZZZZ", "", "bob", "", &fakePeer{}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestJoinFullRoom(t *testing.T) {
	reg := newTestRegistry(t, nil)
	s, _, _, _, _ := mustRoom(t, reg)
	if _, err := reg.Join(s.Code(), "", "carol", "", &fakePeer{}); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}
}

func mustRoom(t *testing.T, reg *Registry) (s *Session, whiteID, blackID string, wp, bp *fakePeer) {
	t.Helper()
	return newTestRoom(t, reg, "none")
}

func TestSecretGate(t *testing.T) {
	reg := newTestRegistry(t, nil)
	created, err := reg.Create(context.Background(), "alice", "Hunter2", "none", &fakePeer{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	code := created.Code

	if _, err := reg.Join(code, "", "bob", "wrong", &fakePeer{}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("wrong secret err = %v, want ErrAccessDenied", err)
	}
	// Secrets match case-insensitively after trimming.
	joined, err := reg.Join(code, "", "bob", "  hunter2 ", &fakePeer{})
	if err != nil {
		t.Fatalf("correct secret rejected: %v", err)
	}

	// Reconnects pass through the gate too.
	if _, err := reg.Join(code, joined.Identity, "bob", "wrong", &fakePeer{}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("rejoin wrong secret err = %v, want ErrAccessDenied", err)
	}
	if _, err := reg.Join(code, joined.Identity, "bob", "hunter2", &fakePeer{}); err != nil {
		t.Fatalf("rejoin with secret: %v", err)
	}
}

func TestVerifySecret(t *testing.T) {
	reg := newTestRegistry(t, nil)
	open, _ := reg.Create(context.Background(), "alice", "", "none", &fakePeer{})
	locked, _ := reg.Create(context.Background(), "carol", "pw", "none", &fakePeer{})

	if v := reg.VerifySecret(open.Code, ""); !v.Verified || v.PasswordRequired {
		t.Fatalf("open room verify = %+v", v)
	}
	if v := reg.VerifySecret(locked.Code, "pw"); !v.Verified || !v.PasswordRequired {
		t.Fatalf("locked room correct secret verify = %+v", v)
	}
	if v := reg.VerifySecret(locked.Code, "nope"); v.Verified {
		t.Fatalf("locked room wrong secret verify = %+v", v)
	}
	// Unknown rooms answer like a wrong secret, not like a missing room.
	if v := reg.VerifySecret("NOSUCH", ""); v.Verified || !v.PasswordRequired {
		t.Fatalf("unknown room verify = %+v", v)
	}
}

func TestReconnectKeepsSeat(t *testing.T) {
	reg := newTestRegistry(t, nil)
	s, whiteID, _, wp, _ := mustRoom(t, reg)

	s.Detach(whiteID, wp)

	wp2 := &fakePeer{}
	res, err := reg.Join(s.Code(), whiteID, "someone-else", "", wp2)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !res.Rejoined || res.Color != White || res.Identity != whiteID {
		t.Fatalf("rejoin result = %+v, want same white seat", res)
	}

	st, err := s.StateFor(whiteID)
	if err != nil {
		t.Fatalf("StateFor: %v", err)
	}
	// Original name sticks; rejoin cannot rename the seat.
	if st.YourName != "alice" {
		t.Fatalf("seat name = %q, want alice", st.YourName)
	}
}

func TestReconnectAfterFinish(t *testing.T) {
	reg := newTestRegistry(t, nil)
	s, whiteID, blackID, _, _ := mustRoom(t, reg)

	playMoves(t, s, whiteID, blackID, scholarsMate)
	if s.Status() != StatusFinished {
		t.Fatalf("status = %s, want finished", s.Status())
	}

	res, err := reg.Join(s.Code(), blackID, "", "", &fakePeer{})
	if err != nil {
		t.Fatalf("rejoin finished room: %v", err)
	}
	if !res.Rejoined || res.Color != Black {
		t.Fatalf("rejoin result = %+v", res)
	}
	st, err := s.StateFor(blackID)
	if err != nil {
		t.Fatalf("StateFor: %v", err)
	}
	if st.Status != StatusFinished || st.Result == "" {
		t.Fatalf("state = status %s result %q, want finished with result text", st.Status, st.Result)
	}
	if len(st.MovesUCI) != len(scholarsMate) {
		t.Fatalf("replayed %d moves, want %d", len(st.MovesUCI), len(scholarsMate))
	}
}

func TestValidate(t *testing.T) {
	reg := newTestRegistry(t, nil)
	created, _ := reg.Create(context.Background(), "alice", "", "none", &fakePeer{})

	if !reg.Validate(created.Code) {
		t.Fatalf("waiting room should validate")
	}
	if reg.Validate("NOSUCH") {
		t.Fatalf("unknown room should not validate")
	}

	joined, err := reg.Join(created.Code, "", "bob", "", &fakePeer{})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	// Active rooms remain resumable.
	if !reg.Validate(created.Code) {
		t.Fatalf("active room should validate")
	}

	playMoves(t, created.Session, created.Identity, joined.Identity, scholarsMate)
	if reg.Validate(created.Code) {
		t.Fatalf("finished room should not validate")
	}
}

func TestRetireKicksPeers(t *testing.T) {
	reg := newTestRegistry(t, nil)
	s, _, _, wp, bp := mustRoom(t, reg)

	reg.Retire(s.Code())
	if _, err := reg.Lookup(s.Code()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("room still resolvable after retire")
	}
	for _, p := range []*fakePeer{wp, bp} {
		p.mu.Lock()
		kicked := p.kicked
		p.mu.Unlock()
		if kicked == "" {
			t.Fatalf("peer not kicked on retire")
		}
	}
}

type rejectingReserver struct{}

func (rejectingReserver) ReserveCode(context.Context, string) (bool, error) { return false, nil }

func TestCreateFailsWhenCodesExhausted(t *testing.T) {
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	reg := NewRegistry(rules.NewEngine(), rejectingReserver{}, cat, nil, RegistryConfig{})

	if _, err := reg.Create(context.Background(), "alice", "", "none", &fakePeer{}); !errors.Is(err, ErrCodeSpace) {
		t.Fatalf("err = %v, want ErrCodeSpace", err)
	}
}

type stallingReserver struct {
	entered chan struct{}
	release chan struct{}
}

func (r *stallingReserver) ReserveCode(context.Context, string) (bool, error) {
	r.entered <- struct{}{}
	<-r.release
	return true, nil
}

func TestLookupNotStalledByCodeReservation(t *testing.T) {
	sr := &stallingReserver{entered: make(chan struct{}), release: make(chan struct{})}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	reg := NewRegistry(rules.NewEngine(), sr, cat, nil, RegistryConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := reg.Create(context.Background(), "alice", "", "none", &fakePeer{})
		done <- err
	}()

	select {
	case <-sr.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("reservation never attempted")
	}

	// With a reservation round trip in flight, other rooms stay reachable.
	looked := make(chan struct{})
	go func() {
		reg.Lookup("NOSUCH")
		close(looked)
	}()
	select {
	case <-looked:
	case <-time.After(time.Second):
		t.Fatalf("lookup stalled behind the code reservation")
	}

	close(sr.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("create never finished after release")
	}
}

func TestHashSecret(t *testing.T) {
	if HashSecret("") != "" {
		t.Fatalf("empty secret must hash empty")
	}
	if HashSecret(" PassWord ") != HashSecret("password") {
		t.Fatalf("normalization mismatch")
	}
	if !checkSecret("", "anything") {
		t.Fatalf("open room must accept any secret")
	}
	if !checkSecret(HashSecret("pw"), "PW") {
		t.Fatalf("matching secret rejected")
	}
	if checkSecret(HashSecret("pw"), "other") {
		t.Fatalf("wrong secret accepted")
	}
}
