package allowlist

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/internal/threadapi/threadapitest"
	"github.com/threadscope/borderd/pkg/thread"
)

func newList(t *testing.T) (*AllowList, *threadapitest.Fake) {
	t.Helper()
	fake := threadapitest.New()
	return New(fake, zap.NewNop(), nil), fake
}

func eui(t *testing.T, s string) thread.ExtAddress {
	t.Helper()
	ea, err := thread.ParseExtAddress(s)
	if err != nil {
		t.Fatalf("ParseExtAddress: %v", err)
	}
	return ea
}

func TestValidatePskd(t *testing.T) {
	tests := []struct {
		pskd    string
		wantErr bool
	}{
		{"J01NME", false},
		{"ABCDEF123456", false},
		{"ABC", true},                                // too short
		{"ABCDEFGHJKLMNPRSTUVWXY0123456789X", true},  // too long (33)
		{"abcdef", true},                             // lowercase
		{"ABCDEI", true},                             // I
		{"ABCDEO", true},                             // O
		{"ABCDEQ", true},                             // Q
		{"ABCDEZ", true},                             // Z
		{"ABC DEF", true},                            // space
		{"ABCDEFGHJKLMNPRSTUVWXY012345678", false},   // 31 chars
	}
	for _, tt := range tests {
		if err := ValidatePskd(tt.pskd); (err != nil) != tt.wantErr {
			t.Errorf("ValidatePskd(%q) = %v, wantErr %v", tt.pskd, err, tt.wantErr)
		}
	}
}

func TestAddJoinerTracksEntry(t *testing.T) {
	list, fake := newList(t)
	if err := list.CommissionerStart(); err != nil {
		t.Fatalf("CommissionerStart: %v", err)
	}

	id := uuid.New()
	e := eui(t, "aabbccddeeff0011")
	if err := list.AddJoiner(e, "J01NME", time.Minute, id); err != nil {
		t.Fatalf("AddJoiner: %v", err)
	}

	entry, ok := list.Find(e)
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.State != StatePendingJoiner {
		t.Errorf("state = %v, want pendingJoiner", entry.State)
	}
	if entry.UUID != id {
		t.Error("entry uuid should match the creating action")
	}
	if _, ok := fake.Joiners[e]; !ok {
		t.Error("joiner not registered with the stack")
	}
	if list.PendingCount() != 1 {
		t.Errorf("pending = %d", list.PendingCount())
	}
}

func TestJoinerEventTransitions(t *testing.T) {
	list, fake := newList(t)
	_ = list.CommissionerStart()

	e := eui(t, "aabbccddeeff0011")
	_ = list.AddJoiner(e, "J01NME", time.Minute, uuid.New())

	fake.FireJoinerEvent(threadapi.JoinerStart, &e)
	if entry, _ := list.Find(e); entry.State != StateJoinAttempted {
		t.Errorf("state after start = %v", entry.State)
	}
	if list.JoinStatus(e) != JoinPending {
		t.Error("join status should still be pending")
	}

	fake.FireJoinerEvent(threadapi.JoinerFinalize, &e)
	if entry, _ := list.Find(e); entry.State != StateJoined {
		t.Errorf("state after finalize = %v", entry.State)
	}
	if list.JoinStatus(e) != JoinSucceeded {
		t.Error("join status should be succeeded")
	}
}

func TestJoinerRemovedWhilePendingExpires(t *testing.T) {
	list, fake := newList(t)
	_ = list.CommissionerStart()

	e := eui(t, "aabbccddeeff0011")
	_ = list.AddJoiner(e, "J01NME", time.Minute, uuid.New())

	fake.FireJoinerEvent(threadapi.JoinerRemoved, &e)
	if entry, _ := list.Find(e); entry.State != StateExpired {
		t.Errorf("state = %v, want expired", entry.State)
	}
	if list.JoinStatus(e) != JoinFailed {
		t.Error("expired entries count as failed")
	}
}

func TestJoinerRemovedWhileAttemptedFails(t *testing.T) {
	list, fake := newList(t)
	_ = list.CommissionerStart()

	e := eui(t, "aabbccddeeff0011")
	_ = list.AddJoiner(e, "J01NME", time.Minute, uuid.New())

	fake.FireJoinerEvent(threadapi.JoinerStart, &e)
	fake.FireJoinerEvent(threadapi.JoinerRemoved, &e)
	if entry, _ := list.Find(e); entry.State != StateJoinFailed {
		t.Errorf("state = %v, want joinFailed", entry.State)
	}
}

func TestCommissionerStoppedWhenNothingPending(t *testing.T) {
	list, fake := newList(t)
	_ = list.CommissionerStart()
	fake.SetCommissionerActive()

	e := eui(t, "aabbccddeeff0011")
	_ = list.AddJoiner(e, "J01NME", time.Minute, uuid.New())

	other := eui(t, "1122334455667788")
	_ = list.AddJoiner(other, "J01NME", time.Minute, uuid.New())

	fake.FireJoinerEvent(threadapi.JoinerStart, &e)
	fake.FireJoinerEvent(threadapi.JoinerRemoved, &e)
	if fake.CommissionerState() == threadapi.CommissionerDisabled {
		t.Fatal("commissioner stopped while a joiner is still pending")
	}

	fake.FireJoinerEvent(threadapi.JoinerRemoved, &other)
	if fake.CommissionerState() != threadapi.CommissionerDisabled {
		t.Error("commissioner should stop once no joiner is pending")
	}
}

func TestUnknownJoinerIgnored(t *testing.T) {
	list, fake := newList(t)
	_ = list.CommissionerStart()

	e := eui(t, "aabbccddeeff0011")
	fake.FireJoinerEvent(threadapi.JoinerStart, &e)
	if _, ok := list.Find(e); ok {
		t.Error("event for unknown joiner must not create an entry")
	}
}

func TestEraseAndReuse(t *testing.T) {
	list, _ := newList(t)
	_ = list.CommissionerStart()

	e := eui(t, "aabbccddeeff0011")
	_ = list.AddJoiner(e, "J01NME", time.Minute, uuid.New())

	if err := list.Erase(e); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := list.Erase(e); !errors.Is(err, threadapi.ErrNotFound) {
		t.Errorf("second erase = %v, want ErrNotFound", err)
	}
	if list.PendingCount() != 0 {
		t.Errorf("pending = %d after erase", list.PendingCount())
	}
}

func TestAddJoinerUpdatesExisting(t *testing.T) {
	list, _ := newList(t)
	_ = list.CommissionerStart()

	e := eui(t, "aabbccddeeff0011")
	firstID := uuid.New()
	_ = list.AddJoiner(e, "J01NME", time.Minute, firstID)

	secondID := uuid.New()
	_ = list.AddJoiner(e, "NEWPSK", 2*time.Minute, secondID)

	if len(list.Entries()) != 1 {
		t.Fatalf("entries = %d, want 1 (upsert)", len(list.Entries()))
	}
	entry, _ := list.Find(e)
	if entry.UUID != secondID || entry.Pskd != "NEWPSK" {
		t.Errorf("entry = %+v, want refreshed", entry)
	}
}
