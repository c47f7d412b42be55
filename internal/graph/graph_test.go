package graph

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"orator-go/internal/docstore"
	"orator-go/internal/models"
)

func newTestService(t *testing.T, uids ...string) (Service, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore(5)
	for _, uid := range uids {
		profile := models.NewUserProfile(uid, "User "+uid)
		if err := store.Set(context.Background(), ProfileRef(uid), profile); err != nil {
			t.Fatalf("seed profile %s: %v", uid, err)
		}
	}
	return NewService(store), store
}

func loadProfile(t *testing.T, store *docstore.MemoryStore, uid string) *models.UserProfile {
	t.Helper()
	var profile models.UserProfile
	if err := store.Get(context.Background(), ProfileRef(uid), &profile); err != nil {
		t.Fatalf("load profile %s: %v", uid, err)
	}
	return &profile
}

func hasUID(set []string, uid string) bool {
	for _, member := range set {
		if member == uid {
			return true
		}
	}
	return false
}

func TestSendRequest(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	alice := loadProfile(t, store, "alice")
	bob := loadProfile(t, store, "bob")
	if !hasUID(alice.SentReq, "bob") {
		t.Error("alice.sentReq missing bob")
	}
	if !hasUID(bob.RecReq, "alice") {
		t.Error("bob.recReq missing alice")
	}
	if len(alice.Friends) != 0 || len(bob.Friends) != 0 {
		t.Error("friend edge created by a request")
	}
}

func TestSendRequestErrors(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "alice"); !errors.Is(err, ErrSelfRelation) {
		t.Errorf("self request: got %v, want ErrSelfRelation", err)
	}
	if err := svc.SendRequest(ctx, "alice", "ghost"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("missing target: got %v, want ErrProfileNotFound", err)
	}

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := svc.SendRequest(ctx, "alice", "bob"); !errors.Is(err, ErrRequestAlreadyPending) {
		t.Errorf("duplicate request: got %v, want ErrRequestAlreadyPending", err)
	}
	if err := svc.SendRequest(ctx, "bob", "alice"); !errors.Is(err, ErrMutualRequestExists) {
		t.Errorf("counter request: got %v, want ErrMutualRequestExists", err)
	}

	if err := svc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if err := svc.SendRequest(ctx, "alice", "bob"); !errors.Is(err, ErrAlreadyFriends) {
		t.Errorf("request to friend: got %v, want ErrAlreadyFriends", err)
	}
}

func TestAcceptRequest(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := svc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}

	alice := loadProfile(t, store, "alice")
	bob := loadProfile(t, store, "bob")
	if !hasUID(alice.Friends, "bob") || !hasUID(bob.Friends, "alice") {
		t.Error("friend edge not symmetric after accept")
	}
	if len(alice.SentReq) != 0 || len(bob.RecReq) != 0 {
		t.Error("request edges not cleared after accept")
	}

	// Accepting again reports no pending request; callers treat that as
	// already-applied.
	if err := svc.AcceptRequest(ctx, "bob", "alice"); !errors.Is(err, ErrNoSuchRequest) {
		t.Errorf("repeat accept: got %v, want ErrNoSuchRequest", err)
	}
}

func TestDeclineRequest(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := svc.DeclineRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("DeclineRequest: %v", err)
	}

	alice := loadProfile(t, store, "alice")
	bob := loadProfile(t, store, "bob")
	if len(alice.SentReq)+len(bob.RecReq)+len(alice.Friends)+len(bob.Friends) != 0 {
		t.Error("decline left residual edges")
	}

	if err := svc.DeclineRequest(ctx, "bob", "alice"); !errors.Is(err, ErrNoSuchRequest) {
		t.Errorf("repeat decline: got %v, want ErrNoSuchRequest", err)
	}
}

func TestCancelRequest(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := svc.CancelRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}

	alice := loadProfile(t, store, "alice")
	bob := loadProfile(t, store, "bob")
	if len(alice.SentReq) != 0 || len(bob.RecReq) != 0 {
		t.Error("cancel left residual edges")
	}

	if err := svc.CancelRequest(ctx, "alice", "bob"); !errors.Is(err, ErrNoSuchRequest) {
		t.Errorf("repeat cancel: got %v, want ErrNoSuchRequest", err)
	}
}

func TestRemoveFriend(t *testing.T) {
	svc, store := newTestService(t, "alice", "bob")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := svc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if err := svc.RemoveFriend(ctx, "alice", "bob"); err != nil {
		t.Fatalf("RemoveFriend: %v", err)
	}

	alice := loadProfile(t, store, "alice")
	bob := loadProfile(t, store, "bob")
	if len(alice.Friends) != 0 || len(bob.Friends) != 0 {
		t.Error("friend edge survived removal")
	}

	// Removing again is a no-op failure, not a crash or a half-edge.
	if err := svc.RemoveFriend(ctx, "alice", "bob"); !errors.Is(err, ErrNotFriends) {
		t.Errorf("repeat removal: got %v, want ErrNotFriends", err)
	}
}

func TestListingOperations(t *testing.T) {
	svc, _ := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := svc.SendRequest(ctx, "carol", "alice"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	sent, err := svc.SentRequests(ctx, "alice")
	if err != nil {
		t.Fatalf("SentRequests: %v", err)
	}
	if len(sent) != 1 || sent[0].UID != "bob" {
		t.Errorf("sent requests: got %+v, want [bob]", sent)
	}

	received, err := svc.ReceivedRequests(ctx, "alice")
	if err != nil {
		t.Fatalf("ReceivedRequests: %v", err)
	}
	if len(received) != 1 || received[0].UID != "carol" {
		t.Errorf("received requests: got %+v, want [carol]", received)
	}

	if err := svc.AcceptRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	friends, err := svc.Friends(ctx, "alice")
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(friends) != 1 || friends[0].UID != "bob" {
		t.Errorf("friends: got %+v, want [bob]", friends)
	}

	if _, err := svc.Friends(ctx, "ghost"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("friends of missing profile: got %v, want ErrProfileNotFound", err)
	}
}

// checkGraphInvariants verifies, across all profiles: friendship symmetry,
// request duality, pairwise disjointness of the three sets, and absence of
// self edges.
func checkGraphInvariants(t *testing.T, store *docstore.MemoryStore, uids []string) {
	t.Helper()
	profiles := map[string]*models.UserProfile{}
	for _, uid := range uids {
		profiles[uid] = loadProfile(t, store, uid)
	}

	for uid, p := range profiles {
		for _, friend := range p.Friends {
			if friend == uid {
				t.Fatalf("%s is friends with themselves", uid)
			}
			if !hasUID(profiles[friend].Friends, uid) {
				t.Fatalf("friendship not symmetric: %s->%s", uid, friend)
			}
		}
		for _, target := range p.SentReq {
			if target == uid {
				t.Fatalf("%s sent a request to themselves", uid)
			}
			if !hasUID(profiles[target].RecReq, uid) {
				t.Fatalf("request duality broken: %s->%s", uid, target)
			}
		}
		for _, requester := range p.RecReq {
			if !hasUID(profiles[requester].SentReq, uid) {
				t.Fatalf("request duality broken (received side): %s->%s", requester, uid)
			}
		}
		for _, other := range p.Friends {
			if hasUID(p.SentReq, other) || hasUID(p.RecReq, other) {
				t.Fatalf("sets not disjoint for %s and %s", uid, other)
			}
		}
	}
}

func TestRandomizedOperationSequencesKeepInvariants(t *testing.T) {
	uids := []string{"u1", "u2", "u3", "u4"}
	svc, store := newTestService(t, uids...)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	ops := []func(a, b string) error{
		func(a, b string) error { return svc.SendRequest(ctx, a, b) },
		func(a, b string) error { return svc.AcceptRequest(ctx, a, b) },
		func(a, b string) error { return svc.DeclineRequest(ctx, a, b) },
		func(a, b string) error { return svc.CancelRequest(ctx, a, b) },
		func(a, b string) error { return svc.RemoveFriend(ctx, a, b) },
	}

	for i := 0; i < 500; i++ {
		a := uids[rng.Intn(len(uids))]
		b := uids[rng.Intn(len(uids))]
		op := ops[rng.Intn(len(ops))]

		err := op(a, b)
		if err != nil && !isExpectedGraphError(err) {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		checkGraphInvariants(t, store, uids)
	}
}

func isExpectedGraphError(err error) bool {
	for _, expected := range []error{
		ErrSelfRelation, ErrProfileNotFound, ErrAlreadyFriends,
		ErrRequestAlreadyPending, ErrMutualRequestExists,
		ErrNoSuchRequest, ErrNotFriends,
	} {
		if errors.Is(err, expected) {
			return true
		}
	}
	return false
}

func TestConcurrentAcceptAndCancelLeaveConsistentState(t *testing.T) {
	// Accept and cancel race over the same pending request; whichever
	// commits second must observe the first one's effect and fail its
	// precondition instead of producing a half-applied edge.
	for i := 0; i < 20; i++ {
		svc, store := newTestService(t, "alice", "bob")
		ctx := context.Background()
		if err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}

		done := make(chan error, 2)
		go func() { done <- svc.AcceptRequest(ctx, "bob", "alice") }()
		go func() { done <- svc.CancelRequest(ctx, "alice", "bob") }()
		err1, err2 := <-done, <-done

		failures := 0
		for _, err := range []error{err1, err2} {
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNoSuchRequest) {
				t.Fatalf("round %d: unexpected error: %v", i, err)
			}
			failures++
		}
		if failures != 1 {
			t.Fatalf("round %d: expected exactly one loser, got %d (%v / %v)", i, failures, err1, err2)
		}
		checkGraphInvariants(t, store, []string{"alice", "bob"})

		// The winner fully decided the outcome: either friends or nothing,
		// never a dangling request.
		alice := loadProfile(t, store, "alice")
		bob := loadProfile(t, store, "bob")
		if len(alice.SentReq) != 0 || len(bob.RecReq) != 0 {
			t.Fatalf("round %d: request edge survived the race", i)
		}
	}
}
