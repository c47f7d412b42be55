// Package graph owns the bidirectional friend/request edges between user
// profiles. Every mutation is one optimistic transaction over the two
// affected profile documents, so the symmetry and disjointness invariants
// hold after every committed operation regardless of concurrent writers.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log"

	"orator-go/internal/docstore"
	"orator-go/internal/events"
	"orator-go/internal/models"
)

var (
	ErrSelfRelation          = errors.New("cannot form a relationship with yourself")
	ErrProfileNotFound       = errors.New("user profile not found")
	ErrAlreadyFriends        = errors.New("users are already friends")
	ErrRequestAlreadyPending = errors.New("a friend request is already pending")
	// ErrMutualRequestExists means the counterparty already sent a request
	// to the caller; the caller should accept it instead.
	ErrMutualRequestExists = errors.New("counterparty request pending, accept it instead")
	// ErrNoSuchRequest also covers the retry of an already-applied accept;
	// callers should treat it as success-already-applied, not a hard error.
	ErrNoSuchRequest = errors.New("no such friend request")
	ErrNotFriends    = errors.New("users are not friends")
)

// Service exposes the transactional relationship graph operations.
type Service interface {
	SendRequest(ctx context.Context, self, target string) error
	AcceptRequest(ctx context.Context, self, requester string) error
	DeclineRequest(ctx context.Context, self, requester string) error
	CancelRequest(ctx context.Context, self, target string) error
	RemoveFriend(ctx context.Context, self, friend string) error

	Friends(ctx context.Context, uid string) ([]*models.UserBasicInfo, error)
	SentRequests(ctx context.Context, uid string) ([]*models.UserBasicInfo, error)
	ReceivedRequests(ctx context.Context, uid string) ([]*models.UserBasicInfo, error)

	// ListenProfile observes every committed change of one profile,
	// including changes caused by the counterparty of an edge mutation.
	ListenProfile(uid string, onChange docstore.ChangeHandler, onError docstore.ErrorHandler) docstore.Subscription
}

type service struct {
	store docstore.Store
}

// NewService creates a relationship graph service over the given store.
func NewService(store docstore.Store) Service {
	return &service{store: store}
}

// ProfileRef returns the document reference of a user profile.
func ProfileRef(uid string) docstore.Ref {
	return docstore.Ref{Collection: events.CollectionUserProfiles, ID: uid}
}

// SendRequest records a pending request edge pair: target into
// self.sentReq and self into target.recReq.
func (s *service) SendRequest(ctx context.Context, self, target string) error {
	if self == target {
		return ErrSelfRelation
	}
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		selfProfile, targetProfile, err := readPair(tx, self, target)
		if err != nil {
			return err
		}
		if contains(selfProfile.Friends, target) {
			return ErrAlreadyFriends
		}
		if contains(selfProfile.SentReq, target) {
			return ErrRequestAlreadyPending
		}
		if contains(selfProfile.RecReq, target) {
			return ErrMutualRequestExists
		}

		selfProfile.SentReq = addToSet(selfProfile.SentReq, target)
		targetProfile.RecReq = addToSet(targetProfile.RecReq, self)
		return writePair(tx, selfProfile, targetProfile)
	})
}

// AcceptRequest turns the pending edge pair from requester into a mutual
// friend edge.
func (s *service) AcceptRequest(ctx context.Context, self, requester string) error {
	if self == requester {
		return ErrSelfRelation
	}
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		selfProfile, requesterProfile, err := readPair(tx, self, requester)
		if err != nil {
			return err
		}
		if !contains(selfProfile.RecReq, requester) {
			return ErrNoSuchRequest
		}

		selfProfile.RecReq = removeFromSet(selfProfile.RecReq, requester)
		requesterProfile.SentReq = removeFromSet(requesterProfile.SentReq, self)
		selfProfile.Friends = addToSet(selfProfile.Friends, requester)
		requesterProfile.Friends = addToSet(requesterProfile.Friends, self)
		return writePair(tx, selfProfile, requesterProfile)
	})
}

// DeclineRequest removes the pending edge pair from requester without
// creating a friend edge.
func (s *service) DeclineRequest(ctx context.Context, self, requester string) error {
	if self == requester {
		return ErrSelfRelation
	}
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		selfProfile, requesterProfile, err := readPair(tx, self, requester)
		if err != nil {
			return err
		}
		if !contains(selfProfile.RecReq, requester) {
			return ErrNoSuchRequest
		}

		selfProfile.RecReq = removeFromSet(selfProfile.RecReq, requester)
		requesterProfile.SentReq = removeFromSet(requesterProfile.SentReq, self)
		return writePair(tx, selfProfile, requesterProfile)
	})
}

// CancelRequest withdraws a request the caller sent earlier. A pending
// request stays cancellable until the counterparty accepts or declines it.
func (s *service) CancelRequest(ctx context.Context, self, target string) error {
	if self == target {
		return ErrSelfRelation
	}
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		selfProfile, targetProfile, err := readPair(tx, self, target)
		if err != nil {
			return err
		}
		if !contains(selfProfile.SentReq, target) {
			return ErrNoSuchRequest
		}

		selfProfile.SentReq = removeFromSet(selfProfile.SentReq, target)
		targetProfile.RecReq = removeFromSet(targetProfile.RecReq, self)
		return writePair(tx, selfProfile, targetProfile)
	})
}

// RemoveFriend removes the friend edge from both sides.
func (s *service) RemoveFriend(ctx context.Context, self, friend string) error {
	if self == friend {
		return ErrSelfRelation
	}
	return s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		selfProfile, friendProfile, err := readPair(tx, self, friend)
		if err != nil {
			return err
		}
		if !contains(selfProfile.Friends, friend) {
			return ErrNotFriends
		}

		selfProfile.Friends = removeFromSet(selfProfile.Friends, friend)
		friendProfile.Friends = removeFromSet(friendProfile.Friends, self)
		return writePair(tx, selfProfile, friendProfile)
	})
}

// Friends returns basic info for every friend of uid.
func (s *service) Friends(ctx context.Context, uid string) ([]*models.UserBasicInfo, error) {
	return s.relatedProfiles(ctx, uid, func(p *models.UserProfile) []string { return p.Friends })
}

// SentRequests returns basic info for every user uid has a pending
// request to.
func (s *service) SentRequests(ctx context.Context, uid string) ([]*models.UserBasicInfo, error) {
	return s.relatedProfiles(ctx, uid, func(p *models.UserProfile) []string { return p.SentReq })
}

// ReceivedRequests returns basic info for every user with a pending
// request to uid.
func (s *service) ReceivedRequests(ctx context.Context, uid string) ([]*models.UserBasicInfo, error) {
	return s.relatedProfiles(ctx, uid, func(p *models.UserProfile) []string { return p.RecReq })
}

func (s *service) relatedProfiles(ctx context.Context, uid string, pick func(*models.UserProfile) []string) ([]*models.UserBasicInfo, error) {
	var profile models.UserProfile
	if err := s.store.Get(ctx, ProfileRef(uid), &profile); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}

	infos := make([]*models.UserBasicInfo, 0, len(pick(&profile)))
	for _, otherUID := range pick(&profile) {
		var other models.UserProfile
		if err := s.store.Get(ctx, ProfileRef(otherUID), &other); err != nil {
			// A dangling edge should not hide the rest of the list.
			log.Printf("graph: failed to load related profile %s for %s: %v", otherUID, uid, err)
			continue
		}
		infos = append(infos, other.BasicInfo())
	}
	return infos, nil
}

// ListenProfile observes one profile document.
func (s *service) ListenProfile(uid string, onChange docstore.ChangeHandler, onError docstore.ErrorHandler) docstore.Subscription {
	return s.store.Listen(ProfileRef(uid), onChange, onError)
}

func readPair(tx docstore.Txn, a, b string) (*models.UserProfile, *models.UserProfile, error) {
	var profileA, profileB models.UserProfile
	if err := tx.Get(ProfileRef(a), &profileA); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil, ErrProfileNotFound
		}
		return nil, nil, err
	}
	if err := tx.Get(ProfileRef(b), &profileB); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil, ErrProfileNotFound
		}
		return nil, nil, err
	}
	return &profileA, &profileB, nil
}

func writePair(tx docstore.Txn, a, b *models.UserProfile) error {
	if err := tx.Set(ProfileRef(a.UID), a); err != nil {
		return err
	}
	return tx.Set(ProfileRef(b.UID), b)
}

func contains(set []string, uid string) bool {
	for _, member := range set {
		if member == uid {
			return true
		}
	}
	return false
}

func addToSet(set []string, uid string) []string {
	if contains(set, uid) {
		return set
	}
	return append(set, uid)
}

func removeFromSet(set []string, uid string) []string {
	out := set[:0]
	for _, member := range set {
		if member != uid {
			out = append(out, member)
		}
	}
	return out
}
