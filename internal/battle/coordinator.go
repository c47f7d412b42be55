package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"orator-go/internal/docstore"
	"orator-go/internal/events"
	"orator-go/internal/graph"
	"orator-go/internal/models"
)

var (
	// ErrBattleNotFound is returned when the battle document does not exist.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrInvalidParticipants is returned when a battle is created against
	// oneself.
	ErrInvalidParticipants = errors.New("challenger and opponent must differ")
	// ErrUnknownParticipant is returned when the acting user is not a side
	// of the battle, or acts on the wrong side.
	ErrUnknownParticipant = errors.New("user is not a participant of this battle")
	// ErrInvalidTransition is returned when the battle's current status does
	// not permit the requested operation.
	ErrInvalidTransition = errors.New("battle status does not permit this operation")
	// ErrEvaluationNotReady is returned by RetryEvaluation when the battle
	// is not waiting on an evaluation.
	ErrEvaluationNotReady = errors.New("battle is not awaiting evaluation")
)

// BattleRef locates a battle document.
func BattleRef(battleID string) docstore.Ref {
	return docstore.Ref{Collection: events.CollectionBattles, ID: battleID}
}

// Coordinator drives the speech battle lifecycle: creation, the opponent's
// response, transcript submission, and the single evaluation that completes
// the battle.
type Coordinator interface {
	Create(ctx context.Context, challenger, opponent string, scenario models.InterviewContext) (string, error)
	Respond(ctx context.Context, battleID, userID string, accept bool) error
	Cancel(ctx context.Context, battleID, userID string) error
	SubmitTranscript(ctx context.Context, battleID, userID string, messages []models.TranscriptMessage) error
	RetryEvaluation(ctx context.Context, battleID string) error

	GetBattle(ctx context.Context, battleID string) (*models.SpeechBattle, error)
	PendingBattlesFor(ctx context.Context, uid string) ([]*models.SpeechBattle, error)

	Subscribe(battleID string, onChange func(*models.SpeechBattle), onError docstore.ErrorHandler) docstore.Subscription
	SubscribePending(uid string, onChange func(*models.SpeechBattle), onError docstore.ErrorHandler) docstore.Subscription
}

type coordinator struct {
	store   docstore.Store
	trigger EvaluationTrigger
}

// NewCoordinator creates a Coordinator on top of the document store.
func NewCoordinator(store docstore.Store, trigger EvaluationTrigger) Coordinator {
	return &coordinator{store: store, trigger: trigger}
}

// Create stores a new PENDING battle between two distinct, existing users
// and returns its id.
func (c *coordinator) Create(ctx context.Context, challenger, opponent string, scenario models.InterviewContext) (string, error) {
	if challenger == opponent {
		return "", ErrInvalidParticipants
	}

	battleID := uuid.New().String()
	battle := &models.SpeechBattle{
		BattleID:             battleID,
		Challenger:           challenger,
		Opponent:             opponent,
		Status:               models.BattleStatusPending,
		Context:              scenario,
		ChallengerTranscript: []models.TranscriptMessage{},
		OpponentTranscript:   []models.TranscriptMessage{},
	}

	err := c.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		var profile models.UserProfile
		if err := tx.Get(graph.ProfileRef(challenger), &profile); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("challenger %s: %w", challenger, graph.ErrProfileNotFound)
			}
			return err
		}
		if err := tx.Get(graph.ProfileRef(opponent), &profile); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("opponent %s: %w", opponent, graph.ErrProfileNotFound)
			}
			return err
		}
		return tx.Set(BattleRef(battleID), battle)
	})
	if err != nil {
		return "", err
	}
	return battleID, nil
}

// Respond records the opponent's answer to a PENDING challenge: accept moves
// the battle to IN_PROGRESS, decline cancels it.
func (c *coordinator) Respond(ctx context.Context, battleID, userID string, accept bool) error {
	return c.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		battle, err := getBattle(tx, battleID)
		if err != nil {
			return err
		}
		if userID != battle.Opponent {
			return ErrUnknownParticipant
		}
		if battle.Status != models.BattleStatusPending {
			return fmt.Errorf("respond to %s battle: %w", battle.Status, ErrInvalidTransition)
		}
		status := models.BattleStatusCancelled
		if accept {
			status = models.BattleStatusInProgress
		}
		return tx.Update(BattleRef(battleID), map[string]interface{}{"status": status})
	})
}

// Cancel lets either participant withdraw a battle that has not started.
func (c *coordinator) Cancel(ctx context.Context, battleID, userID string) error {
	return c.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		battle, err := getBattle(tx, battleID)
		if err != nil {
			return err
		}
		if _, isParticipant := battle.SideOf(userID); !isParticipant {
			return ErrUnknownParticipant
		}
		if battle.Status != models.BattleStatusPending {
			return fmt.Errorf("cancel %s battle: %w", battle.Status, ErrInvalidTransition)
		}
		return tx.Update(BattleRef(battleID), map[string]interface{}{"status": models.BattleStatusCancelled})
	})
}

// SubmitTranscript appends the caller's answers to their side of the battle
// and marks that side completed. The first submission implicitly moves a
// PENDING battle to IN_PROGRESS. The submission whose commit flips the
// second completion flag also runs the evaluation; concurrent submissions
// serialize on the battle document's version, so exactly one of them does.
func (c *coordinator) SubmitTranscript(ctx context.Context, battleID, userID string, messages []models.TranscriptMessage) error {
	var completesBattle bool

	err := c.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		completesBattle = false
		battle, err := getBattle(tx, battleID)
		if err != nil {
			return err
		}
		isChallenger, isParticipant := battle.SideOf(userID)
		if !isParticipant {
			return ErrUnknownParticipant
		}
		if battle.Status.Terminal() {
			return fmt.Errorf("submit to %s battle: %w", battle.Status, ErrInvalidTransition)
		}

		wasBoth := battle.BothCompleted()
		fields := map[string]interface{}{}
		if isChallenger {
			fields["challengerData"] = append(battle.ChallengerTranscript, messages...)
			fields["challengerCompleted"] = true
			battle.ChallengerCompleted = true
		} else {
			fields["opponentData"] = append(battle.OpponentTranscript, messages...)
			fields["opponentCompleted"] = true
			battle.OpponentCompleted = true
		}
		if battle.Status == models.BattleStatusPending {
			fields["status"] = models.BattleStatusInProgress
		}
		completesBattle = battle.BothCompleted() && !wasBoth
		return tx.Update(BattleRef(battleID), fields)
	})
	if err != nil {
		return err
	}

	if completesBattle {
		if err := c.evaluate(ctx, battleID); err != nil {
			// The battle stays IN_PROGRESS with both flags set and can be
			// re-evaluated later; the submission itself succeeded.
			log.Printf("battle %s: evaluation failed, left in progress: %v", battleID, err)
		}
	}
	return nil
}

// RetryEvaluation re-runs the evaluation of a battle whose earlier attempt
// failed: both sides completed but the battle is still IN_PROGRESS.
func (c *coordinator) RetryEvaluation(ctx context.Context, battleID string) error {
	var battle models.SpeechBattle
	if err := c.store.Get(ctx, BattleRef(battleID), &battle); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrBattleNotFound
		}
		return err
	}
	if battle.Status != models.BattleStatusInProgress || !battle.BothCompleted() {
		return ErrEvaluationNotReady
	}
	return c.evaluate(ctx, battleID)
}

// evaluate scores both transcripts and commits the verdict together with
// the transition to COMPLETED. The committing transaction re-checks the
// status, so a verdict is written at most once even if two evaluations
// race; the loser's verdict is discarded.
func (c *coordinator) evaluate(ctx context.Context, battleID string) error {
	var battle models.SpeechBattle
	if err := c.store.Get(ctx, BattleRef(battleID), &battle); err != nil {
		return err
	}
	if battle.Status != models.BattleStatusInProgress || !battle.BothCompleted() {
		return nil
	}

	result, err := c.trigger.Evaluate(ctx, EvaluationRequest{
		Context:     battle.Context,
		TranscriptA: battle.ChallengerTranscript,
		TranscriptB: battle.OpponentTranscript,
	})
	if err != nil {
		return fmt.Errorf("evaluate battle %s: %w", battleID, err)
	}

	var winner string
	switch result.Winner {
	case WinnerSideA:
		winner = battle.Challenger
	case WinnerSideB:
		winner = battle.Opponent
	}

	var committed *models.SpeechBattle
	err = c.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		committed = nil
		current, err := getBattle(tx, battleID)
		if err != nil {
			return err
		}
		if current.Status != models.BattleStatusInProgress {
			return nil
		}
		current.Status = models.BattleStatusCompleted
		current.Winner = winner
		current.Evaluation = result.Rationale
		committed = current
		return tx.Update(BattleRef(battleID), map[string]interface{}{
			"status":     models.BattleStatusCompleted,
			"winner":     winner,
			"evaluation": result.Rationale,
		})
	})
	if err != nil {
		return err
	}

	if committed != nil {
		c.recordBattleStats(ctx, committed)
	}
	return nil
}

// recordBattleStats appends the battle summary to both participants'
// statistics. Best effort: the verdict is already committed, a failure
// here only loses the stats entry for that participant.
func (c *coordinator) recordBattleStats(ctx context.Context, battle *models.SpeechBattle) {
	summary := models.BattleSummary{
		BattleID:   battle.BattleID,
		Challenger: battle.Challenger,
		Opponent:   battle.Opponent,
		Winner:     battle.Winner,
		Evaluation: battle.Evaluation,
	}
	for _, uid := range []string{battle.Challenger, battle.Opponent} {
		entry := summary
		entry.Won = battle.Winner == uid
		err := c.store.RunTransaction(ctx, func(tx docstore.Txn) error {
			var profile models.UserProfile
			if err := tx.Get(graph.ProfileRef(uid), &profile); err != nil {
				return err
			}
			for _, existing := range profile.Statistics.BattleStats {
				if existing.BattleID == battle.BattleID {
					return nil
				}
			}
			profile.Statistics.BattleStats = append(profile.Statistics.BattleStats, entry)
			return tx.Update(graph.ProfileRef(uid), map[string]interface{}{
				"statistics": profile.Statistics,
			})
		})
		if err != nil {
			log.Printf("battle %s: failed to record stats for %s: %v", battle.BattleID, uid, err)
		}
	}
}

// GetBattle returns the current battle document.
func (c *coordinator) GetBattle(ctx context.Context, battleID string) (*models.SpeechBattle, error) {
	var battle models.SpeechBattle
	if err := c.store.Get(ctx, BattleRef(battleID), &battle); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrBattleNotFound
		}
		return nil, err
	}
	return &battle, nil
}

// PendingBattlesFor lists the PENDING challenges waiting on uid's response.
func (c *coordinator) PendingBattlesFor(ctx context.Context, uid string) ([]*models.SpeechBattle, error) {
	docs, err := c.store.List(ctx, events.CollectionBattles)
	if err != nil {
		return nil, err
	}
	pending := []*models.SpeechBattle{}
	for _, doc := range docs {
		var battle models.SpeechBattle
		if err := json.Unmarshal(doc.Data, &battle); err != nil {
			log.Printf("battles: skipping malformed document %s: %v", doc.Ref.ID, err)
			continue
		}
		if battle.Opponent == uid && battle.Status == models.BattleStatusPending {
			b := battle
			pending = append(pending, &b)
		}
	}
	return pending, nil
}

// Subscribe delivers every committed state of one battle. Change events may
// be delivered more than once; versionGate drops the duplicates.
func (c *coordinator) Subscribe(battleID string, onChange func(*models.SpeechBattle), onError docstore.ErrorHandler) docstore.Subscription {
	gate := newVersionGate()
	return c.store.Listen(BattleRef(battleID), func(evt events.ChangeEvent) {
		battle, ok := decodeBattleEvent(evt, gate, onError)
		if ok {
			onChange(battle)
		}
	}, onError)
}

// SubscribePending delivers every PENDING battle addressed to uid as it is
// created or changes.
func (c *coordinator) SubscribePending(uid string, onChange func(*models.SpeechBattle), onError docstore.ErrorHandler) docstore.Subscription {
	gate := newVersionGate()
	return c.store.ListenCollection(events.CollectionBattles, func(evt events.ChangeEvent) {
		battle, ok := decodeBattleEvent(evt, gate, onError)
		if ok && battle.Opponent == uid && battle.Status == models.BattleStatusPending {
			onChange(battle)
		}
	}, onError)
}

func decodeBattleEvent(evt events.ChangeEvent, gate *versionGate, onError docstore.ErrorHandler) (*models.SpeechBattle, bool) {
	if evt.Kind != events.ChangeKindSet {
		return nil, false
	}
	if !gate.admit(evt.DocID, evt.Version) {
		return nil, false
	}
	var battle models.SpeechBattle
	if err := json.Unmarshal(evt.Data, &battle); err != nil {
		if onError != nil {
			onError(fmt.Errorf("decode battle change %s: %w", evt.DocID, err))
		}
		return nil, false
	}
	return &battle, true
}

func getBattle(tx docstore.Txn, battleID string) (*models.SpeechBattle, error) {
	var battle models.SpeechBattle
	if err := tx.Get(BattleRef(battleID), &battle); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrBattleNotFound
		}
		return nil, err
	}
	return &battle, nil
}

// versionGate drops change events already seen at the same or an earlier
// document version, making redelivered events harmless.
type versionGate struct {
	mu   sync.Mutex
	seen map[string]int64
}

func newVersionGate() *versionGate {
	return &versionGate{seen: map[string]int64{}}
}

func (g *versionGate) admit(docID string, version int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if version <= g.seen[docID] {
		return false
	}
	g.seen[docID] = version
	return true
}
