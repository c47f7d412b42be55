package models

// BattleStatus defines the lifecycle state of a speech battle.
type BattleStatus string

const (
	BattleStatusPending    BattleStatus = "PENDING"
	BattleStatusInProgress BattleStatus = "IN_PROGRESS"
	BattleStatusCompleted  BattleStatus = "COMPLETED"
	BattleStatusCancelled  BattleStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s BattleStatus) Terminal() bool {
	return s == BattleStatusCompleted || s == BattleStatusCancelled
}

// TranscriptMessage is one entry of a participant's battle transcript.
type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InterviewContext is the practice scenario a battle is fought over.
// It is copied into the battle document at creation and never mutated.
type InterviewContext struct {
	TargetPosition  string `json:"targetPosition"`
	CompanyName     string `json:"companyName"`
	InterviewType   string `json:"interviewType"`
	ExperienceLevel string `json:"experienceLevel"`
	JobDescription  string `json:"jobDescription"`
	FocusArea       string `json:"focusArea"`
}

// SpeechBattle is the two-party battle document stored in the "battles"
// collection, keyed by BattleID. Participants are referenced by UID only;
// the document never embeds profile objects.
type SpeechBattle struct {
	BattleID   string       `json:"battleId"`
	Challenger string       `json:"challenger"`
	Opponent   string       `json:"opponent"`
	Status     BattleStatus `json:"status"`

	Context InterviewContext `json:"interviewContext"`

	// Per-side transcripts are append-only; each side marks its own
	// completion flag exactly once.
	ChallengerTranscript []TranscriptMessage `json:"challengerData"`
	OpponentTranscript   []TranscriptMessage `json:"opponentData"`
	ChallengerCompleted  bool                `json:"challengerCompleted"`
	OpponentCompleted    bool                `json:"opponentCompleted"`

	// Winner and Evaluation are written once, together with the
	// transition to COMPLETED.
	Winner     string `json:"winner"`
	Evaluation string `json:"evaluation"`
}

// SideOf reports which side of the battle uid plays, if any.
func (b *SpeechBattle) SideOf(uid string) (isChallenger, isParticipant bool) {
	switch uid {
	case b.Challenger:
		return true, true
	case b.Opponent:
		return false, true
	}
	return false, false
}

// BothCompleted reports whether both sides have submitted their final
// transcript.
func (b *SpeechBattle) BothCompleted() bool {
	return b.ChallengerCompleted && b.OpponentCompleted
}
