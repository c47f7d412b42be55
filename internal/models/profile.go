package models

// PracticeType identifies one of the practice modes a session can target.
type PracticeType string

const (
	SpeechPractice      PracticeType = "SPEECH"
	InterviewPractice   PracticeType = "INTERVIEW"
	NegotiationPractice PracticeType = "NEGOTIATION"
)

// UserProfile is the per-user document stored in the "userProfiles"
// collection, keyed by UID. The relationship sets (Friends, SentReq,
// RecReq) are owned exclusively by the relationship graph service and
// mutated only through its transactional operations.
type UserProfile struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Age        int    `json:"age,omitempty"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`

	// CurrentStreak counts consecutive login days; LastLoginDate is the
	// calendar date ("2006-01-02") the streak was last advanced.
	CurrentStreak int64  `json:"currentStreak"`
	LastLoginDate string `json:"lastLoginDate,omitempty"`

	// Relationship sets hold UIDs, no duplicates, order irrelevant.
	Friends []string `json:"friends"`
	SentReq []string `json:"sentReq"`
	RecReq  []string `json:"recReq"`

	Statistics UserStatistics `json:"statistics"`
}

// UserStatistics aggregates a user's practice history.
type UserStatistics struct {
	SessionsGiven      map[PracticeType]int64 `json:"sessionsGiven"`
	SuccessfulSessions map[PracticeType]int64 `json:"successfulSessions"`
	Improvement        float64                `json:"improvement"`
	RecentData         []SpeechSample         `json:"recentData"`
	BattleStats        []BattleSummary        `json:"battleStats"`
}

// RecentDataLimit caps the rolling RecentData list.
const RecentDataLimit = 10

// SpeechSample holds the analyzer metrics of one recorded session.
type SpeechSample struct {
	Transcription        string  `json:"transcription"`
	FillerWordsCount     int64   `json:"fillerWordsCount"`
	AveragePauseDuration float64 `json:"averagePauseDuration"`
	SentimentScore       float64 `json:"sentimentScore"`
	TalkTimePercentage   float64 `json:"talkTimePercentage"`
	TalkTimeSeconds      float64 `json:"talkTimeSeconds"`
	Pace                 int64   `json:"pace"`
}

// BattleSummary is the record appended to a participant's statistics when
// one of their battles completes.
type BattleSummary struct {
	BattleID   string `json:"battleId"`
	Challenger string `json:"challenger"`
	Opponent   string `json:"opponent"`
	Winner     string `json:"winner"`
	Won        bool   `json:"won"`
	Evaluation string `json:"evaluation"`
}

// NewUserProfile returns a profile with all sets and counters initialized.
func NewUserProfile(uid, name string) *UserProfile {
	return &UserProfile{
		UID:     uid,
		Name:    name,
		Friends: []string{},
		SentReq: []string{},
		RecReq:  []string{},
		Statistics: UserStatistics{
			SessionsGiven:      map[PracticeType]int64{},
			SuccessfulSessions: map[PracticeType]int64{},
			RecentData:         []SpeechSample{},
			BattleStats:        []BattleSummary{},
		},
	}
}

// UserBasicInfo holds minimal public information about a user.
// Used for friend lists and pending-request listings.
type UserBasicInfo struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// BasicInfo projects the public subset of a profile.
func (p *UserProfile) BasicInfo() *UserBasicInfo {
	return &UserBasicInfo{
		UID:        p.UID,
		Name:       p.Name,
		Bio:        p.Bio,
		ProfilePic: p.ProfilePic,
	}
}

// GetMetricMean averages one of the recent-data metric series.
func GetMetricMean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
