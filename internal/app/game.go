package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"twitch-trivia-service/internal/domain"

	"go.uber.org/zap"
)

// GameStore is the durable storage behind a running quiz.
type GameStore interface {
	UserStore
	CreateInstance(ctx context.Context, quizID string) (string, error)
	FinishInstance(ctx context.Context, instanceID string) error
	// SaveResponses writes the whole batch inside one transaction.
	SaveResponses(ctx context.Context, responses []domain.Response) error
}

// ContentSource loads quiz content, usually through a cache.
type ContentSource interface {
	QuizContent(ctx context.Context, quizID string) (domain.QuizContent, error)
}

// Gateway pushes lifecycle events out: Broadcast to every viewer, SendControl
// only to the registered control panel connection.
type Gateway interface {
	Broadcast(event string, payload any)
	SendControl(event string, payload any)
}

// ViewerCounter reports how many non-control viewers are connected.
type ViewerCounter interface {
	ViewerCount() int
}

type sessionPhase int

const (
	sessionIdle sessionPhase = iota
	sessionActive
)

// Game runs at most one quiz session at a time: it owns the session state,
// the current round, and the deadline timer, and drives scoring, persistence
// and broadcasting when a round closes.
type Game struct {
	store    GameStore
	content  ContentSource
	resolver *Resolver
	gateway  Gateway
	viewers  ViewerCounter
	grace    time.Duration
	logger   *zap.Logger

	clock func() time.Time
	// afterFunc schedules the round deadline; the returned func stops it.
	// Injectable so tests can fire or withhold the deadline deterministically.
	afterFunc func(d time.Duration, f func()) func() bool

	mu         sync.Mutex
	phase      sessionPhase
	quiz       domain.QuizContent
	instanceID string
	next       int
	scores     map[string]int
	names      map[string]string
	round      *Round
	gen        uint64
	// Merges that arrived while a close was persisting; applied by the close.
	deferredMerges []deferredMerge
}

type deferredMerge struct {
	anonKey string
	authKey string
}

func NewGame(store GameStore, content ContentSource, resolver *Resolver, gateway Gateway, viewers ViewerCounter, grace time.Duration, logger *zap.Logger) *Game {
	return &Game{
		store:    store,
		content:  content,
		resolver: resolver,
		gateway:  gateway,
		viewers:  viewers,
		grace:    grace,
		logger:   logger,
		clock:    time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		scores: make(map[string]int),
		names:  make(map[string]string),
	}
}

// SetTimers is test-only: it swaps the clock and deadline scheduler.
func (g *Game) SetTimers(clock func() time.Time, afterFunc func(d time.Duration, f func()) func() bool) {
	g.clock = clock
	g.afterFunc = afterFunc
}

// Activate starts a session for the given quiz. A session that is already
// running is reset and taken over rather than rejected; the takeover is
// logged and the old instance gets its end time.
func (g *Game) Activate(ctx context.Context, quizID string) error {
	quiz, err := g.content.QuizContent(ctx, quizID)
	if err != nil {
		return fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	if len(quiz.Questions) == 0 {
		return fmt.Errorf("quiz %s has no questions: %w", quizID, domain.ErrQuizNotFound)
	}

	instanceID, err := g.store.CreateInstance(ctx, quizID)
	if err != nil {
		return fmt.Errorf("create quiz instance: %w", err)
	}

	g.mu.Lock()
	var oldInstance string
	if g.phase == sessionActive {
		g.logger.Warn("activating over a running session",
			zap.String("old_quiz", g.quiz.ID),
			zap.String("new_quiz", quizID))
		if g.round != nil {
			g.round.CancelTimer()
		}
		oldInstance = g.instanceID
	}
	g.phase = sessionActive
	g.quiz = quiz
	g.instanceID = instanceID
	g.next = 0
	g.scores = make(map[string]int)
	g.names = make(map[string]string)
	g.round = nil
	g.gen++
	g.mu.Unlock()

	if oldInstance != "" {
		if err := g.store.FinishInstance(ctx, oldInstance); err != nil {
			g.logger.Error("finish superseded instance", zap.Error(err))
		}
	}

	g.logger.Info("quiz activated",
		zap.String("quiz_id", quizID),
		zap.String("instance_id", instanceID),
		zap.Int("questions", len(quiz.Questions)))
	g.gateway.Broadcast(domain.EventQuizReady, domain.QuizReadyEvent{
		QuizID: quiz.ID,
		Name:   quiz.Name,
	})
	return nil
}

// Advance opens the next question's round, or finalizes the quiz when every
// question has been played. It fails while a round is still open.
func (g *Game) Advance(ctx context.Context) error {
	g.mu.Lock()
	if g.phase != sessionActive {
		g.mu.Unlock()
		return domain.ErrNoSession
	}
	if g.round != nil {
		g.mu.Unlock()
		return domain.ErrRoundOpen
	}

	if g.next >= len(g.quiz.Questions) {
		final := g.standingsLocked()
		instanceID := g.instanceID
		g.resetLocked()
		g.mu.Unlock()

		if err := g.store.FinishInstance(ctx, instanceID); err != nil {
			g.logger.Error("finish instance", zap.Error(err))
		}
		g.logger.Info("quiz finalized", zap.String("instance_id", instanceID))
		g.gateway.Broadcast(domain.EventShowFinalResults, domain.FinalResultsEvent{FinalScores: final})
		return nil
	}

	q := g.quiz.Questions[g.next]
	expected := g.viewers.ViewerCount()
	wait := q.TimeLimit + g.grace
	round := newRound(q, g.next, g.clock().Add(wait), expected)
	g.round = round
	g.next++
	g.gen++
	gen := g.gen
	round.stopTimer = g.afterFunc(wait, func() {
		g.closeRound(context.Background(), gen)
	})
	quizID := g.quiz.ID
	g.mu.Unlock()

	g.logger.Info("question round opened",
		zap.String("question_id", q.ID),
		zap.Int("index", round.Index),
		zap.Int("expected", expected),
		zap.Duration("deadline_in", wait))

	start := domain.StartQuestionEvent{
		QuizID:     quizID,
		QuestionID: q.ID,
		Text:       q.Text,
		Options:    q.Options,
		TimeLimit:  int(q.TimeLimit / time.Second),
	}
	g.gateway.Broadcast(domain.EventStartQuestion, start)
	g.gateway.SendControl(domain.EventStartQuestionControl, domain.StartQuestionControlEvent{
		StartQuestionEvent: start,
		CorrectOption:      q.Correct,
	})
	return nil
}

// Deactivate ends the running session early. Safe to call when idle: that is
// reported as ErrNoSession, not a crash.
func (g *Game) Deactivate(ctx context.Context) error {
	g.mu.Lock()
	if g.phase != sessionActive {
		g.mu.Unlock()
		return domain.ErrNoSession
	}
	if g.round != nil {
		g.round.CancelTimer()
	}
	final := g.standingsLocked()
	instanceID := g.instanceID
	g.resetLocked()
	g.mu.Unlock()

	if err := g.store.FinishInstance(ctx, instanceID); err != nil {
		g.logger.Error("finish instance", zap.Error(err))
	}
	g.logger.Info("quiz deactivated", zap.String("instance_id", instanceID))
	g.gateway.Broadcast(domain.EventQuizEnd, domain.QuizEndEvent{
		FinalScores: final,
		ManualStop:  true,
	})
	return nil
}

// CloseRound closes the open round ahead of its deadline. Racing the timer
// is fine: whichever trigger claims the transition first does the work.
func (g *Game) CloseRound(ctx context.Context) error {
	g.mu.Lock()
	if g.phase != sessionActive || g.round == nil {
		g.mu.Unlock()
		return domain.ErrNoRound
	}
	g.round.CancelTimer()
	gen := g.gen
	g.mu.Unlock()
	return g.closeRound(ctx, gen)
}

// SubmitAnswer validates and records one viewer submission. Malformed or
// out-of-context submissions are dropped without an error so the transport
// never reflects them back to the submitter.
func (g *Game) SubmitAnswer(ctx context.Context, externalKey, questionID string, option int, marginMs int64) {
	g.mu.Lock()
	round := g.round
	if g.phase != sessionActive || round == nil || round.phase != roundOpen {
		g.mu.Unlock()
		g.logger.Debug("dropping submission outside a round", zap.String("external_key", externalKey))
		return
	}
	if round.Question.ID != questionID {
		g.mu.Unlock()
		g.logger.Debug("dropping submission for stale question",
			zap.String("got", questionID),
			zap.String("open", round.Question.ID))
		return
	}
	g.mu.Unlock()

	// Identity resolution may hit storage or the name service, so it runs
	// outside the lock; the round is re-checked before recording.
	user, err := g.resolver.Resolve(ctx, externalKey)
	if err != nil {
		g.logger.Error("resolve submitter", zap.String("external_key", externalKey), zap.Error(err))
		return
	}

	g.mu.Lock()
	if g.round != round {
		g.mu.Unlock()
		return
	}
	ok := round.Submit(domain.Answer{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Option:      option,
		MarginMs:    marginMs,
	})
	if !ok {
		g.mu.Unlock()
		return
	}
	g.names[user.ID] = user.DisplayName
	update := g.liveUpdateLocked(round)
	g.mu.Unlock()

	g.gateway.SendControl(domain.EventLiveRoundUpdate, update)
}

// MergeIdentity folds an anonymous viewer into an authenticated one after
// the viewer shares their identity. Durable state merges first; only then do
// the in-memory score and any in-flight answer move.
//
// While a close is suspended in its persist write, the round's answers and
// points are snapshotted under the anonymous ID and its response rows still
// reference the anonymous user. Merging in that window would credit points
// to a retired identity and delete the user the rows point at, so the merge
// is parked and applied by the close as soon as the write completes.
func (g *Game) MergeIdentity(ctx context.Context, anonKey, authKey string) error {
	g.mu.Lock()
	if g.round != nil && g.round.phase == roundClosing {
		g.deferredMerges = append(g.deferredMerges, deferredMerge{anonKey: anonKey, authKey: authKey})
		g.mu.Unlock()
		g.logger.Info("identity merge deferred until round close completes",
			zap.String("anon_key", anonKey),
			zap.String("auth_key", authKey))
		return nil
	}
	g.mu.Unlock()

	from, to, err := g.resolver.Merge(ctx, anonKey, authKey)
	if err != nil {
		return err
	}
	if from.ID == to.ID {
		return nil
	}

	g.mu.Lock()
	if pts, ok := g.scores[from.ID]; ok {
		g.scores[to.ID] += pts
		delete(g.scores, from.ID)
	}
	delete(g.names, from.ID)
	g.names[to.ID] = to.DisplayName
	if g.round != nil {
		g.round.Relink(from.ID, to)
	}
	g.mu.Unlock()
	return nil
}

// HandleDisconnect releases the connection's identity (recycling any guest
// number) and, for viewer connections, shrinks the open round's
// expected-answer count. Control connections release their identity too: the
// connection may have answered as a viewer before registering.
func (g *Game) HandleDisconnect(externalKey string, viewer bool) {
	g.resolver.Release(externalKey)
	if !viewer {
		return
	}

	g.mu.Lock()
	if g.round != nil && g.round.Expected > 0 {
		g.round.Expected--
	}
	g.mu.Unlock()
}

// closeRound performs the one-shot close: scoring, the transactional
// response batch, cumulative scores, and the round-end broadcast. The gen
// check makes a stale timer firing against a later round a no-op, and
// BeginClose makes a timer/manual race close exactly once.
func (g *Game) closeRound(ctx context.Context, gen uint64) error {
	g.mu.Lock()
	round := g.round
	if g.phase != sessionActive || round == nil || gen != g.gen {
		g.mu.Unlock()
		return nil
	}
	if !round.BeginClose() {
		g.mu.Unlock()
		return nil
	}
	answers := round.Answers()
	quizID := g.quiz.ID
	instanceID := g.instanceID
	correct := round.Question.Correct
	questionID := round.Question.ID
	g.mu.Unlock()

	result := ScoreRound(answers, correct, g.logger)

	batch := make([]domain.Response, 0, len(answers))
	for _, a := range answers {
		pts, scored := result.Points[a.UserID]
		if !scored {
			continue
		}
		batch = append(batch, domain.Response{
			InstanceID: instanceID,
			QuizID:     quizID,
			QuestionID: questionID,
			UserID:     a.UserID,
			Option:     a.Option,
			MarginMs:   a.MarginMs,
			Points:     pts,
			Correct:    a.Option == correct,
		})
	}

	// The write may suspend; a concurrent deactivate or takeover can discard
	// the round meanwhile, so everything below re-checks it.
	persistErr := g.store.SaveResponses(ctx, batch)

	g.mu.Lock()
	if g.round != round {
		g.mu.Unlock()
		g.logger.Warn("round discarded while closing", zap.String("question_id", questionID))
		g.applyDeferredMerges(ctx)
		return nil
	}
	round.CancelTimer()
	for userID, pts := range result.Points {
		g.scores[userID] += pts
	}
	cumulative := g.standingsLocked()
	round.FinishClose()
	g.round = nil
	g.mu.Unlock()

	g.logger.Info("round closed",
		zap.String("question_id", questionID),
		zap.Int("answers", len(answers)),
		zap.Bool("degraded", persistErr != nil))
	g.gateway.Broadcast(domain.EventRoundEnd, domain.RoundEndEvent{
		Leaderboard:      result.Leaderboard,
		CumulativeScores: cumulative,
		CorrectOption:    correct,
		VoteCounts:       result.Votes,
	})
	g.applyDeferredMerges(ctx)

	if persistErr != nil {
		g.logger.Error("persist round responses", zap.Error(persistErr))
		return fmt.Errorf("%w: %v", domain.ErrDegradedClose, persistErr)
	}
	return nil
}

// applyDeferredMerges runs the merges parked while the close was persisting.
// The round is gone by now, so each one takes the normal durable-first path.
func (g *Game) applyDeferredMerges(ctx context.Context) {
	g.mu.Lock()
	pending := g.deferredMerges
	g.deferredMerges = nil
	g.mu.Unlock()

	for _, m := range pending {
		if err := g.MergeIdentity(ctx, m.anonKey, m.authKey); err != nil {
			g.logger.Error("deferred identity merge failed",
				zap.String("anon_key", m.anonKey),
				zap.String("auth_key", m.authKey),
				zap.Error(err))
		}
	}
}

func (g *Game) liveUpdateLocked(round *Round) domain.LiveRoundUpdateEvent {
	partial := ScoreRound(round.Answers(), round.Question.Correct, g.logger)
	return domain.LiveRoundUpdateEvent{
		PartialLeaderboard: partial.Leaderboard,
		VoteCounts:         partial.Votes,
		Received:           round.Received(),
		Expected:           round.Expected,
	}
}

// standingsLocked snapshots cumulative scores ordered by points descending,
// ties by display name.
func (g *Game) standingsLocked() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(g.scores))
	for userID, pts := range g.scores {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      userID,
			DisplayName: g.names[userID],
			Points:      pts,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return entries
}

func (g *Game) resetLocked() {
	g.phase = sessionIdle
	g.quiz = domain.QuizContent{}
	g.instanceID = ""
	g.next = 0
	g.scores = make(map[string]int)
	g.names = make(map[string]string)
	g.round = nil
	g.gen++
}
