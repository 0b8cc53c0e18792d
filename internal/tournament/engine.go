// Package tournament runs head-to-head and multi-agent competitions and
// updates competitive ratings through the registry.
//
// Every format reduces to rounds of pairwise comparisons. Independent
// pairings within a round are judged concurrently; the engine joins all
// results at a barrier before applying any rating delta for that round,
// so a match's zero-sum property never depends on judging order. A judge
// timeout or error makes that pairing inconclusive: zero deltas for both
// sides and no effect on ranking-by-wins.
package tournament

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/burrow"
)

// Judge is the external collaborator that compares candidate outputs.
// Compare returns the winning agent ID (empty for a draw); Score rates a
// single participant against the task, used by the free-for-all format.
type Judge interface {
	Compare(ctx context.Context, agentA, agentB, task string) (Comparison, error)
	Score(ctx context.Context, agentID, task string) (float64, error)
}

// Comparison is a judge's verdict on one pairing.
type Comparison struct {
	Winner string  // Agent ID, or empty for a draw
	Margin float64 // Optional numeric margin, informational only
}

// StageSpec configures one stage of a multi-stage tournament.
type StageSpec struct {
	Format      burrow.TournamentFormat
	SwissRounds int // Only meaningful for the swiss format; 0 means ceil(log2(N))
}

// Engine runs tournaments against a shared registry. The engine itself
// is stateless between runs; it reads ratings for seeding and writes
// deltas back only after a match fully resolves.
type Engine struct {
	registry     *registry.Registry
	judge        Judge
	kFactor      float64
	judgeTimeout time.Duration
	swissRounds  int // 0 means ceil(log2(N))
	stages       []StageSpec
}

// Option configures an Engine.
type Option func(*Engine)

// WithKFactor overrides the ELO K-factor.
func WithKFactor(k float64) Option {
	return func(e *Engine) { e.kFactor = k }
}

// WithJudgeTimeout bounds each judge call. A bound exceeded converts the
// pairing to inconclusive rather than propagating a raw timeout.
func WithJudgeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.judgeTimeout = d }
}

// WithSwissRounds fixes the number of swiss rounds.
func WithSwissRounds(n int) Option {
	return func(e *Engine) { e.swissRounds = n }
}

// WithStages configures the stage sequence used by the multi-stage
// format. Defaults to round-robin groups followed by a single-elimination
// final.
func WithStages(stages []StageSpec) Option {
	return func(e *Engine) { e.stages = stages }
}

// NewEngine creates a tournament engine.
func NewEngine(reg *registry.Registry, judge Judge, opts ...Option) *Engine {
	e := &Engine{
		registry:     reg,
		judge:        judge,
		kFactor:      DefaultKFactor,
		judgeTimeout: 30 * time.Second,
		stages: []StageSpec{
			{Format: burrow.FormatRoundRobin},
			{Format: burrow.FormatSingleElimination},
		},
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one tournament and applies the resulting rating deltas.
// Participants must be registered agents; inactive agents may still
// compete (deactivation only affects bandit selection).
//
// On cancellation the partial match computed so far is returned together
// with burrow.ErrCancelled; deltas already applied at completed round
// barriers are not rolled back.
func (e *Engine) Run(ctx context.Context, format burrow.TournamentFormat, domain, task string, participants []string) (*burrow.TournamentMatch, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: tournament needs at least 2 participants, got %d", burrow.ErrNoCandidates, len(participants))
	}
	for _, id := range participants {
		if _, err := e.registry.Get(id); err != nil {
			return nil, err
		}
	}

	match := &burrow.TournamentMatch{
		Format:       format,
		Domain:       domain,
		Task:         task,
		Participants: append([]string(nil), participants...),
		Scores:       make(map[string]float64),
		RatingDeltas: make(map[string]float64),
	}

	log.Printf("[Tournament] Running %s: %d participants, domain=%s", format, len(participants), domain)

	var err error
	switch format {
	case burrow.FormatFreeForAll:
		err = e.runFreeForAll(ctx, match)
	case burrow.FormatSingleElimination:
		err = e.runSingleElimination(ctx, match, participants)
	case burrow.FormatRoundRobin:
		err = e.runRoundRobin(ctx, match, participants)
	case burrow.FormatSwiss:
		err = e.runSwiss(ctx, match, participants, e.swissRoundCount(len(participants)))
	case burrow.FormatMultiStage:
		err = e.runMultiStage(ctx, match, participants)
	}

	if err != nil {
		return match, err
	}

	log.Printf("[Tournament] %s complete: winner=%s, %d inconclusive pairings",
		format, first(match.Ranking), match.Inconclusive)
	return match, nil
}

// pairing is one scheduled comparison within a round.
type pairing struct {
	agentA, agentB string
}

// judged is the resolved outcome of one pairing.
type judged struct {
	pair         pairing
	winner       string // Empty for draw or inconclusive
	draw         bool
	inconclusive bool
}

// playRound judges all pairings of one round concurrently, joins the
// results, then computes and applies the ELO deltas for the round in one
// batch. This is the synchronization barrier between rounds.
func (e *Engine) playRound(ctx context.Context, match *burrow.TournamentMatch, round int, pairs []pairing) ([]judged, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: before round %d", burrow.ErrCancelled, round)
	default:
	}

	results := make([]judged, len(pairs))
	var wg sync.WaitGroup

	for i, p := range pairs {
		wg.Add(1)
		go func(i int, p pairing) {
			defer wg.Done()
			results[i] = e.judgePair(ctx, p, match.Task)
		}(i, p)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Joined, but cancelled mid-round: discard the round entirely so
		// no partial deltas are applied
		return nil, fmt.Errorf("%w: during round %d", burrow.ErrCancelled, round)
	}

	// Ratings are read once per pairing, after the barrier, so the
	// round's deltas are independent of judging order
	for _, res := range results {
		pr := burrow.PairResult{
			Round:        round,
			AgentA:       res.pair.agentA,
			AgentB:       res.pair.agentB,
			Winner:       res.winner,
			Draw:         res.draw,
			Inconclusive: res.inconclusive,
		}

		if res.inconclusive {
			match.Inconclusive++
			match.Pairs = append(match.Pairs, pr)
			continue
		}

		statsA, _ := e.registry.GetStats(res.pair.agentA, match.Domain)
		statsB, _ := e.registry.GetStats(res.pair.agentB, match.Domain)

		actualA := 0.5
		switch res.winner {
		case res.pair.agentA:
			actualA = 1
		case res.pair.agentB:
			actualA = 0
		}

		pr.DeltaA, pr.DeltaB = eloDeltas(e.kFactor, statsA.Rating, statsB.Rating, actualA)
		match.Pairs = append(match.Pairs, pr)

		match.RatingDeltas[res.pair.agentA] += pr.DeltaA
		match.RatingDeltas[res.pair.agentB] += pr.DeltaB

		if err := e.registry.ApplyRatingDelta(res.pair.agentA, match.Domain, pr.DeltaA); err != nil {
			return nil, fmt.Errorf("failed to apply rating delta: %w", err)
		}
		if err := e.registry.ApplyRatingDelta(res.pair.agentB, match.Domain, pr.DeltaB); err != nil {
			return nil, fmt.Errorf("failed to apply rating delta: %w", err)
		}
	}

	return results, nil
}

// judgePair runs one time-bounded judge call. Any judge error or timeout
// yields an inconclusive result; agents are not penalized.
func (e *Engine) judgePair(ctx context.Context, p pairing, task string) judged {
	judgeCtx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
	defer cancel()

	cmp, err := e.judge.Compare(judgeCtx, p.agentA, p.agentB, task)
	if err != nil {
		log.Printf("[Tournament] Inconclusive pairing %s vs %s: %v", p.agentA, p.agentB, err)
		return judged{pair: p, inconclusive: true}
	}

	switch cmp.Winner {
	case p.agentA, p.agentB:
		return judged{pair: p, winner: cmp.Winner}
	case "":
		return judged{pair: p, draw: true}
	default:
		log.Printf("[Tournament] WARN: judge named non-participant %q for %s vs %s, treating as inconclusive",
			cmp.Winner, p.agentA, p.agentB)
		return judged{pair: p, inconclusive: true}
	}
}

// runFreeForAll scores every participant once against the same task,
// concurrently, and ranks by score. ELO deltas are derived from the
// implied pairwise outcomes and aggregate additively.
func (e *Engine) runFreeForAll(ctx context.Context, match *burrow.TournamentMatch) error {
	type scored struct {
		agentID string
		score   float64
		failed  bool
	}

	results := make([]scored, len(match.Participants))
	var wg sync.WaitGroup

	for i, id := range match.Participants {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			judgeCtx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
			defer cancel()

			score, err := e.judge.Score(judgeCtx, id, match.Task)
			if err != nil {
				log.Printf("[Tournament] Score failed for %s: %v", id, err)
				results[i] = scored{agentID: id, failed: true}
				return
			}
			results[i] = scored{agentID: id, score: score}
		}(i, id)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: free-for-all scoring", burrow.ErrCancelled)
	}

	// Implied pairwise outcomes between successfully scored participants
	var pairs []judged
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i], results[j]
			p := pairing{agentA: a.agentID, agentB: b.agentID}

			if a.failed || b.failed {
				pairs = append(pairs, judged{pair: p, inconclusive: true})
				continue
			}

			switch {
			case a.score > b.score:
				pairs = append(pairs, judged{pair: p, winner: a.agentID})
			case b.score > a.score:
				pairs = append(pairs, judged{pair: p, winner: b.agentID})
			default:
				pairs = append(pairs, judged{pair: p, draw: true})
			}
		}
	}

	e.applyResolved(match, 1, pairs)

	for _, res := range results {
		if !res.failed {
			match.Scores[res.agentID] = res.score
		}
	}

	match.Ranking = rankByScore(match.Scores, e.ratingTieBreak(match.Domain))
	return nil
}

// applyResolved records already-judged pairings (free-for-all's implied
// comparisons) and applies their deltas in one batch.
func (e *Engine) applyResolved(match *burrow.TournamentMatch, round int, pairs []judged) {
	// Read each participant's rating once so the aggregated deltas do
	// not depend on pairing order
	ratings := make(map[string]float64, len(match.Participants))
	for _, id := range match.Participants {
		stats, _ := e.registry.GetStats(id, match.Domain)
		ratings[id] = stats.Rating
	}

	for _, res := range pairs {
		pr := burrow.PairResult{
			Round:        round,
			AgentA:       res.pair.agentA,
			AgentB:       res.pair.agentB,
			Winner:       res.winner,
			Draw:         res.draw,
			Inconclusive: res.inconclusive,
		}

		if res.inconclusive {
			match.Inconclusive++
			match.Pairs = append(match.Pairs, pr)
			continue
		}

		actualA := 0.5
		switch res.winner {
		case res.pair.agentA:
			actualA = 1
		case res.pair.agentB:
			actualA = 0
		}

		pr.DeltaA, pr.DeltaB = eloDeltas(e.kFactor, ratings[res.pair.agentA], ratings[res.pair.agentB], actualA)
		match.Pairs = append(match.Pairs, pr)
		match.RatingDeltas[res.pair.agentA] += pr.DeltaA
		match.RatingDeltas[res.pair.agentB] += pr.DeltaB
	}

	for agentID, delta := range match.RatingDeltas {
		if err := e.registry.ApplyRatingDelta(agentID, match.Domain, delta); err != nil {
			log.Printf("[Tournament] WARN: failed to apply delta for %s: %v", agentID, err)
		}
	}
}

// runSingleElimination seeds by current rating (highest vs lowest),
// removes losers each round, and gives byes to the highest seed on odd
// counts. Ranking is by elimination depth: the champion first, then
// agents eliminated in later rounds before earlier ones.
func (e *Engine) runSingleElimination(ctx context.Context, match *burrow.TournamentMatch, participants []string) error {
	alive := e.seedByRating(match.Domain, participants)
	eliminatedAt := make(map[string]int)
	round := 0

	for len(alive) > 1 {
		round++

		// Highest seed gets the bye on odd counts
		var bye string
		if len(alive)%2 == 1 {
			bye = alive[0]
			alive = alive[1:]
		}

		// Pair highest remaining vs lowest remaining
		pairs := make([]pairing, 0, len(alive)/2)
		for i := 0; i < len(alive)/2; i++ {
			pairs = append(pairs, pairing{agentA: alive[i], agentB: alive[len(alive)-1-i]})
		}

		results, err := e.playRound(ctx, match, round, pairs)
		if err != nil {
			return err
		}

		var next []string
		if bye != "" {
			next = append(next, bye)
		}

		for _, res := range results {
			winner, loser := res.pair.agentA, res.pair.agentB

			// Draws and inconclusive pairings advance the higher seed;
			// a bracket needs exactly one survivor per pairing
			if res.winner == res.pair.agentB {
				winner, loser = res.pair.agentB, res.pair.agentA
			}

			next = append(next, winner)
			eliminatedAt[loser] = round
		}

		alive = e.seedByRating(match.Domain, next)
	}

	if len(alive) == 1 {
		match.Ranking = append(match.Ranking, alive[0])
	}

	// Later eliminations rank higher; ties within a round break by rating
	remaining := make([]string, 0, len(eliminatedAt))
	for id := range eliminatedAt {
		remaining = append(remaining, id)
	}
	tieBreak := e.ratingTieBreak(match.Domain)
	sort.Slice(remaining, func(i, j int) bool {
		if eliminatedAt[remaining[i]] != eliminatedAt[remaining[j]] {
			return eliminatedAt[remaining[i]] > eliminatedAt[remaining[j]]
		}
		return tieBreak(remaining[i], remaining[j])
	})
	match.Ranking = append(match.Ranking, remaining...)

	for _, res := range match.Pairs {
		if res.Winner != "" {
			match.Scores[res.Winner]++
		}
	}
	return nil
}

// runRoundRobin plays every pair once. All pairings are independent, so
// the whole schedule dispatches as a single concurrent round. Ranking is
// by total wins, ties broken by rating.
func (e *Engine) runRoundRobin(ctx context.Context, match *burrow.TournamentMatch, participants []string) error {
	var pairs []pairing
	for i := 0; i < len(participants); i++ {
		for j := i + 1; j < len(participants); j++ {
			pairs = append(pairs, pairing{agentA: participants[i], agentB: participants[j]})
		}
	}

	results, err := e.playRound(ctx, match, 1, pairs)
	if err != nil {
		return err
	}

	wins := make(map[string]float64, len(participants))
	for _, id := range participants {
		wins[id] = 0
	}
	for _, res := range results {
		if res.winner != "" {
			wins[res.winner]++
		}
	}

	match.Scores = wins
	match.Ranking = rankByScore(wins, e.ratingTieBreak(match.Domain))
	return nil
}

// runSwiss pairs agents with similar running scores each round for a
// fixed number of rounds. Round one seeds by rating; subsequent rounds
// sort by score and pair adjacent agents.
func (e *Engine) runSwiss(ctx context.Context, match *burrow.TournamentMatch, participants []string, rounds int) error {
	score := make(map[string]float64, len(participants))
	for _, id := range participants {
		score[id] = 0
	}

	order := e.seedByRating(match.Domain, participants)
	tieBreak := e.ratingTieBreak(match.Domain)

	for round := 1; round <= rounds; round++ {
		// Pair adjacent agents in the current standing; the odd agent
		// out sits the round and takes a free half point
		pairs := make([]pairing, 0, len(order)/2)
		for i := 0; i+1 < len(order); i += 2 {
			pairs = append(pairs, pairing{agentA: order[i], agentB: order[i+1]})
		}
		if len(order)%2 == 1 {
			score[order[len(order)-1]] += 0.5
		}

		results, err := e.playRound(ctx, match, round, pairs)
		if err != nil {
			return err
		}

		for _, res := range results {
			switch {
			case res.inconclusive:
				// Excluded from standings
			case res.draw:
				score[res.pair.agentA] += 0.5
				score[res.pair.agentB] += 0.5
			default:
				score[res.winner]++
			}
		}

		order = rankByScore(score, tieBreak)
	}

	match.Scores = score
	match.Ranking = order
	return nil
}

// runMultiStage runs the configured stage sequence, carrying the top
// half of each stage's ranking (minimum 2) into the next.
func (e *Engine) runMultiStage(ctx context.Context, match *burrow.TournamentMatch, participants []string) error {
	field := participants

	for i, stage := range e.stages {
		if len(field) < 2 {
			break
		}

		stageMatch := &burrow.TournamentMatch{
			Format:       stage.Format,
			Domain:       match.Domain,
			Task:         match.Task,
			Participants: field,
			Scores:       make(map[string]float64),
			RatingDeltas: make(map[string]float64),
		}

		var err error
		switch stage.Format {
		case burrow.FormatFreeForAll:
			err = e.runFreeForAll(ctx, stageMatch)
		case burrow.FormatRoundRobin:
			err = e.runRoundRobin(ctx, stageMatch, field)
		case burrow.FormatSingleElimination:
			err = e.runSingleElimination(ctx, stageMatch, field)
		case burrow.FormatSwiss:
			rounds := stage.SwissRounds
			if rounds <= 0 {
				rounds = e.swissRoundCount(len(field))
			}
			err = e.runSwiss(ctx, stageMatch, field, rounds)
		default:
			err = fmt.Errorf("multi-stage cannot nest format %q", stage.Format)
		}

		// Fold the stage into the aggregate match before error handling
		// so cancellation still returns partial results
		match.Pairs = append(match.Pairs, stageMatch.Pairs...)
		match.Inconclusive += stageMatch.Inconclusive
		for id, d := range stageMatch.RatingDeltas {
			match.RatingDeltas[id] += d
		}
		match.Ranking = stageMatch.Ranking

		if err != nil {
			return err
		}

		log.Printf("[Tournament] Stage %d (%s) complete: %d -> %d participants",
			i+1, stage.Format, len(field), advanceCount(len(stageMatch.Ranking)))

		field = stageMatch.Ranking[:advanceCount(len(stageMatch.Ranking))]
	}

	return nil
}

// seedByRating sorts agents by current domain rating, highest first.
// Equal ratings keep the supplied order (stable), so seeding is
// deterministic.
func (e *Engine) seedByRating(domain string, agents []string) []string {
	seeded := append([]string(nil), agents...)
	rating := make(map[string]float64, len(agents))
	for _, id := range agents {
		stats, _ := e.registry.GetStats(id, domain)
		rating[id] = stats.Rating
	}

	sort.SliceStable(seeded, func(i, j int) bool {
		return rating[seeded[i]] > rating[seeded[j]]
	})
	return seeded
}

// ratingTieBreak returns a deterministic less-func: higher rating first,
// then lexicographic agent ID.
func (e *Engine) ratingTieBreak(domain string) func(a, b string) bool {
	return func(a, b string) bool {
		statsA, _ := e.registry.GetStats(a, domain)
		statsB, _ := e.registry.GetStats(b, domain)
		if statsA.Rating != statsB.Rating {
			return statsA.Rating > statsB.Rating
		}
		return a < b
	}
}

func (e *Engine) swissRoundCount(n int) int {
	if e.swissRounds > 0 {
		return e.swissRounds
	}
	return int(math.Ceil(math.Log2(float64(n))))
}

// rankByScore sorts agent IDs by descending score with a tie-break.
func rankByScore(scores map[string]float64, tieBreak func(a, b string) bool) []string {
	ranked := make([]string, 0, len(scores))
	for id := range scores {
		ranked = append(ranked, id)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return tieBreak(ranked[i], ranked[j])
	})
	return ranked
}

func advanceCount(n int) int {
	half := (n + 1) / 2
	if half < 2 {
		half = min(2, n)
	}
	return half
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func first(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
