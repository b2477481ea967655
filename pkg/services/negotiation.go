package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/events"
	"github.com/concord-io/concord/pkg/graph"
	"github.com/concord-io/concord/pkg/locks"
	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/notify"
	"github.com/concord-io/concord/pkg/oracle"
	"github.com/concord-io/concord/pkg/repository"
)

// Stable option identifiers. Options keep the same identity across rounds
// so votes from different rounds are comparable.
const (
	optionReslot  = "opt-reslot"
	optionVirtual = "opt-virtual"
	optionDefer   = "opt-defer"
)

// ResolutionApplier applies a structured resolution to the live schedule.
// The scheduler implements it; the coordinator stays ignorant of cascade
// mechanics and locking details.
type ResolutionApplier interface {
	ApplyResolution(ctx context.Context, res *models.Resolution) ([]models.ChangeRecord, error)
}

// CoordinatorConfig bounds every negotiation session.
type CoordinatorConfig struct {
	// MaxRounds is the hard ceiling on proposal rounds. Zero means the
	// default of 4.
	MaxRounds int
	// SessionBudget is the wall-clock allowance per session; a breach at
	// round start forces escalation. Zero means 10 minutes.
	SessionBudget time.Duration
	// ReslotBuffer is the gap inserted between an anchor item and a
	// re-slotted mover. Zero means 15 minutes.
	ReslotBuffer time.Duration
	// RequireApproval defers every consensus outcome to a human approval
	// step instead of applying it immediately.
	RequireApproval bool
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 4
	}
	if c.SessionBudget <= 0 {
		c.SessionBudget = 10 * time.Minute
	}
	if c.ReslotBuffer <= 0 {
		c.ReslotBuffer = 15 * time.Minute
	}
	return c
}

// NegotiationCoordinator drives conflicts toward resolution through the
// bounded round protocol.
type NegotiationCoordinator interface {
	// Initiate opens a session for a conflict, or returns the existing
	// non-terminal session for it.
	Initiate(ctx context.Context, conflictID uuid.UUID) (*models.NegotiationSession, error)
	// RunRound executes one full proposal/evaluation round.
	RunRound(ctx context.Context, sessionID uuid.UUID) (*models.NegotiationSession, error)
	// RunToCompletion runs rounds until the session reaches a terminal state.
	RunToCompletion(ctx context.Context, sessionID uuid.UUID) (*models.NegotiationSession, error)
	// ApplyPendingResolution applies a consensus outcome that was parked for
	// human approval.
	ApplyPendingResolution(ctx context.Context, sessionID uuid.UUID) (*models.NegotiationSession, error)
	// RejectPendingResolution discards a parked outcome and escalates.
	RejectPendingResolution(ctx context.Context, sessionID uuid.UUID, reason string) (*models.NegotiationSession, error)
	// Escalate forces a session to the Escalated terminal state.
	Escalate(ctx context.Context, sessionID uuid.UUID, reason string) (*models.NegotiationSession, error)
}

type negotiationCoordinator struct {
	BaseService
	coordCfg CoordinatorConfig
	graph    *graph.Graph
	store    repository.Store
	oracle   oracle.ReasoningOracle
	scorer   *PriorityScorer
	applier  ResolutionApplier
	locks    locks.Manager
	notifier notify.Notifier
}

// NewNegotiationCoordinator wires the coordinator. The applier is required;
// oracle and notifier may be nil and degrade to abstention and silence.
func NewNegotiationCoordinator(
	config ServiceConfig,
	coordCfg CoordinatorConfig,
	bus events.Bus,
	g *graph.Graph,
	store repository.Store,
	reasoner oracle.ReasoningOracle,
	scorer *PriorityScorer,
	applier ResolutionApplier,
	lockMgr locks.Manager,
	notifier notify.Notifier,
) NegotiationCoordinator {
	return &negotiationCoordinator{
		BaseService: NewBaseService(config, bus),
		coordCfg:    coordCfg.withDefaults(),
		graph:       g,
		store:       store,
		oracle:      reasoner,
		scorer:      scorer,
		applier:     applier,
		locks:       lockMgr,
		notifier:    notifier,
	}
}

// Initiate implements NegotiationCoordinator.
func (n *negotiationCoordinator) Initiate(ctx context.Context, conflictID uuid.UUID) (*models.NegotiationSession, error) {
	ctx, span := n.config.Tracer(ctx, "negotiation.initiate")
	defer span.End()

	conflict, err := n.store.Conflicts().Get(ctx, conflictID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load conflict")
	}
	if conflict.Status == models.ConflictStatusResolved || conflict.Status == models.ConflictStatusEscalated {
		return nil, errors.Wrapf(models.ErrSessionClosed, "conflict %s already %s", conflictID, conflict.Status)
	}

	if existing, err := n.store.Sessions().GetByConflict(ctx, conflictID); err == nil && !existing.State.Terminal() {
		return existing, nil
	}

	parties := n.partiesFor(conflict)
	now := time.Now().UTC()
	session := &models.NegotiationSession{
		ID:         uuid.New(),
		ConflictID: conflictID,
		Parties:    parties,
		State:      models.SessionStateProposing,
		Round:      1,
		MaxRounds:  n.coordCfg.MaxRounds,
		Deadline:   now.Add(n.coordCfg.SessionBudget),
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if err := n.store.Sessions().Create(ctx, session); err != nil {
		return nil, errors.Wrap(err, "failed to create negotiation session")
	}

	conflict.Status = models.ConflictStatusNegotiating
	conflict.UpdatedAt = now
	conflict.Version++
	if err := n.store.Conflicts().Update(ctx, conflict); err != nil {
		return nil, errors.Wrap(err, "failed to mark conflict negotiating")
	}

	n.config.Logger.Info("negotiation initiated", map[string]interface{}{
		"session_id":  session.ID,
		"conflict_id": conflictID,
		"parties":     len(parties),
		"max_rounds":  session.MaxRounds,
	})
	return session, nil
}

// RunRound implements NegotiationCoordinator.
func (n *negotiationCoordinator) RunRound(ctx context.Context, sessionID uuid.UUID) (*models.NegotiationSession, error) {
	ctx, span := n.config.Tracer(ctx, "negotiation.run_round")
	defer span.End()

	session, err := n.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if session.State.Terminal() {
		return nil, errors.Wrapf(models.ErrSessionClosed, "session %s is %s", sessionID, session.State)
	}
	if time.Now().UTC().After(session.Deadline) {
		return n.escalateSession(ctx, session, "wall-clock budget exhausted")
	}

	conflict, err := n.store.Conflicts().Get(ctx, session.ConflictID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load conflict for session")
	}
	items := n.involvedItems(conflict)

	round := models.NegotiationRound{Number: session.Round}
	if prev := session.CurrentRound(); prev != nil {
		round.Guidance = summarizeRound(prev)
	}

	options := n.compromiseOptions(conflict, items)
	if len(options) > 0 {
		round.Proposals = n.voteOnOptions(session, options, items)
	} else {
		round.Proposals = n.freeFormProposals(ctx, session, conflict, round.Guidance)
	}
	session.Rounds = append(session.Rounds, round)
	session.State = models.SessionStateEvaluating

	outcome := n.evaluate(ctx, session, options)
	switch {
	case outcome.consensus && outcome.resolution != nil:
		return n.settle(ctx, session, conflict, outcome.resolution)
	case outcome.consensus:
		// Converged on a free-text outcome: nothing structured to apply,
		// park it for a human to enact.
		return n.park(ctx, session, conflict, nil)
	case session.Round >= session.MaxRounds:
		return n.escalateSession(ctx, session, "round ceiling reached without consensus")
	default:
		session.Round++
		session.State = models.SessionStateProposing
		if err := n.saveSession(ctx, session); err != nil {
			return nil, err
		}
		n.config.Logger.Debug("round completed without consensus", map[string]interface{}{
			"session_id": session.ID,
			"next_round": session.Round,
		})
		return session, nil
	}
}

// RunToCompletion implements NegotiationCoordinator.
func (n *negotiationCoordinator) RunToCompletion(ctx context.Context, sessionID uuid.UUID) (*models.NegotiationSession, error) {
	var session *models.NegotiationSession
	// The round ceiling guarantees termination; the extra headroom covers
	// the budget-breach escalation path.
	for i := 0; i < n.coordCfg.MaxRounds+1; i++ {
		var err error
		session, err = n.RunRound(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.State.Terminal() {
			return session, nil
		}
	}
	return session, errors.Errorf("session %s failed to terminate within round ceiling", sessionID)
}

// ApplyPendingResolution implements NegotiationCoordinator.
func (n *negotiationCoordinator) ApplyPendingResolution(ctx context.Context, sessionID uuid.UUID) (*models.NegotiationSession, error) {
	ctx, span := n.config.Tracer(ctx, "negotiation.apply_pending")
	defer span.End()

	session, err := n.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if session.State != models.SessionStatePendingApproval {
		return nil, errors.Wrapf(models.ErrSessionClosed, "session %s is %s, not pending approval", sessionID, session.State)
	}
	conflict, err := n.store.Conflicts().Get(ctx, session.ConflictID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load conflict for session")
	}

	res := session.PendingResolution
	if res != nil {
		if err := n.applyWithRetry(ctx, session, res); err != nil {
			return nil, err
		}
	}
	return n.resolve(ctx, session, conflict, res)
}

// RejectPendingResolution implements NegotiationCoordinator.
func (n *negotiationCoordinator) RejectPendingResolution(ctx context.Context, sessionID uuid.UUID, reason string) (*models.NegotiationSession, error) {
	session, err := n.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if session.State != models.SessionStatePendingApproval {
		return nil, errors.Wrapf(models.ErrSessionClosed, "session %s is %s, not pending approval", sessionID, session.State)
	}
	session.PendingResolution = nil
	return n.escalateSession(ctx, session, "pending resolution rejected: "+reason)
}

// Escalate implements NegotiationCoordinator.
func (n *negotiationCoordinator) Escalate(ctx context.Context, sessionID uuid.UUID, reason string) (*models.NegotiationSession, error) {
	session, err := n.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if session.State.Terminal() {
		return nil, errors.Wrapf(models.ErrSessionClosed, "session %s is %s", sessionID, session.State)
	}
	return n.escalateSession(ctx, session, reason)
}

// --- round mechanics ---

// roundOutcome carries the evaluation verdict for one round.
type roundOutcome struct {
	consensus  bool
	resolution *models.Resolution
}

// voteOnOptions records each party's vote among the generated options.
// A party whose own item is the mover holds out for the less disruptive
// keep-the-slot option in round 1, then concedes to the ranked-first option.
func (n *negotiationCoordinator) voteOnOptions(session *models.NegotiationSession, options []models.ProposalOption, items []*models.ScheduledItem) []models.Proposal {
	moverParty := ""
	if len(options) > 0 && options[0].Resolution != nil {
		for _, it := range items {
			if it.ID == options[0].Resolution.ItemID {
				moverParty = it.OwnerParty
			}
		}
	}

	proposals := make([]models.Proposal, 0, len(session.Parties))
	for _, party := range session.Parties {
		choice := options[0]
		if session.Round == 1 && party == moverParty && len(options) > 1 {
			choice = options[1]
		}
		proposals = append(proposals, models.Proposal{
			Party:      party,
			OptionID:   choice.ID,
			Summary:    choice.Description,
			Resolution: choice.Resolution,
		})
	}
	return proposals
}

// freeFormProposals collects one oracle-drafted proposal per party. Any
// generation failure becomes an abstention for that party, never a
// protocol failure.
func (n *negotiationCoordinator) freeFormProposals(ctx context.Context, session *models.NegotiationSession, conflict *models.Conflict, guidance string) []models.Proposal {
	prior := priorSummaries(session)
	proposals := make([]models.Proposal, 0, len(session.Parties))
	for _, party := range session.Parties {
		text, err := n.oracleFor().Propose(ctx, oracle.ProposeRequest{
			Party:          party,
			ConflictType:   string(conflict.Type),
			Description:    conflict.Description,
			PriorProposals: prior,
			Guidance:       guidance,
		})
		if err != nil {
			n.config.Logger.Warn("proposal generation failed, recording abstention", map[string]interface{}{
				"session_id": session.ID,
				"party":      party,
				"error":      err.Error(),
			})
			n.config.Metrics.IncrementCounter("negotiation_abstentions", 1)
			proposals = append(proposals, models.Proposal{Party: party, Abstained: true})
			continue
		}
		proposals = append(proposals, models.Proposal{Party: party, Summary: text})
	}
	return proposals
}

// evaluate decides whether the latest round reached consensus.
func (n *negotiationCoordinator) evaluate(ctx context.Context, session *models.NegotiationSession, options []models.ProposalOption) roundOutcome {
	round := session.CurrentRound()
	if round == nil {
		return roundOutcome{}
	}

	active := make([]models.Proposal, 0, len(round.Proposals))
	for _, p := range round.Proposals {
		if !p.Abstained {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return roundOutcome{}
	}

	// A single party proposing one concrete fix is consensus by definition.
	if len(session.Parties) == 1 {
		p := active[0]
		if p.Resolution != nil {
			return roundOutcome{consensus: true, resolution: p.Resolution}
		}
		if p.Summary != "" {
			return roundOutcome{consensus: true}
		}
		return roundOutcome{}
	}

	if len(options) > 0 {
		votes := make(map[string]int)
		for _, p := range active {
			votes[p.OptionID]++
		}
		for _, opt := range options {
			if votes[opt.ID]*2 > len(session.Parties) {
				return roundOutcome{consensus: true, resolution: opt.Resolution}
			}
		}
		return roundOutcome{}
	}

	// Free-form proposals: ask the oracle whether the latest round converges.
	if len(active) < 2 {
		return roundOutcome{}
	}
	positions := make(map[string]string, len(active))
	for _, p := range active {
		positions[p.Party] = p.Summary
	}
	verdict, err := n.oracleFor().Judge(ctx, oracle.JudgeRequest{
		Question:  oracle.QuestionConvergence,
		Positions: positions,
	})
	if err != nil {
		n.config.Logger.Warn("convergence check failed, treating round as unresolved", map[string]interface{}{
			"session_id": session.ID,
			"error":      err.Error(),
		})
		return roundOutcome{}
	}
	if verdict.Converged {
		round.Guidance = strings.TrimSpace("converged: " + verdict.AgreedProposal)
		return roundOutcome{consensus: true}
	}
	return roundOutcome{}
}

// compromiseOptions builds the deterministic ranked options for a pure
// two-item temporal clash, least disruption first. Non-temporal or
// many-item conflicts return nil and fall back to the oracle.
func (n *negotiationCoordinator) compromiseOptions(conflict *models.Conflict, items []*models.ScheduledItem) []models.ProposalOption {
	if conflict.Type == models.ConflictTypePolicyMisalignment || len(items) != 2 {
		return nil
	}

	mover, anchor := n.pickMover(items[0], items[1])

	reslot := anchor.EndTime().Add(n.coordCfg.ReslotBuffer)
	deferred := mover.StartTime.Add(24 * time.Hour)
	virtual := true

	options := []models.ProposalOption{
		{
			ID:          optionReslot,
			Description: fmt.Sprintf("move %q to %s, immediately after %q", mover.Title, reslot.Format(time.RFC3339), anchor.Title),
			Resolution:  &models.Resolution{Kind: models.ResolutionTimeShift, ItemID: mover.ID, NewStart: &reslot},
		},
	}
	if !mover.Virtual {
		options = append(options, models.ProposalOption{
			ID:          optionVirtual,
			Description: fmt.Sprintf("switch %q to virtual, freeing the contested resource", mover.Title),
			Resolution:  &models.Resolution{Kind: models.ResolutionResourceSwitch, ItemID: mover.ID, Virtual: &virtual},
		})
	}
	options = append(options, models.ProposalOption{
		ID:          optionDefer,
		Description: fmt.Sprintf("defer %q one day to %s", mover.Title, deferred.Format(time.RFC3339)),
		Resolution:  &models.Resolution{Kind: models.ResolutionDefer, ItemID: mover.ID, NewStart: &deferred},
	})
	return options
}

// pickMover designates which item yields. A materially lower priority
// score (more than 2 points) loses; otherwise the later-starting item
// moves, with item identity as the final tie-break.
func (n *negotiationCoordinator) pickMover(a, b *models.ScheduledItem) (mover, anchor *models.ScheduledItem) {
	scoreA, scoreB := n.scorer.Score(a), n.scorer.Score(b)
	switch {
	case scoreA < scoreB-2:
		return a, b
	case scoreB < scoreA-2:
		return b, a
	case a.StartTime.After(b.StartTime):
		return a, b
	case b.StartTime.After(a.StartTime):
		return b, a
	case a.ID.String() > b.ID.String():
		return a, b
	default:
		return b, a
	}
}

// --- terminal transitions ---

// settle applies a structured consensus resolution, or parks it when
// approval is required.
func (n *negotiationCoordinator) settle(ctx context.Context, session *models.NegotiationSession, conflict *models.Conflict, res *models.Resolution) (*models.NegotiationSession, error) {
	if n.coordCfg.RequireApproval {
		return n.park(ctx, session, conflict, res)
	}
	if err := n.applyWithRetry(ctx, session, res); err != nil {
		return nil, err
	}
	return n.resolve(ctx, session, conflict, res)
}

// applyWithRetry applies a resolution under the conflict lock, retrying
// exactly once on an optimistic-concurrency failure.
func (n *negotiationCoordinator) applyWithRetry(ctx context.Context, session *models.NegotiationSession, res *models.Resolution) error {
	release, err := n.locks.Acquire(ctx, "conflict:"+session.ConflictID.String(), 30*time.Second)
	if err != nil {
		return errors.Wrap(err, "failed to acquire conflict lock")
	}
	defer release()

	changes, err := n.applier.ApplyResolution(ctx, res)
	if models.IsStaleState(err) {
		n.config.Logger.Warn("resolution apply hit stale state, reloading and retrying once", map[string]interface{}{
			"session_id": session.ID,
		})
		n.reloadFromStore(ctx, res, changes)
		_, err = n.applier.ApplyResolution(ctx, res)
	}
	return errors.Wrap(err, "failed to apply resolution")
}

// reloadFromStore replaces the graph's view of every item a failed apply
// touched with the stored row. Without this the retry would derive its
// moves from the half-applied in-memory state, see nothing left to do,
// and report success while the store still holds the old schedule.
func (n *negotiationCoordinator) reloadFromStore(ctx context.Context, res *models.Resolution, changes []models.ChangeRecord) {
	ids := []uuid.UUID{res.ItemID}
	for _, change := range changes {
		if change.ItemID != res.ItemID {
			ids = append(ids, change.ItemID)
		}
	}
	for _, id := range ids {
		item, err := n.store.Items().Get(ctx, id)
		if err != nil {
			n.config.Logger.Warn("failed to reload item before retry", map[string]interface{}{
				"item_id": id,
				"error":   err.Error(),
			})
			continue
		}
		n.graph.UpsertItem(item)
	}
}

func (n *negotiationCoordinator) resolve(ctx context.Context, session *models.NegotiationSession, conflict *models.Conflict, res *models.Resolution) (*models.NegotiationSession, error) {
	session.State = models.SessionStateResolved
	session.PendingResolution = nil
	if err := n.saveSession(ctx, session); err != nil {
		return nil, err
	}

	conflict.Status = models.ConflictStatusResolved
	conflict.Resolution = res
	conflict.UpdatedAt = time.Now().UTC()
	conflict.Version++
	if err := n.store.Conflicts().Update(ctx, conflict); err != nil {
		return nil, errors.Wrap(err, "failed to mark conflict resolved")
	}

	n.config.Metrics.IncrementCounterWithLabels("negotiation_sessions_closed", 1, map[string]string{"outcome": "resolved"})
	n.publish(events.EventNegotiationResolved, map[string]interface{}{
		"session_id":  session.ID.String(),
		"conflict_id": conflict.ID.String(),
		"rounds":      session.Round,
	})
	n.dispatch(notify.Notification{
		Kind:     notify.KindResolution,
		Audience: session.Parties,
		Subject:  "conflict resolved",
		Body:     fmt.Sprintf("conflict %s resolved after %d round(s)", conflict.ID, session.Round),
	})
	n.config.Logger.Info("negotiation resolved", map[string]interface{}{
		"session_id": session.ID,
		"rounds":     session.Round,
	})
	return session, nil
}

func (n *negotiationCoordinator) park(ctx context.Context, session *models.NegotiationSession, conflict *models.Conflict, res *models.Resolution) (*models.NegotiationSession, error) {
	session.State = models.SessionStatePendingApproval
	session.PendingResolution = res
	if err := n.saveSession(ctx, session); err != nil {
		return nil, err
	}

	n.config.Metrics.IncrementCounterWithLabels("negotiation_sessions_closed", 1, map[string]string{"outcome": "pending_approval"})
	n.publish(events.EventNegotiationPending, map[string]interface{}{
		"session_id":  session.ID.String(),
		"conflict_id": conflict.ID.String(),
	})
	n.dispatch(notify.Notification{
		Kind:     notify.KindPendingApproval,
		Audience: session.Parties,
		Subject:  "resolution awaiting approval",
		Body:     fmt.Sprintf("conflict %s has a consensus outcome awaiting approval", conflict.ID),
	})
	return session, nil
}

func (n *negotiationCoordinator) escalateSession(ctx context.Context, session *models.NegotiationSession, reason string) (*models.NegotiationSession, error) {
	conflict, err := n.store.Conflicts().Get(ctx, session.ConflictID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load conflict for escalation")
	}
	items := n.involvedItems(conflict)

	session.State = models.SessionStateEscalated
	session.EscalationOptions = n.escalationOptions(conflict, items, session)
	if err := n.saveSession(ctx, session); err != nil {
		return nil, err
	}

	conflict.Status = models.ConflictStatusEscalated
	conflict.UpdatedAt = time.Now().UTC()
	conflict.Version++
	if err := n.store.Conflicts().Update(ctx, conflict); err != nil {
		return nil, errors.Wrap(err, "failed to mark conflict escalated")
	}

	n.config.Metrics.IncrementCounterWithLabels("negotiation_sessions_closed", 1, map[string]string{"outcome": "escalated"})
	n.publish(events.EventNegotiationEscalate, map[string]interface{}{
		"session_id":  session.ID.String(),
		"conflict_id": conflict.ID.String(),
		"reason":      reason,
	})
	n.dispatch(notify.Notification{
		Kind:     notify.KindEscalation,
		Audience: session.Parties,
		Subject:  "negotiation escalated",
		Body:     fmt.Sprintf("conflict %s escalated for human review: %s", conflict.ID, reason),
	})
	n.config.Logger.Warn("negotiation escalated", map[string]interface{}{
		"session_id": session.ID,
		"reason":     reason,
		"options":    len(session.EscalationOptions),
	})
	return session, nil
}

// escalationOptions assembles the short list handed to a human reviewer:
// the structured compromise options when they exist, otherwise the most
// recent concrete proposals, otherwise a lone defer-for-review entry. The
// list is never empty.
func (n *negotiationCoordinator) escalationOptions(conflict *models.Conflict, items []*models.ScheduledItem, session *models.NegotiationSession) models.OptionList {
	if opts := n.compromiseOptions(conflict, items); len(opts) > 0 {
		if len(opts) > 3 {
			opts = opts[:3]
		}
		return opts
	}

	var out models.OptionList
	for i := len(session.Rounds) - 1; i >= 0 && len(out) < 3; i-- {
		for _, p := range session.Rounds[i].Proposals {
			if p.Abstained || p.Summary == "" {
				continue
			}
			out = append(out, models.ProposalOption{
				ID:          fmt.Sprintf("proposal-r%d-%s", session.Rounds[i].Number, p.Party),
				Description: fmt.Sprintf("%s proposed: %s", p.Party, p.Summary),
				Resolution:  p.Resolution,
			})
			if len(out) == 3 {
				break
			}
		}
		if len(out) > 0 {
			break
		}
	}
	if len(out) == 0 {
		out = models.OptionList{{
			ID:          "opt-review",
			Description: "hold all involved items pending human review",
		}}
	}
	return out
}

// --- helpers ---

func (n *negotiationCoordinator) saveSession(ctx context.Context, session *models.NegotiationSession) error {
	session.UpdatedAt = time.Now().UTC()
	session.Version++
	return errors.Wrap(n.store.Sessions().Update(ctx, session), "failed to save session")
}

func (n *negotiationCoordinator) partiesFor(conflict *models.Conflict) models.StringList {
	if len(conflict.Parties) > 0 {
		return append(models.StringList{}, conflict.Parties...)
	}
	seen := make(map[string]bool)
	var parties models.StringList
	for _, it := range n.involvedItems(conflict) {
		if !seen[it.OwnerParty] {
			seen[it.OwnerParty] = true
			parties = append(parties, it.OwnerParty)
		}
	}
	return parties
}

func (n *negotiationCoordinator) involvedItems(conflict *models.Conflict) []*models.ScheduledItem {
	items := make([]*models.ScheduledItem, 0, len(conflict.ItemIDs))
	for _, id := range conflict.ItemIDs {
		if item, err := n.graph.Item(id); err == nil {
			items = append(items, item)
		}
	}
	return items
}

func (n *negotiationCoordinator) oracleFor() oracle.ReasoningOracle {
	if n.oracle == nil {
		return oracle.Unavailable{}
	}
	return n.oracle
}

func (n *negotiationCoordinator) dispatch(notification notify.Notification) {
	if n.notifier == nil {
		return
	}
	n.notifier.Dispatch(notification)
}

// summarizeRound condenses a round into the guidance hint fed to the next
// one.
func summarizeRound(round *models.NegotiationRound) string {
	var parts []string
	for _, p := range round.Proposals {
		switch {
		case p.Abstained:
			parts = append(parts, p.Party+" abstained")
		case p.OptionID != "":
			parts = append(parts, fmt.Sprintf("%s backed %s", p.Party, p.OptionID))
		default:
			parts = append(parts, fmt.Sprintf("%s proposed: %s", p.Party, p.Summary))
		}
	}
	return fmt.Sprintf("round %d outcome: %s", round.Number, strings.Join(parts, "; "))
}

// priorSummaries flattens every earlier round's concrete proposals into
// the context handed to the oracle.
func priorSummaries(session *models.NegotiationSession) []string {
	var out []string
	for _, r := range session.Rounds {
		for _, p := range r.Proposals {
			if !p.Abstained && p.Summary != "" {
				out = append(out, fmt.Sprintf("%s: %s", p.Party, p.Summary))
			}
		}
	}
	return out
}
