package auction

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/buyerclient"
	"github.com/homeprojects/lead-auction-exchange/internal/service/eligibility"
)

// Skip reasons for buyers excluded before the PING fan-out.
const (
	ReasonMissingTrustedForm = "MISSING_TRUSTED_FORM"
	ReasonMissingJornaya     = "MISSING_JORNAYA"
	ReasonPayloadError       = "PAYLOAD_ERROR"
)

// Resolver yields the ranked participant list for a lead.
type Resolver interface {
	Resolve(ctx context.Context, serviceTypeID uuid.UUID, zipCode string, excludeBuyers []uuid.UUID) ([]eligibility.RankedBuyer, []eligibility.Exclusion, error)
}

// Store is the persistence surface the engine runs against. Finalize applies
// the lead's terminal transition, the optional POST transaction row, the
// audit entry and the history row atomically.
type Store interface {
	ClaimLead(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	Finalize(ctx context.Context, l *lead.Lead, postTx *domain.Transaction, audit *domain.ComplianceAuditEntry, history *lead.StatusHistory) error
}

// Engine runs one auction per lead: claim, eligibility, parallel PING,
// ranking, POST delivery with fallback, terminal transition.
type Engine struct {
	store    Store
	resolver Resolver
	client   buyerclient.Client
	slack    time.Duration
	logger   *zap.Logger
}

// NewEngine creates the auction engine. slack is added to the longest
// participant ping timeout to form the global auction deadline.
func NewEngine(store Store, resolver Resolver, client buyerclient.Client, slack time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver,
		client:   client,
		slack:    slack,
		logger:   logger,
	}
}

// skipped records a buyer dropped before PING.
type skipped struct {
	BuyerID uuid.UUID `json:"buyer_id"`
	Reason  string    `json:"reason"`
}

// participant is one buyer entering the fan-out with its payload built.
type participant struct {
	eligibility.RankedBuyer
	pingPayload        json.RawMessage
	complianceIncluded bool
}

// pingOutcome pairs a participant with its persisted-or-pending PING row and
// the valid in-range bid, if any.
type pingOutcome struct {
	participant participant
	tx          *domain.Transaction
	bid         *values.Money
}

// Run executes the auction for one lead and returns its terminal outcome.
// Per-buyer failures never abort the run; only claim and finalize errors do.
func (e *Engine) Run(ctx context.Context, leadID uuid.UUID) (domain.Outcome, error) {
	l, err := e.store.ClaimLead(ctx, leadID)
	if err != nil {
		return domain.Outcome{}, err
	}

	logger := e.logger.With(
		zap.String("lead_id", l.ID.String()),
		zap.String("zip", l.ZipCode))

	ranked, exclusions, err := e.resolver.Resolve(ctx, l.ServiceTypeID, l.ZipCode, nil)
	if err != nil {
		return e.fail(ctx, l, err.Error())
	}

	participants, skips := e.prepare(l, ranked)
	if len(participants) == 0 {
		logger.Info("no eligible buyers",
			zap.Int("excluded", len(exclusions)),
			zap.Int("skipped", len(skips)))
		return e.reject(ctx, l, domain.EventAuctionNoBuyer, domain.ReasonNoEligibleBuyers, map[string]any{
			"exclusions": exclusions,
			"skipped":    skips,
		})
	}

	outcomes := e.fanOut(ctx, l, participants)
	e.persistPings(ctx, outcomes, logger)

	contenders := rankBids(outcomes)
	if len(contenders) == 0 {
		logger.Info("no valid bids", zap.Int("pinged", len(outcomes)))
		return e.reject(ctx, l, domain.EventAuctionNoBids, domain.ReasonNoBids, map[string]any{
			"pinged": len(outcomes),
		})
	}

	return e.deliver(ctx, l, contenders, logger)
}

// prepare validates compliance requirements and builds PING payloads.
func (e *Engine) prepare(l *lead.Lead, ranked []eligibility.RankedBuyer) ([]participant, []skipped) {
	var participants []participant
	var skips []skipped
	for _, rb := range ranked {
		if rb.Config.RequiresTrustedForm && l.Compliance.TrustedFormCertURL == "" {
			skips = append(skips, skipped{BuyerID: rb.Buyer.ID, Reason: ReasonMissingTrustedForm})
			continue
		}
		if rb.Config.RequiresJornaya && l.Compliance.JornayaLeadID == "" {
			skips = append(skips, skipped{BuyerID: rb.Buyer.ID, Reason: ReasonMissingJornaya})
			continue
		}

		payload, complianceIncluded, err := buildPayload(l, &rb.Buyer, rb.Config.PingTemplate)
		if err != nil {
			e.logger.Error("ping payload build failed",
				zap.String("buyer", rb.Buyer.Name),
				zap.Error(err))
			skips = append(skips, skipped{BuyerID: rb.Buyer.ID, Reason: ReasonPayloadError})
			continue
		}
		participants = append(participants, participant{
			RankedBuyer:        rb,
			pingPayload:        payload,
			complianceIncluded: complianceIncluded,
		})
	}
	return participants, skips
}

// fanOut pings all participants in parallel under the global auction
// deadline. Cancelled calls come back as TIMEOUT rows.
func (e *Engine) fanOut(ctx context.Context, l *lead.Lead, participants []participant) []pingOutcome {
	var maxTimeout time.Duration
	for _, p := range participants {
		if p.Buyer.PingTimeout > maxTimeout {
			maxTimeout = p.Buyer.PingTimeout
		}
	}

	auctionCtx, cancel := context.WithTimeout(ctx, maxTimeout+e.slack)
	defer cancel()

	outcomes := make([]pingOutcome, len(participants))
	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p participant) {
			defer wg.Done()
			outcomes[i] = e.pingOne(auctionCtx, l, p)
		}(i, p)
	}
	wg.Wait()
	return outcomes
}

func (e *Engine) pingOne(ctx context.Context, l *lead.Lead, p participant) pingOutcome {
	tx := domain.NewTransaction(l.ID, p.Buyer.ID, domain.ActionPing, domain.CallTimeout)
	tx.Payload = p.pingPayload
	tx.ComplianceIncluded = p.complianceIncluded

	result, err := e.client.Ping(ctx, &p.Buyer, p.pingPayload)
	if err != nil {
		tx.Status = domain.CallFailed
		tx.Reason = "CLIENT_ERROR"
		e.logger.Error("ping dispatch failed",
			zap.String("buyer", p.Buyer.Name),
			zap.Error(err))
		return pingOutcome{participant: p, tx: tx}
	}

	tx.Status = result.Status
	tx.Reason = result.Reason
	tx.Response = result.Response
	tx.ResponseTimeMs = result.ResponseTimeMs

	if result.Status != domain.CallSuccess || !result.Accepted || result.BidAmount == nil {
		return pingOutcome{participant: p, tx: tx}
	}

	bid := *result.BidAmount
	if !bid.InRange(p.MinBid, p.MaxBid) {
		tx.Reason = domain.ReasonOutOfRange
		e.logger.Info("bid out of range",
			zap.String("buyer", p.Buyer.Name),
			zap.String("bid", bid.String()),
			zap.String("min", p.MinBid.String()),
			zap.String("max", p.MaxBid.String()))
		return pingOutcome{participant: p, tx: tx}
	}

	tx.BidAmount = &bid
	return pingOutcome{participant: p, tx: tx, bid: &bid}
}

// persistPings records every PING attempt. Inserts are retried once; a row
// that still fails is carried in memory so ranking proceeds.
func (e *Engine) persistPings(ctx context.Context, outcomes []pingOutcome, logger *zap.Logger) {
	for _, o := range outcomes {
		if err := e.store.InsertTransaction(ctx, o.tx); err != nil {
			if err = e.store.InsertTransaction(ctx, o.tx); err != nil {
				logger.Error("ping transaction insert failed, continuing in memory",
					zap.String("buyer_id", o.tx.BuyerID.String()),
					zap.Error(err))
			}
		}
	}
}

// rankBids orders valid bids by amount, then zip priority, then buyer ID.
func rankBids(outcomes []pingOutcome) []pingOutcome {
	var contenders []pingOutcome
	for _, o := range outcomes {
		if o.bid != nil {
			contenders = append(contenders, o)
		}
	}
	sort.SliceStable(contenders, func(i, j int) bool {
		if cmp := contenders[i].bid.Cmp(*contenders[j].bid); cmp != 0 {
			return cmp > 0
		}
		if contenders[i].participant.Priority != contenders[j].participant.Priority {
			return contenders[i].participant.Priority > contenders[j].participant.Priority
		}
		return strings.Compare(
			contenders[i].participant.Buyer.ID.String(),
			contenders[j].participant.Buyer.ID.String()) < 0
	})
	return contenders
}

// deliver POSTs to the best bidder, falling back to the next-best on terminal
// failure until one succeeds or the list is exhausted.
func (e *Engine) deliver(ctx context.Context, l *lead.Lead, contenders []pingOutcome, logger *zap.Logger) (domain.Outcome, error) {
	for _, c := range contenders {
		p := c.participant
		payload, complianceIncluded, err := buildPayload(l, &p.Buyer, p.Config.PostTemplate)
		if err != nil {
			logger.Error("post payload build failed",
				zap.String("buyer", p.Buyer.Name),
				zap.Error(err))
			failTx := domain.NewTransaction(l.ID, p.Buyer.ID, domain.ActionPost, domain.CallFailed)
			failTx.Reason = ReasonPayloadError
			e.insertWithRetry(ctx, failTx, logger)
			continue
		}

		postTx := domain.NewTransaction(l.ID, p.Buyer.ID, domain.ActionPost, domain.CallFailed)
		postTx.Payload = payload
		postTx.ComplianceIncluded = complianceIncluded

		result, err := e.client.Post(ctx, &p.Buyer, payload)
		if err != nil {
			postTx.Reason = "CLIENT_ERROR"
			e.insertWithRetry(ctx, postTx, logger)
			continue
		}

		postTx.Status = result.Status
		postTx.Reason = result.Reason
		postTx.Response = result.Response
		postTx.ResponseTimeMs = result.ResponseTimeMs

		if result.Status == domain.CallSuccess && result.Accepted {
			bid := *c.bid
			from := l.Status
			if err := l.MarkSold(p.Buyer.ID, bid); err != nil {
				return domain.Outcome{}, err
			}
			audit := domain.NewComplianceAuditEntry(l.ID, domain.EventLeadSold, map[string]any{
				"buyer_id":         p.Buyer.ID,
				"winning_bid":      bid,
				"external_lead_id": result.ExternalLeadID,
			})
			history := lead.NewStatusHistory(l.ID, from, l.Status, "")
			if err := e.store.Finalize(ctx, l, postTx, audit, history); err != nil {
				return domain.Outcome{}, err
			}
			logger.Info("lead sold",
				zap.String("buyer", p.Buyer.Name),
				zap.String("bid", bid.String()))
			return domain.Sold(p.Buyer.ID, bid), nil
		}

		if postTx.Status == domain.CallSuccess {
			// 2xx but accepted=false is a refusal, not a delivery.
			postTx.Status = domain.CallFailed
			if postTx.Reason == "" {
				postTx.Reason = "REJECTED"
			}
		}
		e.insertWithRetry(ctx, postTx, logger)
		logger.Warn("post delivery failed, trying next bidder",
			zap.String("buyer", p.Buyer.Name),
			zap.String("reason", postTx.Reason))
	}

	return e.failWithEvent(ctx, l, domain.ReasonAllPostsFailed, map[string]any{
		"contenders": len(contenders),
	})
}

func (e *Engine) insertWithRetry(ctx context.Context, tx *domain.Transaction, logger *zap.Logger) {
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		if err = e.store.InsertTransaction(ctx, tx); err != nil {
			logger.Error("transaction insert failed",
				zap.String("action", string(tx.ActionType)),
				zap.Error(err))
		}
	}
}

func (e *Engine) reject(ctx context.Context, l *lead.Lead, eventType, reason string, eventData map[string]any) (domain.Outcome, error) {
	from := l.Status
	if err := l.MarkRejected(); err != nil {
		return domain.Outcome{}, err
	}
	audit := domain.NewComplianceAuditEntry(l.ID, eventType, eventData)
	history := lead.NewStatusHistory(l.ID, from, l.Status, reason)
	if err := e.store.Finalize(ctx, l, nil, audit, history); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Rejected(reason), nil
}

func (e *Engine) fail(ctx context.Context, l *lead.Lead, reason string) (domain.Outcome, error) {
	return e.failWithEvent(ctx, l, reason, map[string]any{"error": reason})
}

func (e *Engine) failWithEvent(ctx context.Context, l *lead.Lead, reason string, eventData map[string]any) (domain.Outcome, error) {
	from := l.Status
	if err := l.MarkFailed(); err != nil {
		return domain.Outcome{}, err
	}
	audit := domain.NewComplianceAuditEntry(l.ID, domain.EventAuctionError, eventData)
	history := lead.NewStatusHistory(l.ID, from, l.Status, reason)
	if err := e.store.Finalize(ctx, l, nil, audit, history); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Failed(reason), nil
}
