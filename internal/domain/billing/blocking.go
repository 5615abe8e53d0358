package billing

import (
	"fmt"
	"strconv"
)

// BlockingPolicy holds the thresholds the blocking rules evaluate against
type BlockingPolicy struct {
	// LateThresholdHours is the delivery lateness (whole hours) beyond which
	// an unjustified delay blocks the invoice.
	LateThresholdHours int
}

// DefaultBlockingPolicy returns the standard policy
func DefaultBlockingPolicy() BlockingPolicy {
	return BlockingPolicy{LateThresholdHours: 24}
}

// BlockingFacts are the upstream facts one evaluation runs against. The
// engine never fetches them itself; callers assemble facts from the order,
// compliance and pallet sources.
type BlockingFacts struct {
	Orders        []TransportOrder
	Vigilance     *CarrierVigilance
	PalletBalance int
}

// ruleVerdict is the outcome of one rule evaluation
type ruleVerdict struct {
	bType   BlockType
	active  bool
	reason  string
	details map[string]string
}

// BlockingEngine evaluates the independent hold conditions on a pre-invoice.
// It is independent of the lifecycle state: it is run before validation,
// before finalization and whenever an upstream fact changes. Each rule either
// applies a new block (condition newly true) or lifts the existing one
// (condition cleared). MANUAL blocks are never touched.
type BlockingEngine struct {
	policy BlockingPolicy
}

// NewBlockingEngine creates a blocking engine with the given policy
func NewBlockingEngine(policy BlockingPolicy) *BlockingEngine {
	return &BlockingEngine{policy: policy}
}

// Evaluate re-evaluates every automatic rule against the facts, mutating the
// pre-invoice's block set. Returns the number of blocks applied and lifted.
func (e *BlockingEngine) Evaluate(pi *PreInvoice, facts BlockingFacts) (applied, lifted int) {
	verdicts := []ruleVerdict{
		e.missingDocumentsRule(facts),
		e.vigilanceRule(facts),
		e.palletsRule(facts),
		e.lateRule(facts),
	}

	for _, v := range verdicts {
		hasActive := pi.HasActiveBlockOfType(v.bType)
		switch {
		case v.active && !hasActive:
			if _, err := pi.ApplyBlock(v.bType, v.reason, "system", v.details); err == nil {
				applied++
			}
		case !v.active && hasActive:
			lifted += pi.LiftBlocksOfType(v.bType, "system", "condition cleared")
		}
	}
	return applied, lifted
}

func (e *BlockingEngine) missingDocumentsRule(facts BlockingFacts) ruleVerdict {
	v := ruleVerdict{bType: BlockMissingDocuments}
	missing := 0
	for _, o := range facts.Orders {
		if !o.Documents.Complete() {
			missing++
		}
	}
	if missing > 0 {
		v.active = true
		v.reason = fmt.Sprintf("%d orders missing required documents", missing)
		v.details = map[string]string{"orders": strconv.Itoa(missing)}
	}
	return v
}

func (e *BlockingEngine) vigilanceRule(facts BlockingFacts) ruleVerdict {
	v := ruleVerdict{bType: BlockVigilance}
	if facts.Vigilance != nil && facts.Vigilance.Status.Blocking() {
		v.active = true
		v.reason = "carrier vigilance status is " + string(facts.Vigilance.Status)
		v.details = map[string]string{"status": string(facts.Vigilance.Status)}
	}
	return v
}

func (e *BlockingEngine) palletsRule(facts BlockingFacts) ruleVerdict {
	v := ruleVerdict{bType: BlockPallets}
	if facts.PalletBalance != 0 {
		v.active = true
		v.reason = fmt.Sprintf("unsettled pallet balance of %d", facts.PalletBalance)
		v.details = map[string]string{"balance": strconv.Itoa(facts.PalletBalance)}
	}
	return v
}

func (e *BlockingEngine) lateRule(facts BlockingFacts) ruleVerdict {
	v := ruleVerdict{bType: BlockLate}
	late := 0
	for _, o := range facts.Orders {
		if o.DelayJustified {
			continue
		}
		if o.DelayHours() > e.policy.LateThresholdHours {
			late++
		}
	}
	if late > 0 {
		v.active = true
		v.reason = fmt.Sprintf("%d orders late beyond %dh without justification", late, e.policy.LateThresholdHours)
		v.details = map[string]string{"orders": strconv.Itoa(late)}
	}
	return v
}
