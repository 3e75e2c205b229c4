package domain

import "time"

// CycleState is the execution state of a CycleRecord.
type CycleState string

const (
	CyclePending         CycleState = "PENDING"
	CycleValidating      CycleState = "VALIDATING"
	CycleActive          CycleState = "ACTIVE"
	CyclePartiallyFilled CycleState = "PARTIALLY_FILLED"
	CycleRecovering      CycleState = "RECOVERING"
	CyclePanicSelling    CycleState = "PANIC_SELLING"
	CycleCompleted       CycleState = "COMPLETED"
	CycleFailed          CycleState = "FAILED"
)

// ActiveStates are the states recover_active_cycles (§4.7) reads back.
var ActiveStates = []CycleState{CycleActive, CyclePartiallyFilled, CycleRecovering, CyclePanicSelling}

// TerminalStates are the states that force an immediate write-through flush.
var TerminalStates = map[CycleState]bool{
	CycleCompleted:    true,
	CycleFailed:       true,
	CyclePanicSelling: true,
}

func (s CycleState) IsActive() bool {
	for _, a := range ActiveStates {
		if a == s {
			return true
		}
	}
	return false
}

// OrderState is the lifecycle state of a single OrderRecord.
type OrderState string

const (
	OrderPending         OrderState = "PENDING"
	OrderPlaced          OrderState = "PLACED"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
	OrderFailed          OrderState = "FAILED"
)

func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderFailed, OrderPartiallyFilled:
		return true
	}
	return false
}

// OrderRecord is one leg's order, owned by exactly one CycleRecord.
type OrderRecord struct {
	ID             string
	CycleID        string
	LegIndex       int
	Symbol         string
	Side           string // "buy" | "sell"
	RequestedAmount float64
	LimitPrice     *float64 // nil for market orders
	State          OrderState
	FilledAmount   float64
	RemainingAmount float64
	AvgFillPrice   float64
	RetryCount     int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CycleRecord is the stateful, persisted record of one cycle execution.
type CycleRecord struct {
	ID            string
	StrategyName  string
	Currencies    Cycle
	InitialAmount float64 // in Currencies[0]
	CurrentAmount float64
	CurrentCcy    Currency
	State         CycleState
	CurrentStep   int // 0..3
	StartTime     time.Time
	EndTime       *time.Time
	RealizedPnL   *float64
	ErrorMessage  string
	Metadata      map[string]string
	Orders        []OrderRecord
}

// NewCycleRecord starts a cycle PENDING with the full starting amount in
// Currencies[0].
func NewCycleRecord(id, strategy string, cycle Cycle, amount float64) *CycleRecord {
	return &CycleRecord{
		ID:            id,
		StrategyName:  strategy,
		Currencies:    cycle,
		InitialAmount: amount,
		CurrentAmount: amount,
		CurrentCcy:    cycle[0],
		State:         CyclePending,
		CurrentStep:   0,
		StartTime:     time.Now(),
		Metadata:      map[string]string{},
	}
}

// ExpectedCurrencyAfterStep returns the currency the cycle should hold after
// `step` legs have completed — the invariant checked after every leg and at
// COMPLETED.
func (c *CycleRecord) ExpectedCurrencyAfterStep(step int) Currency {
	return c.Currencies[step%3]
}

// Complete marks the cycle COMPLETED with realized P&L, enforcing the
// invariant that current currency must be back at Currencies[0].
func (c *CycleRecord) Complete() error {
	if c.CurrentCcy != c.Currencies[0] {
		return ErrWrongEndCurrency
	}
	pnl := c.CurrentAmount - c.InitialAmount
	c.RealizedPnL = &pnl
	c.State = CycleCompleted
	now := time.Now()
	c.EndTime = &now
	return nil
}

// Fail marks the cycle FAILED with a reason, closing the end time.
func (c *CycleRecord) Fail(reason string) {
	c.State = CycleFailed
	c.ErrorMessage = reason
	now := time.Now()
	c.EndTime = &now
}
