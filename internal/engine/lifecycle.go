package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mx-town/updown-engine/internal/position"
	"github.com/mx-town/updown-engine/internal/signal"
	"github.com/mx-town/updown-engine/pkg/types"
)

// entryCheck implements spec.md §4.8's entry sequence: risk-gate ->
// evaluate tier signals -> rank -> select highest-priority actionable ->
// size by base_size*clamp(kelly, 0.1, 0.25) when a model is present, else
// base_size -> call the execution interface for both legs -> on success,
// open the position. Two-leg execution is treated as atomic by the
// position manager: on partial leg failure the engine surrenders rather
// than opening a half-leg position, per spec.md's explicit instruction.
func (e *Engine) entryCheck(marketID string, now time.Time) {
	e.mu.RLock()
	shuttingDown := e.shuttingDown
	e.mu.RUnlock()
	if shuttingDown {
		return
	}

	if ok, reason := e.deps.Risk.CanTrade(now); !ok {
		e.emit(types.EventEntryBlocked, marketID, reason, nil)
		return
	}

	in, ok := e.buildInput(marketID, now)
	if !ok {
		return
	}

	sigs := e.deps.Evaluator.Evaluate(in)
	var chosen *types.UnifiedSignal
	for i := range sigs {
		if sigs[i].IsActionable() {
			chosen = &sigs[i]
			break
		}
	}
	if chosen == nil {
		return
	}
	e.emit(types.EventSignalDetected, marketID, chosen.Tier.String(), map[string]string{
		"direction": chosen.Direction.String(),
	})

	size := e.cfg.BaseSize
	upFrac := 0.5
	if chosen.Model != nil {
		kelly := clampFloat(chosen.Model.KellyFraction, e.cfg.KellyFloor, e.cfg.KellyCap)
		size = e.cfg.BaseSize * kelly
		upFrac = clampFloat(chosen.Model.ProbUp, 0.05, 0.95)
	}

	if !e.deps.Risk.CanIncreaseExposure(e.deps.Positions.TotalExposure(), size) {
		e.emit(types.EventEntryBlocked, marketID, "exposure ceiling reached", nil)
		return
	}

	market := in.Market
	slot := e.slotTokens(marketID)
	upSize := size * upFrac
	downSize := size * (1 - upFrac)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	upResult, err := e.deps.Exec.PlaceOrder(ctx, types.UserOrder{
		TokenID: slot.UpTokenID,
		Side:    types.BUY,
		Price:   decimal.NewFromFloat(market.UpAsk),
		Size:    decimal.NewFromFloat(upSize),
	})
	if err != nil || !upResult.Success {
		e.logger.Error("entry up-leg failed, surrendering", "market", marketID, "error", err)
		e.emit(types.EventEntryFailed, marketID, "up-leg execution failed", nil)
		return
	}

	downResult, err := e.deps.Exec.PlaceOrder(ctx, types.UserOrder{
		TokenID: slot.DownTokenID,
		Side:    types.BUY,
		Price:   decimal.NewFromFloat(market.DownAsk),
		Size:    decimal.NewFromFloat(downSize),
	})
	if err != nil || !downResult.Success {
		// The up leg already filled and there is no unwind call in the
		// execution interface (spec.md §6 defines only PlaceOrder/
		// GetOrderBook/GetOrderBooksBatch) — per spec.md §4.8, the
		// engine still surrenders and opens no position, but this filled
		// leg needs an operator to reconcile manually against the venue.
		e.logger.Error("entry down-leg failed after up-leg filled, reconciliation needed",
			"market", marketID, "error", err)
		e.emit(types.EventEntryFailed, marketID, "down-leg execution failed after up-leg filled", nil)
		return
	}

	upFilled, _ := upResult.FilledSize.Float64()
	upPrice, _ := upResult.FilledPrice.Float64()
	downFilled, _ := downResult.FilledSize.Float64()
	downPrice, _ := downResult.FilledPrice.Float64()

	if err := e.deps.Positions.Open(marketID, upFilled, upPrice, downFilled, downPrice, now); err != nil {
		e.logger.Error("failed to record opened position", "market", marketID, "error", err)
		return
	}

	e.mu.Lock()
	if ms, ok := e.markets[marketID]; ok {
		ms.state = Entered
		ms.entryDirection = chosen.Direction
	}
	e.mu.Unlock()

	e.deps.Metrics.PositionsOpen.Set(float64(len(e.deps.Positions.OpenPositions())))
	e.emit(types.EventPositionOpened, marketID, chosen.Tier.String(), map[string]string{
		"direction": chosen.Direction.String(),
	})
}

// exitCheck implements spec.md §4.8's exit sequence: mirrors entry,
// either partial (one leg) or full (both legs) per evaluator hint. This
// module decides the hint as: a reversal signal (an actionable signal
// whose direction opposes the position's original entry direction)
// triggers a partial exit of the now-disfavored leg; deadline-driven full
// closes are handled separately by checkDeadline on the heartbeat.
func (e *Engine) exitCheck(marketID string, now time.Time) {
	in, ok := e.buildInput(marketID, now)
	if !ok {
		return
	}

	e.mu.RLock()
	ms, exists := e.markets[marketID]
	var entryDirection types.Direction
	if exists {
		entryDirection = ms.entryDirection
	}
	e.mu.RUnlock()
	if !exists {
		return
	}

	sigs := e.deps.Evaluator.Evaluate(in)
	var reversal *types.UnifiedSignal
	for i := range sigs {
		if sigs[i].IsActionable() && sigs[i].Direction != entryDirection && sigs[i].Direction != types.Neutral {
			reversal = &sigs[i]
			break
		}
	}
	if reversal == nil {
		e.mu.Lock()
		if ms, ok := e.markets[marketID]; ok && ms.state == Entered {
			ms.state = Held
		}
		e.mu.Unlock()
		return
	}

	pos, ok := e.deps.Positions.Get(marketID)
	if !ok {
		return
	}

	var side position.ExitSide
	var tokenID string
	var exitPrice float64
	switch entryDirection {
	case types.Up:
		if pos.UpShares <= 0 {
			return
		}
		side, tokenID, exitPrice = position.ExitUp, e.slotTokens(marketID).UpTokenID, in.Market.UpBid
	case types.Down:
		if pos.DownShares <= 0 {
			return
		}
		side, tokenID, exitPrice = position.ExitDown, e.slotTokens(marketID).DownTokenID, in.Market.DownBid
	default:
		return
	}

	e.sellLeg(marketID, tokenID, side, exitPrice, now, reversal)
}

// checkDeadline fires a full close when a market's resolution time has
// passed, catching expirations even without a fresh snapshot arriving —
// spec.md §4.8's explicit reason for the 1-s heartbeat.
func (e *Engine) checkDeadline(marketID string, now time.Time) {
	e.mu.RLock()
	ms, ok := e.markets[marketID]
	e.mu.RUnlock()
	if !ok || !e.deps.Positions.HasPosition(marketID) {
		return
	}
	if now.Before(ms.slot.ResolutionTime) {
		return
	}

	pos, ok := e.deps.Positions.Get(marketID)
	if !ok {
		return
	}

	upExit, downExit := pos.UpExit, pos.DownExit
	if pos.UpShares > 0 {
		upExit = ms.lastContext.UpBid
	}
	if pos.DownShares > 0 {
		downExit = ms.lastContext.DownBid
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if pos.UpShares > 0 {
		if _, err := e.deps.Exec.PlaceOrder(ctx, types.UserOrder{
			TokenID: ms.slot.UpTokenID, Side: types.SELL,
			Price: decimal.NewFromFloat(upExit), Size: decimal.NewFromFloat(pos.UpShares),
		}); err != nil {
			e.logger.Error("resolution-close up-leg failed", "market", marketID, "error", err)
		}
	}
	if pos.DownShares > 0 {
		if _, err := e.deps.Exec.PlaceOrder(ctx, types.UserOrder{
			TokenID: ms.slot.DownTokenID, Side: types.SELL,
			Price: decimal.NewFromFloat(downExit), Size: decimal.NewFromFloat(pos.DownShares),
		}); err != nil {
			e.logger.Error("resolution-close down-leg failed", "market", marketID, "error", err)
		}
	}

	e.closePosition(marketID, upExit, downExit, "resolution", now)
}

// sellLeg exits a single leg through the execution interface and records
// a partial exit, promoting the market to PartiallyExited.
func (e *Engine) sellLeg(marketID, tokenID string, side position.ExitSide, price float64, now time.Time, reversal *types.UnifiedSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pos, ok := e.deps.Positions.Get(marketID)
	if !ok {
		return
	}
	shares := pos.UpShares
	if side == position.ExitDown {
		shares = pos.DownShares
	}
	if shares <= 0 {
		return
	}

	result, err := e.deps.Exec.PlaceOrder(ctx, types.UserOrder{
		TokenID: tokenID, Side: types.SELL,
		Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(shares),
	})
	if err != nil || !result.Success {
		e.logger.Error("partial exit leg failed", "market", marketID, "error", err)
		return
	}

	filledPrice, _ := result.FilledPrice.Float64()
	if _, err := e.deps.Positions.PartialExit(marketID, side, filledPrice, now); err != nil {
		e.logger.Error("failed to record partial exit", "market", marketID, "error", err)
		return
	}

	e.mu.Lock()
	if ms, ok := e.markets[marketID]; ok {
		ms.state = PartiallyExited
	}
	e.mu.Unlock()

	e.emit(types.EventPartialExit, marketID, reversal.Tier.String(), map[string]string{
		"reversal_direction": reversal.Direction.String(),
	})
}

// closePosition finalizes a position (both legs), updates risk and
// metrics, and marks the market Closed.
func (e *Engine) closePosition(marketID string, upExit, downExit float64, reason string, now time.Time) {
	closed, err := e.deps.Positions.Close(marketID, upExit, downExit, reason, now)
	if err != nil {
		e.logger.Error("failed to record closed position", "market", marketID, "error", err)
		return
	}

	e.deps.Risk.RecordTradeResult(closed.RealizedPnL, now)
	e.deps.Metrics.RecordTradeResult(closed.RealizedPnL, e.deps.Positions.TotalRealizedPnL())
	e.deps.Metrics.PositionsOpen.Set(float64(len(e.deps.Positions.OpenPositions())))
	snap := e.deps.Risk.Snapshot(now)
	e.deps.Metrics.SetRiskPaused(snap.IsPaused)

	e.mu.Lock()
	if ms, ok := e.markets[marketID]; ok {
		ms.state = Closed
	}
	e.mu.Unlock()

	e.emit(types.EventPositionClosed, marketID, reason, map[string]string{
		"realized_pnl": decimal.NewFromFloat(closed.RealizedPnL).String(),
	})
}

// buildInput assembles a signal.Input for one market from its cached
// market context (last snapshot) and its symbol's price tracker, falling
// back to the last cached DirectionSignal for momentum when
// the check was triggered by a snapshot tick rather than a fresh trade.
func (e *Engine) buildInput(marketID string, now time.Time) (signal.Input, bool) {
	e.mu.RLock()
	ms, ok := e.markets[marketID]
	if !ok || !ms.hasContext {
		e.mu.RUnlock()
		return signal.Input{}, false
	}
	slot := ms.slot
	market := ms.lastContext
	cached := e.lastDirection[slot.Symbol]
	e.mu.RUnlock()

	tracker := e.deps.Trackers[slot.Symbol]
	if tracker == nil {
		return signal.Input{}, false
	}
	spot := tracker.CurrentPrice()
	open := tracker.CandleOpen()
	if spot == 0 || open == 0 {
		return signal.Input{}, false
	}
	deviation := (spot - open) / open

	var model *types.ModelOutput
	if e.deps.Edge != nil {
		opp := e.deps.Edge.Evaluate(deviation, market.TimeRemainingSec, market.UpAsk, market.DownAsk, slot.VolRegime)
		if opp.HasEdge() {
			m := opp.ModelOutput
			model = &m
		}
	}

	return signal.Input{
		Symbol:           slot.Symbol,
		MarketID:         marketID,
		Momentum:         cached.Momentum,
		DeviationPct:     deviation,
		SpotPrice:        spot,
		CandleOpen:       open,
		Market:           market,
		Model:            model,
		TimeRemainingSec: market.TimeRemainingSec,
		Now:              now,
	}, true
}

func (e *Engine) slotTokens(marketID string) MarketSlot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ms, ok := e.markets[marketID]; ok {
		return ms.slot
	}
	return MarketSlot{}
}
