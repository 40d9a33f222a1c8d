package models

import "time"

// BreakoutDirection is the side a zone was broken on.
type BreakoutDirection string

const (
	BreakoutUp   BreakoutDirection = "UP"
	BreakoutDown BreakoutDirection = "DOWN"
)

// BreakoutType classifies a breakout by distance travelled past the level.
type BreakoutType string

const (
	BreakoutTypeSoft      BreakoutType = "SOFT_BREAK"
	BreakoutTypeConfirmed BreakoutType = "CONFIRMED_BREAK"
	BreakoutTypeStrong    BreakoutType = "STRONG_BREAK"
)

// ConfirmationQuality is the result of the multi-factor breakout check.
type ConfirmationQuality string

const (
	ConfirmationStrong   ConfirmationQuality = "strong"
	ConfirmationMedium   ConfirmationQuality = "medium"
	ConfirmationWeak     ConfirmationQuality = "weak"
	ConfirmationRejected ConfirmationQuality = "rejected"
)

// ConsensusQuality grades agreement across higher timeframes.
type ConsensusQuality string

const (
	ConsensusExcellent ConsensusQuality = "excellent"
	ConsensusGood      ConsensusQuality = "good"
	ConsensusMedium    ConsensusQuality = "medium"
	ConsensusWeak      ConsensusQuality = "weak"
)

// Consensus summarizes cross-timeframe agreement for a breakout.
type Consensus struct {
	Score    int              `json:"score"`
	Total    int              `json:"total"`
	Aligned  []Timeframe      `json:"aligned"`
	Quality  ConsensusQuality `json:"quality"`
	Required int              `json:"required"`
	Eligible bool             `json:"eligible"`
}

// TradeSetup is an indicative entry with stop-loss and take-profit levels.
type TradeSetup struct {
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	RiskPct    float64 `json:"risk_pct"`
	RewardPct  float64 `json:"reward_pct"`
}

// BreakoutSignal is an immutable, confirmed breakout ready for notification.
type BreakoutSignal struct {
	Zone              Zone                `json:"-"`
	Direction         BreakoutDirection   `json:"direction"`
	Type              BreakoutType        `json:"type"`
	Confirmation      ConfirmationQuality `json:"confirmation"`
	CurrentPrice      float64             `json:"current_price"`
	BreakoutLevel     float64             `json:"breakout_level"`
	StrengthScore     float64             `json:"strength_score"`
	VolumeRatio       float64             `json:"volume_ratio"`
	MediumVolumeRatio float64             `json:"medium_volume_ratio"`
	VolumeConfirmed   bool                `json:"volume_confirmed"`
	Consensus         Consensus           `json:"consensus"`
	Setup             TradeSetup          `json:"setup"`
	Timestamp         time.Time           `json:"timestamp"`
}

// BreakPct is the distance travelled beyond the breakout level.
func (s BreakoutSignal) BreakPct() float64 {
	if s.BreakoutLevel == 0 {
		return 0
	}
	if s.Direction == BreakoutUp {
		return (s.CurrentPrice - s.BreakoutLevel) / s.BreakoutLevel
	}
	return (s.BreakoutLevel - s.CurrentPrice) / s.BreakoutLevel
}

// IsStrong reports whether the signal is a strong break.
func (s BreakoutSignal) IsStrong() bool {
	return s.Type == BreakoutTypeStrong
}
