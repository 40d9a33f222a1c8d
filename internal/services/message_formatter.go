package services

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/irfndi/accumulation-radar/internal/models"
)

const messageRule = "━━━━━━━━━━━━━━━━━━"

// TimeframeMeta describes the trading style associated with a timeframe.
type TimeframeMeta struct {
	Label    string
	Style    string
	Risk     string
	SLRange  string
	HoldTime string
}

var timeframeMeta = map[models.Timeframe]TimeframeMeta{
	models.Timeframe5m:  {Label: "5 min", Style: "⚡ Scalping", Risk: "High", SLRange: "0.3-0.8%", HoldTime: "< 4h"},
	models.Timeframe15m: {Label: "15 min", Style: "📊 Intraday", Risk: "Medium", SLRange: "0.5-1.2%", HoldTime: "4-12h"},
	models.Timeframe30m: {Label: "30 min", Style: "📈 Short swing", Risk: "Medium", SLRange: "0.8-2%", HoldTime: "12-24h"},
	models.Timeframe1h:  {Label: "1 hour", Style: "🎯 Swing", Risk: "Low", SLRange: "1-3%", HoldTime: "1-3 days"},
}

// MetaFor returns display metadata for tf, falling back to the raw label.
func MetaFor(tf models.Timeframe) TimeframeMeta {
	if m, ok := timeframeMeta[tf]; ok {
		return m
	}
	return TimeframeMeta{Label: tf.String(), Style: tf.String(), Risk: "Unknown", SLRange: "-", HoldTime: "-"}
}

// MessageFormatter renders alerts as Telegram Markdown.
type MessageFormatter struct{}

func NewMessageFormatter() *MessageFormatter {
	return &MessageFormatter{}
}

// printer and caser are stateful, so each message gets its own.
func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

// escapeMarkdown escapes characters that legacy Telegram Markdown treats
// as entity delimiters.
func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[").Replace(s)
}

// FormatAccumulation renders a newly detected zone.
func (f *MessageFormatter) FormatAccumulation(zone models.Zone, price float64) string {
	p := newPrinter()
	meta := MetaFor(zone.Timeframe())
	var b strings.Builder

	b.WriteString("🚀 *ACCUMULATION DETECTED*\n")
	b.WriteString(messageRule + "\n\n")
	b.WriteString(p.Sprintf("🪙 *%s* | ⏱️ %s (%s)\n\n", zone.Symbol(), meta.Label, meta.Style))
	b.WriteString(p.Sprintf("💰 Price: `%.2f`\n", price))
	b.WriteString(p.Sprintf("📈 Resistance: `%.2f`\n", zone.Resistance()))
	b.WriteString(p.Sprintf("📉 Support: `%.2f`\n\n", zone.Support()))
	b.WriteString(p.Sprintf("📊 Range: *%.2f%%*\n", zone.RangePct()*100))
	b.WriteString(p.Sprintf("📍 Position: *%.0f%%*\n", zone.Position(price)))
	b.WriteString(p.Sprintf("⏳ Duration: *%.1fh*\n", zone.DurationHours()))
	b.WriteString(p.Sprintf("💪 Quality: *%d/5* (%s)\n", zone.Quality().Score(), titleCase(string(zone.Quality()))))
	b.WriteString(p.Sprintf("🏋️ Strength: *%.1f* %s\n\n", zone.StrengthScore(), titleCase(string(zone.StrengthLevel()))))
	b.WriteString(fmt.Sprintf("⚠️ Risk: %s | SL range: %s | Hold: %s\n", meta.Risk, meta.SLRange, meta.HoldTime))
	return b.String()
}

var breakoutQualityLabels = map[models.ConfirmationQuality]string{
	models.ConfirmationStrong: "🔥 Strength: *VERY STRONG*",
	models.ConfirmationMedium: "🟢 Strength: *STRONG*",
	models.ConfirmationWeak:   "🟡 Strength: *WEAK*",
}

// FormatBreakout renders a confirmed breakout with its quality indicators
// and, when volume confirmed it, a suggested setup.
func (f *MessageFormatter) FormatBreakout(sig models.BreakoutSignal) string {
	p := newPrinter()
	zone := sig.Zone
	meta := MetaFor(zone.Timeframe())
	var b strings.Builder

	emoji, title, levelName := "💥", "BREAK UP", "Resistance"
	if sig.Direction == models.BreakoutDown {
		emoji, title, levelName = "💣", "BREAK DOWN", "Support"
	}

	b.WriteString(fmt.Sprintf("%s *%s* | %s\n", emoji, title, titleCase(string(sig.Type))))
	b.WriteString(messageRule + "\n\n")
	b.WriteString(p.Sprintf("🪙 *%s* | ⏱️ %s\n\n", zone.Symbol(), meta.Label))
	b.WriteString(p.Sprintf("💰 Price: `%.2f`\n", sig.CurrentPrice))
	b.WriteString(p.Sprintf("📈 %s: `%.2f`\n", levelName, sig.BreakoutLevel))
	b.WriteString(p.Sprintf("📊 Breakout: *%.2f%%*\n", sig.BreakPct()*100))
	b.WriteString(p.Sprintf("🏋️ Score: *%.1f/100*\n\n", sig.StrengthScore))

	volStatus := "⚠️"
	if sig.VolumeConfirmed {
		volStatus = "✅"
	}
	b.WriteString(p.Sprintf("📦 Volume: *x%.1f* / *x%.1f* %s\n", sig.VolumeRatio, sig.MediumVolumeRatio, volStatus))
	label, ok := breakoutQualityLabels[sig.Confirmation]
	if !ok {
		label = breakoutQualityLabels[models.ConfirmationMedium]
	}
	b.WriteString(label + "\n")
	b.WriteString(f.consensusLine(sig.Consensus))

	if !sig.VolumeConfirmed {
		b.WriteString("\n⚠️ *WAITING FOR VOLUME CONFIRMATION*\n")
		return b.String()
	}

	s := sig.Setup
	b.WriteString("\n" + messageRule + "\n")
	b.WriteString("🎯 *SUGGESTED SETUP*\n\n")
	b.WriteString(p.Sprintf("📍 Entry: `%.6f`\n", s.Entry))
	b.WriteString(p.Sprintf("🛑 SL: `%.6f` _(-%.2f%%)_\n", s.StopLoss, s.RiskPct))
	b.WriteString(p.Sprintf("🎯 TP: `%.6f` _(+%.2f%%)_\n", s.TakeProfit, s.RewardPct))
	b.WriteString("📊 R:R = *1:2*\n\n")
	b.WriteString(setupAssessment(sig.Confirmation, sig.Consensus.Quality))
	return b.String()
}

var consensusLabels = map[models.ConsensusQuality]string{
	models.ConsensusExcellent: "🟢 Consensus: *VERY HIGH*",
	models.ConsensusGood:      "🟢 Consensus: *HIGH*",
	models.ConsensusMedium:    "🟡 Consensus: *MEDIUM*",
	models.ConsensusWeak:      "⚠️ Consensus: *LOW*",
}

func (f *MessageFormatter) consensusLine(c models.Consensus) string {
	if c.Score == 0 {
		return fmt.Sprintf("⚠️ Consensus: *NONE* (0/%d TFs)\n", c.Total)
	}

	line := fmt.Sprintf("%s (%d/%d TFs)\n", consensusLabels[c.Quality], c.Score, c.Total)
	if len(c.Aligned) > 0 {
		names := make([]string, len(c.Aligned))
		for i, tf := range c.Aligned {
			names[i] = tf.String()
		}
		line += fmt.Sprintf("   ↳ _%s_\n", strings.Join(names, ", "))
	}
	return line
}

func setupAssessment(quality models.ConfirmationQuality, consensus models.ConsensusQuality) string {
	goodConsensus := consensus == models.ConsensusExcellent || consensus == models.ConsensusGood
	atLeastMedium := quality == models.ConfirmationStrong || quality == models.ConfirmationMedium

	switch {
	case quality == models.ConfirmationStrong && goodConsensus:
		return "🔥 *EXCELLENT SETUP* - very strong signal\n"
	case atLeastMedium && goodConsensus:
		return "🟢 *GOOD SETUP* - confirmed by higher timeframes\n"
	case atLeastMedium:
		return "🟡 *FAIR SETUP* - no higher timeframe confirmation yet\n"
	default:
		return "⚠️ *WEAK SETUP* - consider carefully before entering\n"
	}
}

// FormatStartup lists where each symbol is served from and the scan plan.
func (f *MessageFormatter) FormatStartup(routes []SymbolRoute, timeframes []models.Timeframe, pollInterval time.Duration) string {
	var b strings.Builder
	b.WriteString("🤖 *Bot Started*\n\n")
	b.WriteString("✅ Accumulation radar is running\n\n")
	b.WriteString(messageRule + "\n\n")
	b.WriteString("📊 *Symbol Mapping:*\n")
	for _, r := range routes {
		provider := "❌ unavailable"
		if r.Provider != "" {
			provider = titleCase(r.Provider)
			if !r.Primary {
				provider += " (fallback)"
			}
		}
		b.WriteString(fmt.Sprintf("• %s: %s\n", r.Symbol, provider))
	}

	names := make([]string, len(timeframes))
	for i, tf := range timeframes {
		names[i] = tf.String()
	}
	b.WriteString(fmt.Sprintf("\n⏱️ *Timeframes:* %s\n\n", strings.Join(names, ", ")))
	b.WriteString(fmt.Sprintf("🔄 *Scan Interval:* %s\n", pollInterval))
	return b.String()
}

type shutdownTemplate struct {
	emoji    string
	title    string
	subtitle string
}

var shutdownTemplates = map[string]shutdownTemplate{
	"user":       {"🛑", "Bot Stopped", "⏸️ Accumulation radar was stopped by user"},
	"terminated": {"⚠️", "Bot Killed", "🔴 Accumulation radar was killed (SIGTERM)"},
	"interrupt":  {"🛑", "Bot Stopped", "⏸️ Accumulation radar interrupted (Ctrl+C)"},
}

// FormatShutdown renders the final statistics. reason is usually the
// received signal's name.
func (f *MessageFormatter) FormatShutdown(reason string, activeZones, failedSymbols int) string {
	key := strings.ToLower(strings.TrimSpace(reason))
	switch key {
	case "sigterm":
		key = "terminated"
	case "sigint":
		key = "interrupt"
	}

	tmpl, ok := shutdownTemplates[key]
	if !ok {
		tmpl = shutdownTemplate{"⚠️", "Bot Stopped", "⏸️ Accumulation radar stopped"}
		if reason != "" {
			tmpl.subtitle += ": " + escapeMarkdown(reason)
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *%s*\n\n", tmpl.emoji, tmpl.title))
	b.WriteString(tmpl.subtitle + "\n\n")
	b.WriteString(messageRule + "\n\n")
	b.WriteString("📊 *Final Statistics:*\n")
	b.WriteString(fmt.Sprintf("• Active zones: %d\n", activeZones))
	b.WriteString(fmt.Sprintf("• Failed symbols: %d\n", failedSymbols))
	return b.String()
}
