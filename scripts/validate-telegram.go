package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/services"
)

func main() {
	send := flag.Bool("send", false, "post a test message to the configured chat")
	flag.Parse()

	fmt.Println("🔧 Validating Telegram Bot Configuration...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := validate(ctx, cfg.Telegram, os.Stdout, *send); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n🎉 All Telegram bot configuration checks passed!")
}

// validate checks the token and chat id, calls getMe and optionally sends a
// test message through the same notifier the radar uses.
func validate(ctx context.Context, cfg config.TelegramConfig, out io.Writer, send bool, opts ...bot.Option) error {
	if cfg.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not configured")
	}
	fmt.Fprintf(out, "✅ TELEGRAM_BOT_TOKEN is configured (length: %d)\n", len(cfg.BotToken))

	if cfg.ChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is not configured")
	}
	fmt.Fprintf(out, "✅ TELEGRAM_CHAT_ID is configured: %s\n", cfg.ChatID)

	b, err := bot.New(cfg.BotToken, append([]bot.Option{bot.WithSkipGetMe()}, opts...)...)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	fmt.Fprintln(out, "🔍 Testing bot API connection...")
	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	fmt.Fprintln(out, "✅ Bot API connection successful!")
	fmt.Fprintf(out, "   Bot Name: %s\n", me.FirstName)
	fmt.Fprintf(out, "   Bot Username: @%s\n", me.Username)
	fmt.Fprintf(out, "   Bot ID: %d\n", me.ID)

	if !send {
		return nil
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	notifier, err := services.NewTelegramNotifier(cfg, logger, opts...)
	if err != nil {
		return err
	}
	if !notifier.Send(ctx, "🔧 *Accumulation Radar* test message") {
		return fmt.Errorf("failed to send test message to chat %s", cfg.ChatID)
	}
	fmt.Fprintln(out, "✅ Test message delivered")
	return nil
}
