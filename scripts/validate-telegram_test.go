package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/accumulation-radar/internal/config"
)

// fakeTelegram answers getMe and sendMessage like the Bot API.
func fakeTelegram(t *testing.T, getMeOK bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var sends atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			if !getMeOK {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Radar","username":"radar_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			sends.Add(1)
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &sends
}

func TestValidate_MissingToken(t *testing.T) {
	var out bytes.Buffer
	err := validate(context.Background(), config.TelegramConfig{ChatID: "42"}, &out, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestValidate_MissingChatID(t *testing.T) {
	var out bytes.Buffer
	err := validate(context.Background(), config.TelegramConfig{BotToken: "123:abc"}, &out, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")
	assert.Contains(t, out.String(), "length: 7")
}

func TestValidate_GetMe(t *testing.T) {
	srv, sends := fakeTelegram(t, true)
	cfg := config.TelegramConfig{BotToken: "123:abc", ChatID: "42", TimeoutSeconds: 5}

	var out bytes.Buffer
	err := validate(context.Background(), cfg, &out, false, bot.WithServerURL(srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "@radar_bot")
	assert.Contains(t, out.String(), "Bot ID: 7")
	assert.Equal(t, int32(0), sends.Load())
}

func TestValidate_SendsTestMessage(t *testing.T) {
	srv, sends := fakeTelegram(t, true)
	cfg := config.TelegramConfig{BotToken: "123:abc", ChatID: "42", TimeoutSeconds: 5}

	var out bytes.Buffer
	err := validate(context.Background(), cfg, &out, true, bot.WithServerURL(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, int32(1), sends.Load())
	assert.Contains(t, out.String(), "Test message delivered")
}

func TestValidate_Unauthorized(t *testing.T) {
	srv, _ := fakeTelegram(t, false)
	cfg := config.TelegramConfig{BotToken: "123:abc", ChatID: "42"}

	var out bytes.Buffer
	err := validate(context.Background(), cfg, &out, false, bot.WithServerURL(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get bot info")
}
