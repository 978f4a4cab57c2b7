package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
	"github.com/slack-go/slack"
)

// SlackChannel posts to one Slack channel via the Web API.
type SlackChannel struct {
	api       *slack.Client
	channelID string
}

func NewSlackChannel(token, channelID string) *SlackChannel {
	return &SlackChannel{api: slack.New(token), channelID: channelID}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, message string, level Level) error {
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, slack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// DiscordChannel posts to one Discord channel.
type DiscordChannel struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordChannel(token, channelID string) (*DiscordChannel, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordChannel{session: s, channelID: channelID}, nil
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, message string, level Level) error {
	_, err := c.session.ChannelMessageSend(c.channelID, message, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// TelegramChannel drives the Bot HTTP API directly.
type TelegramChannel struct {
	client *resty.Client
	chatID string
}

func NewTelegramChannel(token, chatID string) *TelegramChannel {
	client := resty.New().SetBaseURL("https://api.telegram.org/bot" + token)
	return &TelegramChannel{client: client, chatID: chatID}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, message string, level Level) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": c.chatID, "text": message}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: status %d", resp.StatusCode())
	}
	return nil
}
