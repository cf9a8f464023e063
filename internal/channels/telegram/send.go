package telegram

import (
	"context"
	"fmt"

	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

// telegramTextChunkLimit is Telegram's hard cap on a single message body.
const telegramTextChunkLimit = 4096

// Send delivers an outbound message to a Telegram chat, chunking text
// that exceeds Telegram's per-message limit. Media attachments are not
// sent here — the owner channel's SendToOwner is text-only.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatIDInt, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	chatIDObj := tu.ID(chatIDInt)

	threadID := 0
	if v, ok := c.threadIDs.Load(msg.ChatID); ok {
		threadID = v.(int)
	}
	sendThreadID := resolveThreadIDForSend(threadID)

	text := msg.Content
	if text == "" {
		return nil
	}

	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramTextChunkLimit {
			chunk = text[:telegramTextChunkLimit]
		}
		text = text[len(chunk):]

		sendMsg := tu.Message(chatIDObj, chunk)
		if sendThreadID > 0 {
			sendMsg.MessageThreadID = sendThreadID
		}
		if _, err := c.bot.SendMessage(ctx, sendMsg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}

	return nil
}
