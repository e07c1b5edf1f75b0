package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// DefaultBotPrefix is the bot-voice marker outbound messages carry on
// shared-identity transports, and the marker inbound self-messages are
// dropped for to break delivery loops.
const DefaultBotPrefix = "[gbot] "

// sharedIdentityChannels lists channels where the bot speaks through the
// same account/number a human might also use to message it, so an
// outbound message needs a voice marker to avoid being mistaken for
// (or looping back as) the user's own words. A channel absent from this
// set has its own distinct bot identity (a Telegram/Discord/Slack bot
// token) and skips the prefix.
var sharedIdentityChannels = map[models.ChannelType]bool{
	models.ChannelWhatsApp: true,
	models.ChannelSignal:   true,
	models.ChannelIMessage: true,
}

// Port is the Channel Port: the single place outbound delivery picks up
// the bot-voice prefix and splits long text, and inbound delivery drops
// self-authored loop messages, regardless of which Adapter a channel
// actually uses underneath.
type Port struct {
	registry *Registry
	store    store.Store
	prefix   string
}

func NewPort(registry *Registry, st store.Store, prefix string) *Port {
	if prefix == "" {
		prefix = DefaultBotPrefix
	}
	return &Port{registry: registry, store: st, prefix: prefix}
}

// Send delivers text to userID on channel, applying the bot-voice prefix
// on shared-identity transports and splitting on paragraph boundaries
// under the channel's size limit. autonomous distinguishes a message
// the assistant is sending on its own initiative (scheduler firing,
// subagent result) from a direct relay of something the owner typed
// through send_message_to_user at a human's explicit request — only the
// former needs the bot-voice marker at all on shared-identity channels.
func (p *Port) Send(ctx context.Context, userID string, channel models.ChannelType, text string) error {
	return p.send(ctx, userID, channel, text, true)
}

// SendRelay delivers text without ever applying the bot-voice prefix,
// for callers that are relaying an owner-authored payload verbatim.
func (p *Port) SendRelay(ctx context.Context, userID string, channel models.ChannelType, text string) error {
	return p.send(ctx, userID, channel, text, false)
}

func (p *Port) send(ctx context.Context, userID string, channel models.ChannelType, text string, autonomous bool) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	adapter, ok := p.registry.Get(channel)
	if !ok {
		return fmt.Errorf("channels: no adapter registered for %q", channel)
	}
	address, err := p.store.ChannelAddressForUser(ctx, userID, channel)
	if err != nil {
		return fmt.Errorf("channels: resolve address for %s on %s: %w", userID, channel, err)
	}

	if autonomous && sharedIdentityChannels[channel] {
		text = p.prefix + text
	}

	caps := GetChannelCapabilities(ChatChannelID(channel))
	maxSize := 4000
	if caps != nil && caps.MaxMessageLength > 0 {
		maxSize = caps.MaxMessageLength
	}
	chunks := NewMessageChunker(maxSize).ChunkMarkdown(text)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	for _, chunk := range chunks {
		msg := &models.Message{
			Channel:   channel,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   chunk,
			Metadata:  map[string]any{"channel_address": address},
		}
		if err := adapter.Send(ctx, msg); err != nil {
			return fmt.Errorf("channels: send to %s: %w", channel, err)
		}
	}
	return nil
}

// IsSelfLoop reports whether an inbound message must be dropped to
// break a send-loop: it originated from the bot's own identity
// (isFromSelf) and carries the bot-voice prefix. This is the single
// loop-break concept the whole port relies on — identity signal and
// drop filter are the same check, never two.
func (p *Port) IsSelfLoop(isFromSelf bool, text string) bool {
	return isFromSelf && strings.HasPrefix(text, p.prefix)
}
