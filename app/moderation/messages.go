package moderation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Messages holds the reply and escalation templates. Placeholders use
// {token} syntax; RenderX helpers fill them in.
type Messages struct {
	Expired         string `yaml:"expired"`
	ExpiredBotcheck string `yaml:"expired_botcheck"`
	TooSoon         string `yaml:"too_soon"`
	DoublePost      string `yaml:"double_post"`

	BlacklistSubject string `yaml:"blacklist_subject"`
	BlacklistBody    string `yaml:"blacklist_body"`
	ChangedSubject   string `yaml:"changed_subject"`
	ChangedBody      string `yaml:"changed_body"`
}

// DefaultMessages returns the built-in templates.
func DefaultMessages() *Messages {
	return &Messages{
		Expired: `Your invite link has expired at r/DiscordServers.
This means either you did not generate a permanent invite link or you have likely closed the server.

You're welcome to post your server again provided it is a [permanent link](https://support.discordapp.com/hc/en-us/articles/208866998-Instant-Invite-101).

If you think this bot has made a mistake, please contact us [here](https://www.reddit.com/message/compose?to=%2Fr%2Fdiscordservers).

Sincerely,
The r/DiscordServers Team`,

		ExpiredBotcheck: `Your invite link has expired at r/DiscordServers.
This means either you did not generate a permanent invite link or you have likely closed the server.
*Note: if you use discord.me for your server links, we do not support their bot-check service for obvious reasons.*

You're welcome to post your server again provided it is a [permanent link](https://support.discordapp.com/hc/en-us/articles/208866998-Instant-Invite-101).

If you think this bot has made a mistake, please contact us [here](https://www.reddit.com/message/compose?to=%2Fr%2Fdiscordservers).

Sincerely,
The r/DiscordServers Team`,

		TooSoon: `You made [this post]({perma_link_new}) for your server before the wait period was up.

The previous post for your server can be found [here]({perma_link_old}).

**Time you still need to wait before you can post again: {time_left}**

If you are certain this bot has made a mistake, and not due to reddit's time estimation, please contact us [here](https://www.reddit.com/message/compose?to=%2Fr%2Fdiscordservers).

Sincerely,
The r/DiscordServers Team`,

		DoublePost: `You made [this post]({perma_link_saved}) for a server that was already advertised [here]({perma_link_current}).

**Time you still need to wait before you can post again: {time_left}**

If you are certain this bot has made a mistake, and not due to reddit's time estimation, please contact us [here](https://www.reddit.com/message/compose?to=%2Fr%2Fdiscordservers).

Sincerely,
The r/DiscordServers Team`,

		BlacklistSubject: "Blacklisted server attempting to post!",
		BlacklistBody:    "The user u/{author} tried making [this post]({permalink}) for the banned server **{guild_name}** (Server ID: {guild_id}) in DiscordServers and was just caught by the bot.",

		ChangedSubject: "Server link changed servers",
		ChangedBody:    "The user u/{author} made [this post](reddit.com{permalink}) which changed from a link to {old_guild_name} (Server ID = {old_guild_id}) to {guild_name} (Server ID = {guild_id}). This is peculiar. I will delete it with no comment",
	}
}

// LoadMessages returns the defaults, overridden field by field from the YAML
// file at path when one is configured.
func LoadMessages(path string) (*Messages, error) {
	msgs := DefaultMessages()
	if path == "" {
		return msgs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}

	var override Messages
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}

	if override.Expired != "" {
		msgs.Expired = override.Expired
	}
	if override.ExpiredBotcheck != "" {
		msgs.ExpiredBotcheck = override.ExpiredBotcheck
	}
	if override.TooSoon != "" {
		msgs.TooSoon = override.TooSoon
	}
	if override.DoublePost != "" {
		msgs.DoublePost = override.DoublePost
	}
	if override.BlacklistSubject != "" {
		msgs.BlacklistSubject = override.BlacklistSubject
	}
	if override.BlacklistBody != "" {
		msgs.BlacklistBody = override.BlacklistBody
	}
	if override.ChangedSubject != "" {
		msgs.ChangedSubject = override.ChangedSubject
	}
	if override.ChangedBody != "" {
		msgs.ChangedBody = override.ChangedBody
	}

	return msgs, nil
}

func render(template string, tokens map[string]string) string {
	pairs := make([]string, 0, len(tokens)*2)
	for token, value := range tokens {
		pairs = append(pairs, "{"+token+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
