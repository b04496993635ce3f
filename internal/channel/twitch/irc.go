package twitch

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
)

// ircMessage is one parsed IRC line with IRCv3 tags.
type ircMessage struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Trailing returns the last parameter, which carries the chat text.
func (m ircMessage) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Nick extracts the nickname from a nick!user@host prefix.
func (m ircMessage) Nick() string {
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

func parseIRC(line string) (ircMessage, bool) {
	line = strings.TrimRight(line, "\r\n")
	var m ircMessage
	if line == "" {
		return m, false
	}

	if line[0] == '@' {
		end := strings.IndexByte(line, ' ')
		if end < 0 {
			return m, false
		}
		m.Tags = parseTags(line[1:end])
		line = strings.TrimLeft(line[end+1:], " ")
	}
	if strings.HasPrefix(line, ":") {
		end := strings.IndexByte(line, ' ')
		if end < 0 {
			return m, false
		}
		m.Prefix = line[1:end]
		line = strings.TrimLeft(line[end+1:], " ")
	}

	trailing, hasTrailing := "", false
	if i := strings.Index(line, " :"); i >= 0 {
		trailing, hasTrailing = line[i+2:], true
		line = line[:i]
	} else if strings.HasPrefix(line, ":") {
		return m, false
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return m, false
	}
	m.Command = fields[0]
	m.Params = fields[1:]
	if hasTrailing {
		m.Params = append(m.Params, trailing)
	}
	return m, true
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			tags[k] = unescapeTag(v)
		}
	}
	return tags
}

var tagUnescaper = strings.NewReplacer(`\s`, " ", `\:`, ";", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	return tagUnescaper.Replace(v)
}

// badges parses "name/version,name/version".
func badges(raw string) map[string]string {
	out := make(map[string]string)
	for _, b := range strings.Split(raw, ",") {
		name, version, _ := strings.Cut(b, "/")
		if name != "" {
			out[name] = version
		}
	}
	return out
}

const subscriberMonth = 30 * 24 * time.Hour

// toMessage converts a PRIVMSG into a chat message.
func toMessage(m ircMessage, now time.Time) *chat.Message {
	text := m.Trailing()
	if strings.HasPrefix(text, "\x01ACTION ") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}

	tags := m.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	b := badges(tags["badges"])

	author := chat.Author{
		ID:          tags["user-id"],
		DisplayName: tags["display-name"],
	}
	if author.ID == "" {
		author.ID = m.Nick()
	}
	if author.DisplayName == "" {
		author.DisplayName = m.Nick()
	}
	_, broadcaster := b["broadcaster"]
	_, modBadge := b["moderator"]
	author.Roles.Moderator = tags["mod"] == "1" || modBadge || broadcaster
	_, subBadge := b["subscriber"]
	author.Roles.Subscriber = tags["subscriber"] == "1" || subBadge
	author.Roles.FirstTime = tags["first-msg"] == "1"

	if months, ok := badges(tags["badge-info"])["subscriber"]; ok {
		if n, err := strconv.Atoi(months); err == nil && n > 0 {
			tenure := time.Duration(n) * subscriberMonth
			author.Tenure = &tenure
		}
	}

	arrived := now
	if ms, err := strconv.ParseInt(tags["tmi-sent-ts"], 10, 64); err == nil {
		arrived = time.UnixMilli(ms)
	}

	id := tags["id"]
	if id == "" {
		id = uuid.NewString()
	}
	var ch string
	if len(m.Params) > 1 {
		ch = strings.TrimPrefix(m.Params[0], "#")
	}

	return &chat.Message{
		ID:        id,
		Source:    SourceName,
		Channel:   ch,
		Author:    author,
		Text:      text,
		Mentions:  channel.ExtractMentions(text),
		Links:     channel.ExtractLinks(text),
		ArrivedAt: arrived,
	}
}
