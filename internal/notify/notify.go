// Package notify delivers user-visible notices such as network mismatches and
// successful mints.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/ethereum/go-ethereum/log"
)

type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Notice is a single message meant for the person operating the wallet.
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier accepts notices. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// LogNotifier writes notices to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notice) {
	if n.Level == LevelWarn {
		log.Warn("Notice", "message", n.Message)
		return
	}
	log.Info("Notice", "message", n.Message)
}

// Recorder keeps the most recent notices in memory.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 50
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	if over := len(r.notices) - r.limit; over > 0 {
		r.notices = append([]Notice(nil), r.notices[over:]...)
	}
}

// Notices returns a copy, oldest first.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// DiscordNotifier posts notices to a Discord channel.
type DiscordNotifier struct {
	channelID string
	session   *discordgo.Session
	send      func(channelID, content string) error
}

// NewDiscordNotifier opens a bot session for the given token.
func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord token and channel are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	d := &DiscordNotifier{channelID: channelID, session: session}
	d.send = func(channel, content string) error {
		_, err := session.ChannelMessageSend(channel, content)
		return err
	}
	return d, nil
}

func (d *DiscordNotifier) Notify(_ context.Context, n Notice) {
	content := n.Message
	if n.Level == LevelWarn {
		content = ":warning: " + content
	}
	if err := d.send(d.channelID, content); err != nil {
		log.Warn("Discord notice failed", "channel", d.channelID, "err", err)
	}
}

func (d *DiscordNotifier) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Warn is shorthand for a warning notice.
func Warn(ctx context.Context, n Notifier, msg string) {
	if n == nil {
		return
	}
	n.Notify(ctx, Notice{Level: LevelWarn, Message: msg, Time: time.Now().UTC()})
}

// Info is shorthand for an informational notice.
func Info(ctx context.Context, n Notifier, msg string) {
	if n == nil {
		return
	}
	n.Notify(ctx, Notice{Level: LevelInfo, Message: msg, Time: time.Now().UTC()})
}
