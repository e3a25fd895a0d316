package plugins

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gisthq-bot/internal/command"
)

func (p *plugins) mainBindings() []command.Binding {
	return []command.Binding{
		{Pattern: "alive", Aliases: []string{"status", "online", "a"}, Desc: "Check bot is alive or not", Category: CategoryMain, React: "📌", Handler: p.alive},
		{Pattern: "ping", Aliases: []string{"speed"}, Desc: "Check response time", Category: CategoryMain, React: "⚡", Handler: p.ping},
		{Pattern: "menu", Aliases: []string{"help", "list"}, Desc: "Show all commands", Category: CategoryMain, React: "📜", Handler: p.menu},
		{Pattern: "uptime", Aliases: []string{"runtime"}, Desc: "Show how long the bot has been running", Category: CategoryMain, Handler: p.uptime},
	}
}

// FormatUptime renders d as "1d 2h 3m 4s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func (p *plugins) alive(ctx context.Context, req *command.Request) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s := req.Settings
	status := fmt.Sprintf(`╭─🔴──〔 *🤖 %s STATUS* 〕───◉
│✨ *Bot is Active & Online!*
│
│🧠 *Owner:* %s
│⚡ *Version:* %s
│📝 *Prefix:* [%s]
│📳 *Mode:* [%s]
│💾 *RAM:* %s / %s
│↪ *Uptime:* %s
╰─🔴───────────────────◉
> %s`, s.BotName, s.OwnerName, Version, s.Prefix, s.Mode,
		humanize.IBytes(mem.HeapAlloc), humanize.IBytes(mem.Sys),
		FormatUptime(p.now().Sub(p.Started)), s.Description)
	req.Reply(ctx, status)
	return nil
}

func (p *plugins) ping(ctx context.Context, req *command.Request) error {
	start := p.now()
	if !req.Reply(ctx, "🏓 Pinging...") {
		return nil
	}
	req.Reply(ctx, fmt.Sprintf("🏓 Pong! %dms", p.now().Sub(start).Milliseconds()))
	return nil
}

func (p *plugins) uptime(ctx context.Context, req *command.Request) error {
	req.Reply(ctx, fmt.Sprintf("⏱️ *Uptime:* %s", FormatUptime(p.now().Sub(p.Started))))
	return nil
}

// MenuText lists the pattern bindings grouped by category.
func MenuText(bindings []command.Binding, botName, prefix string) string {
	byCategory := make(map[string][]command.Binding)
	for _, b := range bindings {
		if b.Trigger != command.Pattern {
			continue
		}
		cat := cmp.Or(b.Category, "misc")
		byCategory[cat] = append(byCategory[cat], b)
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	slices.Sort(categories)

	var sb strings.Builder
	fmt.Fprintf(&sb, "╭───〔 *%s MENU* 〕───◉\n", strings.ToUpper(botName))
	for _, cat := range categories {
		fmt.Fprintf(&sb, "│\n│ *%s*\n", strings.ToUpper(cat))
		for _, b := range byCategory[cat] {
			fmt.Fprintf(&sb, "│ • %s%s", prefix, b.Pattern)
			if b.Desc != "" {
				fmt.Fprintf(&sb, " - %s", b.Desc)
			}
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("╰──────────────◉")
	return sb.String()
}

func (p *plugins) menu(ctx context.Context, req *command.Request) error {
	req.Reply(ctx, MenuText(p.Registry.Bindings(), req.Settings.BotName, req.Settings.Prefix))
	return nil
}
