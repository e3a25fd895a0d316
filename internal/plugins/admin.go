package plugins

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"gisthq-bot/internal/command"
	"gisthq-bot/internal/config"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/store"
)

const topUsersLimit = 10

func (p *plugins) adminBindings() []command.Binding {
	return []command.Binding{
		{Pattern: "ban", Aliases: []string{"dban", "bandb"}, Desc: "Ban a user from the bot", Category: CategoryOwner, Handler: p.owner(react("🚫", p.ban(true)))},
		{Pattern: "unban", Aliases: []string{"dunban", "unbandb"}, Desc: "Unban a user", Category: CategoryOwner, Handler: p.owner(react("✅", p.ban(false)))},
		{Pattern: "addprem", Aliases: []string{"premium"}, Desc: "Give a user premium", Category: CategoryOwner, Handler: p.owner(react("💎", p.premium(true)))},
		{Pattern: "delprem", Aliases: []string{"unpremium"}, Desc: "Remove premium from a user", Category: CategoryOwner, Handler: p.owner(p.premium(false))},
		{Pattern: "dbstats", Desc: "Show database statistics", Category: CategoryOwner, Handler: p.owner(react("📊", p.dbStats))},
		{Pattern: "topusers", Desc: "Show the most active users", Category: CategoryOwner, Handler: p.owner(react("🏆", p.topUsers))},
		{Pattern: "sudo", Desc: "Manage sudo users (add, del, list)", Category: CategoryOwner, Handler: p.ownerOnly(p.sudo)},
		{Pattern: "setprefix", Desc: "Change the command prefix", Category: CategoryOwner, Handler: p.owner(p.setPrefix)},
		{Pattern: "mode", Desc: "Set who the bot answers (public, private, inbox, groups)", Category: CategoryOwner, Handler: p.owner(p.setMode)},
		{Pattern: "welcome", Desc: "Turn group welcome messages on or off", Category: CategoryGroup, Handler: p.welcome},
	}
}

// owner wraps h so only owners and sudo users can run it.
func (p *plugins) owner(h command.Handler) command.Handler {
	return func(ctx context.Context, req *command.Request) error {
		if !p.privileged(ctx, req) {
			req.Reply(ctx, "🚫 This command is for the bot owner only.")
			return nil
		}
		return h(ctx, req)
	}
}

// react wraps h so the triggering message gets emoji once h is reached.
// Wrap it inside the authorization check.
func react(emoji string, h command.Handler) command.Handler {
	return func(ctx context.Context, req *command.Request) error {
		req.React(ctx, emoji)
		return h(ctx, req)
	}
}

// ownerOnly excludes sudo users too.
func (p *plugins) ownerOnly(h command.Handler) command.Handler {
	return func(ctx context.Context, req *command.Request) error {
		if !req.Context.IsOwner {
			req.Reply(ctx, "🚫 This command is for the bot owner only.")
			return nil
		}
		return h(ctx, req)
	}
}

func (p *plugins) ban(banned bool) command.Handler {
	return func(ctx context.Context, req *command.Request) error {
		target := targetNumber(req)
		if target == "" {
			req.Reply(ctx, fmt.Sprintf("⚠️ Usage: %s%s @user or number", req.Settings.Prefix, req.Context.CommandName))
			return nil
		}
		if banned && p.isOwnerNumber(target) {
			req.Reply(ctx, "🚫 You can't ban an owner.")
			return nil
		}
		if err := p.Access.SetBanned(ctx, target, banned); err != nil {
			return err
		}
		req.Log.Info().Str("target", target).Bool("banned", banned).Msg("Ban list updated")
		req.Reply(ctx, yesNo(banned, "🚫 Banned ", "✅ Unbanned ")+target)
		return nil
	}
}

func (p *plugins) premium(premium bool) command.Handler {
	return func(ctx context.Context, req *command.Request) error {
		target := targetNumber(req)
		if target == "" {
			req.Reply(ctx, fmt.Sprintf("⚠️ Usage: %s%s @user or number", req.Settings.Prefix, req.Context.CommandName))
			return nil
		}
		if err := p.Access.SetPremium(ctx, target, premium); err != nil {
			return err
		}
		req.Reply(ctx, yesNo(premium, "💎 Premium granted to ", "Premium removed from ")+target)
		return nil
	}
}

func (p *plugins) dbStats(ctx context.Context, req *command.Request) error {
	st, err := store.CollectStats(ctx, p.Store)
	if err != nil {
		return err
	}
	req.Reply(ctx, fmt.Sprintf("📊 *DATABASE STATS*\n\n👥 Users: %s\n👑 Premium: %s\n🚫 Banned: %s\n🏘️ Groups: %s\n💬 Logged messages: %s",
		humanize.Comma(int64(st.Users)), humanize.Comma(int64(st.Premium)), humanize.Comma(int64(st.Banned)),
		humanize.Comma(int64(st.Groups)), humanize.Comma(int64(st.Messages))))
	return nil
}

// TopUsers returns the users with the most messages, most active first.
func TopUsers(ctx context.Context, st store.Store, limit int) ([]store.User, error) {
	var users []store.User
	err := st.Scan(ctx, store.Users, func(key string, decode store.Decoder) error {
		var u store.User
		if err := decode(&u); err != nil {
			return err
		}
		u.Number = cmp.Or(u.Number, key)
		users = append(users, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(users, func(a, b store.User) int {
		return cmp.Compare(b.MessageCount, a.MessageCount)
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (p *plugins) topUsers(ctx context.Context, req *command.Request) error {
	users, err := TopUsers(ctx, p.Store, topUsersLimit)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		req.Reply(ctx, "No users recorded yet.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString("🏆 *TOP USERS*\n")
	for i, u := range users {
		fmt.Fprintf(&sb, "\n%d. %s (%s) - %s messages", i+1, cmp.Or(u.Name, "Unknown"), u.Number, humanize.Comma(int64(u.MessageCount)))
	}
	req.Reply(ctx, sb.String())
	return nil
}

func (p *plugins) sudo(ctx context.Context, req *command.Request) error {
	args := req.Context.Args
	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "add", "del", "remove":
		var target string
		if len(args) > 1 {
			target = config.SanitizeNumber(args[1])
		}
		if c := req.Context.Content; len(c.Mentions) > 0 {
			target = c.Mentions[0].User
		}
		if target == "" {
			req.Reply(ctx, fmt.Sprintf("⚠️ Usage: %ssudo %s <number>", req.Settings.Prefix, sub))
			return nil
		}
		var err error
		if sub == "add" {
			err = p.Access.AddSudo(ctx, target)
		} else {
			err = p.Access.RemoveSudo(ctx, target)
		}
		if err != nil {
			return err
		}
		req.Reply(ctx, yesNo(sub == "add", "✅ Added sudo user ", "✅ Removed sudo user ")+target)
	case "list":
		numbers, err := p.Access.SudoNumbers(ctx)
		if err != nil {
			return err
		}
		if len(numbers) == 0 {
			req.Reply(ctx, "No sudo users.")
			return nil
		}
		req.Reply(ctx, "👑 *Sudo users:*\n• "+strings.Join(numbers, "\n• "))
	default:
		req.Reply(ctx, fmt.Sprintf("⚠️ Usage: %[1]ssudo add <number> | %[1]ssudo del <number> | %[1]ssudo list", req.Settings.Prefix))
	}
	return nil
}

func (p *plugins) setPrefix(ctx context.Context, req *command.Request) error {
	if len(req.Context.Args) == 0 {
		req.Reply(ctx, fmt.Sprintf("📝 Current prefix: [%s]", req.Settings.Prefix))
		return nil
	}
	next, err := p.Settings.Update(ctx, func(s *settings.Settings) error {
		s.Prefix = req.Context.Args[0]
		return nil
	})
	if err != nil {
		req.Reply(ctx, "⚠️ "+err.Error())
		return nil
	}
	req.Reply(ctx, fmt.Sprintf("✅ Prefix set to [%s]", next.Prefix))
	return nil
}

func (p *plugins) setMode(ctx context.Context, req *command.Request) error {
	if len(req.Context.Args) == 0 {
		req.Reply(ctx, fmt.Sprintf("📳 Current mode: [%s]\nAvailable: %s, %s, %s, %s", req.Settings.Mode,
			config.ModePublic, config.ModePrivate, config.ModeInbox, config.ModeGroups))
		return nil
	}
	next, err := p.Settings.Update(ctx, func(s *settings.Settings) error {
		s.Mode = strings.ToLower(req.Context.Args[0])
		return nil
	})
	if err != nil {
		req.Reply(ctx, "⚠️ "+err.Error())
		return nil
	}
	req.Reply(ctx, fmt.Sprintf("✅ Mode set to [%s]", next.Mode))
	return nil
}

func (p *plugins) welcome(ctx context.Context, req *command.Request) error {
	mc := req.Context
	if !mc.IsGroup {
		req.Reply(ctx, "⚠️ This command only works in groups.")
		return nil
	}
	if !mc.IsAdmin && !p.privileged(ctx, req) {
		req.Reply(ctx, "🚫 Only group admins can use this command.")
		return nil
	}
	var on, ok bool
	if len(mc.Args) > 0 {
		on, ok = parseSwitch(mc.Args[0])
	}
	if !ok {
		req.Reply(ctx, fmt.Sprintf("⚠️ Usage: %swelcome on/off", req.Settings.Prefix))
		return nil
	}
	id := mc.From.String()
	var g store.Group
	if _, err := p.Store.Get(ctx, store.Groups, id, &g); err != nil {
		return err
	}
	g.ID = id
	if mc.Group != nil && mc.Group.Name != "" {
		g.Name = mc.Group.Name
	}
	g.WelcomeEnabled = on
	if err := p.Store.Set(ctx, store.Groups, id, g); err != nil {
		return err
	}
	req.Reply(ctx, yesNo(on, "✅ Welcome messages enabled", "✅ Welcome messages disabled"))
	return nil
}
