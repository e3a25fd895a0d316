package main

import (
	"fmt"
	"strings"

	"gisthq-bot/internal/plugins"
	"gisthq-bot/internal/settings"
)

//////////////////////////////////////////////////////////////
// PERSONA
//////////////////////////////////////////////////////////////

// startupText is sent to the bot's own chat after the first connect.
func startupText(s settings.Settings) string {
	return fmt.Sprintf(`╭───〔 *🤖 %s* 〕───◉
│✨ *Connected successfully!*
│
│⚡ *Version:* %s
│📝 *Prefix:* [%s]
│📳 *Mode:* [%s]
│👑 *Owner:* %s
│
│Type *%smenu* to see the commands.
╰──────────────◉
> %s`, strings.ToUpper(s.BotName), plugins.Version, s.Prefix, s.Mode, s.OwnerName, s.Prefix, s.Description)
}

func welcomeText(s settings.Settings, group, mentions string) string {
	if group == "" {
		group = "the group"
	}
	return fmt.Sprintf(`👋 Welcome %s to *%s*!

📋 Please introduce yourself and read the group description.
📝 Remember to mark your daily attendance with the GIST HQ form.

> %s`, mentions, group, s.BotName)
}
