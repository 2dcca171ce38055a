package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/flitsinc/go-backlog/internal/command"
	"github.com/flitsinc/go-backlog/internal/render"
)

// Embeds converts rendered embeds into Discord embeds.
func Embeds(msg render.Message) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(msg.Embeds))
	for _, e := range msg.Embeds {
		embed := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		for _, f := range e.Fields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if !e.Timestamp.IsZero() {
			embed.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, embed)
	}
	return out
}

// Components converts status controls into a single row of buttons whose
// custom ids are encoded commands. No controls yields no rows.
func Components(msg render.Message) []discordgo.MessageComponent {
	if len(msg.Controls) == 0 {
		return []discordgo.MessageComponent{}
	}
	row := discordgo.ActionsRow{}
	for _, c := range msg.Controls {
		row.Components = append(row.Components, discordgo.Button{
			Label:    c.Label,
			Style:    buttonStyle(c.Style),
			CustomID: command.Encode(command.Command{ActivityID: c.ActivityID, Target: c.Target}),
		})
	}
	return []discordgo.MessageComponent{row}
}

func buttonStyle(s render.ControlStyle) discordgo.ButtonStyle {
	switch s {
	case render.StyleSuccess:
		return discordgo.SuccessButton
	case render.StyleSecondary:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}
