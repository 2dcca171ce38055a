package backlog

// Board is the per-workspace pointer record for the aggregate board
// messages. Each reference is independently optional.
type Board struct {
	ChannelID        string `json:"channelId,omitempty"`
	ChannelMessageID string `json:"channelMessageId,omitempty"`
	WebhookMessageID string `json:"webhookMessageId,omitempty"`
}

// BoardPatch is a partial update of a Board. Nil fields are left untouched;
// a non-nil pointer to "" clears the reference.
type BoardPatch struct {
	ChannelID        *string
	ChannelMessageID *string
	WebhookMessageID *string
}

// Apply merges p onto b, last write wins per present field.
func (b Board) Apply(p BoardPatch) Board {
	if p.ChannelID != nil {
		b.ChannelID = *p.ChannelID
	}
	if p.ChannelMessageID != nil {
		b.ChannelMessageID = *p.ChannelMessageID
	}
	if p.WebhookMessageID != nil {
		b.WebhookMessageID = *p.WebhookMessageID
	}
	return b
}

func (p BoardPatch) Empty() bool {
	return p.ChannelID == nil && p.ChannelMessageID == nil && p.WebhookMessageID == nil
}

// Ref returns a pointer to v for use in a BoardPatch.
func Ref(v string) *string {
	return &v
}
