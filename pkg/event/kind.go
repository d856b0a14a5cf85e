package event

// Kind identifies the shape of a transport notification.
type Kind int

const (
	KindUnknown Kind = iota
	KindChatMessage
	KindMembership
	KindRename
	KindHistory
	KindCall
	KindTyping
	KindWatermark
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindChatMessage: "chat_message",
	KindMembership:  "membership",
	KindRename:      "rename",
	KindHistory:     "history",
	KindCall:        "call",
	KindTyping:      "typing",
	KindWatermark:   "watermark",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return kindNames[KindUnknown]
}

// IsStatus reports whether the kind is a conversation status notification
// rather than a conversation event.
func (k Kind) IsStatus() bool {
	return k == KindTyping || k == KindWatermark
}
