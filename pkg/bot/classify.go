package bot

import (
	"relaybot/pkg/event"
	"relaybot/pkg/pluggable"
)

// categories maps every non-chat kind to its pluggable category.
var categories = map[event.Kind]string{
	event.KindMembership: pluggable.Membership,
	event.KindRename:     pluggable.Rename,
	event.KindHistory:    pluggable.History,
	event.KindCall:       pluggable.Call,
	event.KindTyping:     pluggable.Typing,
	event.KindWatermark:  pluggable.Watermark,
}

// Route is the classification of one raw notification.
type Route struct {
	// Category is set for generic dispatch.
	Category string
	// Chat marks the chat-message path.
	Chat bool
}

// Classify maps a kind to its route. ok is false for kinds the bot does not
// handle.
func Classify(kind event.Kind) (Route, bool) {
	if kind == event.KindChatMessage {
		return Route{Chat: true}, true
	}

	category, ok := categories[kind]
	if !ok {
		return Route{}, false
	}
	return Route{Category: category}, true
}
