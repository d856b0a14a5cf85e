package bus

import "relaybot/pkg/event"

// OutboundMessage is one message the bot asks a transport to deliver.
// Annotations must come back on the transport's echo of the message.
type OutboundMessage struct {
	ID             string             `json:"id"`
	Channel        string             `json:"channel"`
	ChatID         string             `json:"chat_id"`
	ConversationID string             `json:"conversation_id"`
	Content        string             `json:"content"`
	Image          string             `json:"image,omitempty"`
	Annotations    []event.Annotation `json:"annotations,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}
