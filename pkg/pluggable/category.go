package pluggable

// Category names handlers register against.
const (
	AllMessages = "allmessages"
	Call        = "call"
	Membership  = "membership"
	Message     = "message"
	Rename      = "rename"
	History     = "history"
	Sending     = "sending"
	Typing      = "typing"
	Watermark   = "watermark"
)

var categories = []string{
	AllMessages,
	Call,
	Membership,
	Message,
	Rename,
	History,
	Sending,
	Typing,
	Watermark,
}

// Categories returns the fixed category set in registry order.
func Categories() []string {
	return append([]string(nil), categories...)
}

// IsCategory reports whether name is one of the fixed categories.
func IsCategory(name string) bool {
	for _, category := range categories {
		if category == name {
			return true
		}
	}

	return false
}

// forbidsSuspension reports whether handlers of the category must run to
// completion synchronously.
func forbidsSuspension(category string) bool {
	return category == Sending
}
