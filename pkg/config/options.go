package config

import (
	"slices"
	"time"
)

// CommandsEnabledFor resolves commands_enabled for convID.
func (b BotConfig) CommandsEnabledFor(convID string) bool {
	if conv, ok := b.Conversations[convID]; ok && conv.CommandsEnabled != nil {
		return *conv.CommandsEnabled
	}
	return b.CommandsEnabled == nil || *b.CommandsEnabled
}

// AdminsFor resolves the admin list for convID.
func (b BotConfig) AdminsFor(convID string) []string {
	if conv, ok := b.Conversations[convID]; ok && conv.Admins != nil {
		return conv.Admins
	}
	return b.Admins
}

// IsAdmin reports whether userID is an admin in convID.
func (b BotConfig) IsAdmin(userID string, convID string) bool {
	return slices.Contains(b.AdminsFor(convID), userID)
}

// IsIgnored reports whether userID is tagged to be ignored by the command
// router in convID.
func (b BotConfig) IsIgnored(userID string, convID string) bool {
	if conv, ok := b.Conversations[convID]; ok && slices.Contains(conv.Ignore, userID) {
		return true
	}
	return slices.Contains(b.Ignore, userID)
}

// CommandsAdminFor resolves the commands restricted to admins in convID.
func (b BotConfig) CommandsAdminFor(convID string) []string {
	if conv, ok := b.Conversations[convID]; ok && conv.CommandsAdmin != nil {
		return conv.CommandsAdmin
	}
	return b.CommandsAdmin
}

// AutoAlias reports whether one-to-one messages may omit the alias.
func (b BotConfig) AutoAlias() bool {
	return b.AutoAliasOneToOne == nil || *b.AutoAliasOneToOne
}

// PollInterval returns the upload polling interval.
func (c CorrelationConfig) PollInterval() time.Duration {
	return time.Duration(c.UploadPollIntervalMS) * time.Millisecond
}

func (c CorrelationConfig) UploadTTL() time.Duration {
	return time.Duration(c.UploadTTLSeconds) * time.Second
}

func (c CorrelationConfig) ExecutableTTL() time.Duration {
	return time.Duration(c.ExecutableTTLSeconds) * time.Second
}

// RequestTimeout returns the provider request timeout, or zero.
func (c OpenAIProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
