// Package keys maps cache entities to their store keys. All functions are
// pure and deterministic: the same (kind, owner, topic) always yields the
// same key, and the seven key families never collide because each carries a
// distinct prefix.
//
// Owner values are used verbatim (no case normalization — the legacy store
// was populated that way and changing it would orphan existing entries).
// Topic values are trimmed of surrounding whitespace only.
package keys

import (
	"errors"
	"strings"
)

// Key family prefixes.
const (
	prefixChatMessages    = "chat_messages"
	prefixUndeployedChats = "undeployed_chats"
	prefixContainerInfo   = "container_info"
	prefixNewContainer    = "new_container_info"
	prefixContainers      = "containers"
	prefixTechProcessed   = "techstack_processed"
	prefixServerProcessed = "serverstack_processed"
)

// ErrInvalidKey is returned by ParseChatMessages for keys that do not match
// the chat-message family layout.
var ErrInvalidKey = errors.New("invalid chat message key")

// ChatMessages returns the key holding the message list for one
// (owner, topic) conversation.
func ChatMessages(owner, topic string) string {
	return prefixChatMessages + ":" + owner + ":" + strings.TrimSpace(topic)
}

// UndeployedChats returns the key holding the owner's topic-summary list.
func UndeployedChats(owner string) string {
	return prefixUndeployedChats + ":" + owner
}

// ContainerInfo returns the key holding the owner's container records.
func ContainerInfo(owner string) string {
	return prefixContainerInfo + ":" + owner
}

// NewContainerInfo returns the key holding the provisioning staging record
// for one (owner, topic) conversation.
func NewContainerInfo(owner, topic string) string {
	return prefixNewContainer + ":" + owner + ":" + strings.TrimSpace(topic)
}

// Containers returns the key holding the owner's allocated-name registry.
func Containers(owner string) string {
	return prefixContainers + ":" + owner
}

// TechStackProcessed returns the guard-flag key recording that the
// tech-stack transition already fired for this conversation.
func TechStackProcessed(owner, topic string) string {
	return prefixTechProcessed + ":" + owner + ":" + strings.TrimSpace(topic)
}

// ServerStackProcessed returns the guard-flag key recording that the
// server-stack transition already fired for this conversation.
func ServerStackProcessed(owner, topic string) string {
	return prefixServerProcessed + ":" + owner + ":" + strings.TrimSpace(topic)
}

// ChatMessagesPattern returns the scan pattern matching every chat-message
// list key. Used by the reconciler to enumerate conversations.
func ChatMessagesPattern() string {
	return prefixChatMessages + ":*"
}

// ParseChatMessages extracts (owner, topic) from a chat-message list key.
// Keys must have exactly three colon-separated parts; anything else is
// rejected, which also skips topics containing ':' the same way the legacy
// syncer did.
func ParseChatMessages(key string) (owner, topic string, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != prefixChatMessages {
		return "", "", ErrInvalidKey
	}
	return parts[1], parts[2], nil
}
