// Package domain defines the cached record types for chat messages, topic
// summaries, container metadata, and provisioning staging data. These types
// are the JSON wire format stored in the key-value cache and reconciled
// against the durable backend, so field names and value encodings are fixed.
package domain

import (
	"encoding/json"
	"fmt"
)

// SyncState marks whether a cached chat message has been flushed to the
// durable backend.
//
// The legacy cache stores this flag under the "db_sync" field as the string
// "false" (pending) or "true" (synced); the custom JSON methods preserve that
// encoding so old and new processes can share one store.
type SyncState int

const (
	// SyncPending means the message exists only in the cache and is
	// awaiting the next reconciliation cycle.
	SyncPending SyncState = iota
	// SyncSynced means the message has been persisted durably.
	SyncSynced
)

// String returns "pending" or "synced" for logging.
func (s SyncState) String() string {
	if s == SyncSynced {
		return "synced"
	}
	return "pending"
}

// MarshalJSON encodes the state as the legacy "false"/"true" string.
func (s SyncState) MarshalJSON() ([]byte, error) {
	if s == SyncSynced {
		return json.Marshal("true")
	}
	return json.Marshal("false")
}

// UnmarshalJSON decodes the legacy "false"/"true" string. Unknown values are
// rejected so corrupt entries surface as parse failures rather than being
// silently treated as pending.
func (s *SyncState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw {
	case "true":
		*s = SyncSynced
	case "false":
		*s = SyncPending
	default:
		return fmt.Errorf("invalid sync state %q", raw)
	}
	return nil
}

// ChatMessage is one user/assistant exchange in a conversation. A message
// belongs to an (owner, topic) pair; the owning key is not repeated inside
// the record. Insertion order in the cached list is display order and is
// never reordered.
type ChatMessage struct {
	Assistant string    `json:"assistant"`
	User      string    `json:"user"`
	SyncState SyncState `json:"db_sync"`
}

// TopicSummary is one entry in a user's conversation index: the topic name
// and its current message count. One summary list exists per owner,
// deduplicated by case-insensitive topic name.
type TopicSummary struct {
	Topic        string `json:"topic"`
	MessageCount int    `json:"message_count"`
}

// ContainerSpecs holds the resource allocation recorded for a provisioned
// container. Values are free-form strings as delivered by the provisioning
// API (e.g. "2", "8gb").
type ContainerSpecs struct {
	VCPU string `json:"vcpu"`
	RAM  string `json:"ram"`
}

// ContainerRecord describes one provisioned container in a user's list.
// Name is the de facto identity within the list; it is not globally unique
// (uniqueness across a user's history is enforced by the name registry,
// not here).
type ContainerRecord struct {
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	CreatedTime string          `json:"created_time"`
	Running     bool            `json:"running"`
	GitLink     string          `json:"gitlink,omitempty"`
	Specs       *ContainerSpecs `json:"specs,omitempty"`
}

// CardSummary is the projection of a ContainerRecord used by listing UIs.
// Missing specs are substituted with "N/A" placeholders.
type CardSummary struct {
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	CreatedTime string         `json:"created_time"`
	Running     bool           `json:"running"`
	GitLink     string         `json:"gitlink"`
	Specs       ContainerSpecs `json:"specs"`
}

// Card projects the record down to its listing form.
func (c ContainerRecord) Card() CardSummary {
	out := CardSummary{
		Name:        c.Name,
		URL:         c.URL,
		CreatedTime: c.CreatedTime,
		Running:     c.Running,
		GitLink:     c.GitLink,
		Specs:       ContainerSpecs{VCPU: "N/A", RAM: "N/A"},
	}
	if c.Specs != nil {
		out.Specs = *c.Specs
	}
	return out
}

// TechStack is the phase-1 staging payload collected when the conversation
// confirms the technology stack.
type TechStack struct {
	Frontend string
	Backend  string
	DB       string
}

// ServerStack is the phase-2 staging payload collected when the conversation
// confirms the resource requirements.
type ServerStack struct {
	RAM string
	Mem string
	CPU string
}

// StagingRecord accumulates the deployment parameters for one (owner, topic)
// conversation across the two confirmation phases. Phase-2 fields are empty
// until ServerStack data is merged in; they are omitted from JSON so a
// phase-1 record round-trips without phantom fields.
type StagingRecord struct {
	Name     string `json:"name"`
	Frontend string `json:"frontend"`
	Backend  string `json:"backend"`
	DB       string `json:"db"`
	RAM      string `json:"ram,omitempty"`
	Mem      string `json:"mem,omitempty"`
	CPU      string `json:"cpu,omitempty"`
}

// MergeServerStack merges phase-2 resource values into the record. Every
// incoming field must be non-empty: a merge that would blank an already
// present value is rejected, so a malformed second phase cannot destroy
// phase-1 progress.
func (r *StagingRecord) MergeServerStack(s ServerStack) error {
	if s.RAM == "" || s.Mem == "" || s.CPU == "" {
		return fmt.Errorf("incomplete server stack: ram=%q mem=%q cpu=%q", s.RAM, s.Mem, s.CPU)
	}
	r.RAM = s.RAM
	r.Mem = s.Mem
	r.CPU = s.CPU
	return nil
}

// Complete reports whether both staging phases have been recorded.
func (r StagingRecord) Complete() bool {
	return r.Frontend != "" && r.Backend != "" && r.DB != "" &&
		r.RAM != "" && r.Mem != "" && r.CPU != ""
}

// Turn is one role-tagged utterance in the durable backend's batch format.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn roles accepted by the durable backend.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ExpandTurns converts cached messages into the durable backend's shape.
// Each message expands into two turns, user first then assistant, preserving
// message order.
func ExpandTurns(msgs []ChatMessage) []Turn {
	out := make([]Turn, 0, 2*len(msgs))
	for _, m := range msgs {
		out = append(out,
			Turn{Role: RoleUser, Content: m.User},
			Turn{Role: RoleAssistant, Content: m.Assistant},
		)
	}
	return out
}
