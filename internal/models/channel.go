package models

import (
	"bytes"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChannelType is a closed enum. Anything else is rejected at validation.
type ChannelType string

const (
	// ChannelDirect is a private 1:1 conversation. Exactly two members,
	// immutable name, cannot be archived.
	ChannelDirect ChannelType = "DIRECT"
	// ChannelGroup is an ad-hoc multi-user conversation.
	ChannelGroup ChannelType = "GROUP"
	// ChannelTopic is bound to an external entity (a task, a project)
	// and is unique per (tenant, entityType, entityID).
	ChannelTopic ChannelType = "TOPIC"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelDirect, ChannelGroup, ChannelTopic:
		return true
	}
	return false
}

// RequiresEntity reports whether the type must carry an entity binding.
func (t ChannelType) RequiresEntity() bool {
	return t == ChannelTopic
}

// Channel is a conversation container within a tenant.
//
// MemberCount, MessageCount and LastMessageAt are denormalized stats
// maintained at write time; they are never recomputed by traversal.
type Channel struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	Type        ChannelType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`

	// Entity binding for TOPIC channels.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   int64  `json:"entity_id,omitempty"`

	// PeerID is the second participant of a DIRECT channel. CreatedBy
	// holds the canonically smaller user id, PeerID the larger, which
	// makes the (tenant, created_by, peer_id) pair a deterministic
	// lookup key.
	PeerID *uuid.UUID `json:"peer_id,omitempty"`

	IsPrivate  bool `json:"is_private"`
	IsArchived bool `json:"is_archived"`

	MemberCount   int        `json:"member_count"`
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// canonicalPair orders two user ids deterministically (byte order).
func canonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// CanonicalDirectPair exposes the ordering used for DIRECT lookups so the
// directory and the store agree on which id is the "creator".
func CanonicalDirectPair(u1, u2 uuid.UUID) (uuid.UUID, uuid.UUID) {
	return canonicalPair(u1, u2)
}

// NewDirectChannel builds a DIRECT channel between two users. The smaller
// id becomes CreatedBy, the larger PeerID.
func NewDirectChannel(tenantID, userID1, userID2 uuid.UUID) *Channel {
	smaller, larger := canonicalPair(userID1, userID2)
	now := time.Now()
	return &Channel{
		TenantID:    tenantID,
		Type:        ChannelDirect,
		Name:        "dm:" + smaller.String() + ":" + larger.String(),
		PeerID:      &larger,
		IsPrivate:   true,
		MemberCount: 2,
		CreatedBy:   smaller,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewGroupChannel builds a GROUP channel. The creator counts as the first
// member.
func NewGroupChannel(tenantID, createdBy uuid.UUID, name, description string, isPrivate bool) *Channel {
	now := time.Now()
	return &Channel{
		TenantID:    tenantID,
		Type:        ChannelGroup,
		Name:        name,
		Description: description,
		IsPrivate:   isPrivate,
		MemberCount: 1,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTopicChannel builds a TOPIC channel bound to an external entity.
// Topic channels are public within their tenant.
func NewTopicChannel(tenantID, createdBy uuid.UUID, name, entityType string, entityID int64) *Channel {
	now := time.Now()
	return &Channel{
		TenantID:    tenantID,
		Type:        ChannelTopic,
		Name:        name,
		EntityType:  entityType,
		EntityID:    entityID,
		MemberCount: 1,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateForCreation checks required fields before any persistence.
func (c *Channel) ValidateForCreation() error {
	if c.TenantID == uuid.Nil {
		return Validationf("channel tenant id is required")
	}
	if c.CreatedBy == uuid.Nil {
		return Validationf("channel creator id is required")
	}
	if !c.Type.Valid() {
		return Validationf("unknown channel type %q", string(c.Type))
	}
	if strings.TrimSpace(c.Name) == "" {
		return Validationf("channel name is required")
	}
	if c.Type.RequiresEntity() && (c.EntityType == "" || c.EntityID == 0) {
		return Validationf("entity type and id are required for TOPIC channel")
	}
	if c.Type == ChannelDirect && (c.PeerID == nil || *c.PeerID == uuid.Nil) {
		return Validationf("peer id is required for DIRECT channel")
	}
	return nil
}

// UpdateInfo renames the channel. DIRECT channels are immutable and
// archived channels reject all mutation.
func (c *Channel) UpdateInfo(name, description string) error {
	if c.IsArchived {
		return InvalidStatef("cannot modify archived channel %s", c.ID)
	}
	if c.Type == ChannelDirect {
		return InvalidStatef("cannot update DIRECT channel %s", c.ID)
	}
	if strings.TrimSpace(name) == "" {
		return Validationf("channel name is required")
	}
	c.Name = name
	c.Description = description
	c.touch()
	return nil
}

func (c *Channel) Archive() error {
	if c.IsArchived {
		return InvalidStatef("channel %s is already archived", c.ID)
	}
	if c.Type == ChannelDirect {
		return InvalidStatef("cannot archive DIRECT channel %s", c.ID)
	}
	c.IsArchived = true
	c.touch()
	return nil
}

func (c *Channel) Unarchive() error {
	if !c.IsArchived {
		return InvalidStatef("channel %s is not archived", c.ID)
	}
	c.IsArchived = false
	c.touch()
	return nil
}

// RecordMessage bumps the message counter and the last-activity stamp.
func (c *Channel) RecordMessage() error {
	if c.IsArchived {
		return InvalidStatef("cannot post to archived channel %s", c.ID)
	}
	c.MessageCount++
	now := time.Now()
	c.LastMessageAt = &now
	c.UpdatedAt = now
	return nil
}

func (c *Channel) IncrementMemberCount() error {
	if c.Type == ChannelDirect && c.MemberCount >= 2 {
		return InvalidStatef("DIRECT channel %s cannot have more than 2 members", c.ID)
	}
	c.MemberCount++
	c.touch()
	return nil
}

func (c *Channel) DecrementMemberCount() {
	if c.MemberCount > 0 {
		c.MemberCount--
	}
	c.touch()
}

func (c *Channel) IsDirect() bool { return c.Type == ChannelDirect }
func (c *Channel) IsTopic() bool  { return c.Type == ChannelTopic }
func (c *Channel) IsActive() bool { return !c.IsArchived }

// OtherUser returns the counterpart of a DIRECT conversation.
func (c *Channel) OtherUser(userID uuid.UUID) (uuid.UUID, bool) {
	if c.Type != ChannelDirect || c.PeerID == nil {
		return uuid.Nil, false
	}
	switch userID {
	case c.CreatedBy:
		return *c.PeerID, true
	case *c.PeerID:
		return c.CreatedBy, true
	}
	return uuid.Nil, false
}

// LinkedTo reports whether a TOPIC channel is bound to the given entity.
func (c *Channel) LinkedTo(entityType string, entityID int64) bool {
	return c.Type == ChannelTopic && c.EntityType == entityType && c.EntityID == entityID
}

func (c *Channel) touch() {
	c.UpdatedAt = time.Now()
}
