// Package activitypub holds the ActivityStreams wire types the node reads and
// writes, the inbound shape validation and one serializer per outbound activity.
package activitypub

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON-LD contexts and well-known IRIs.
const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

// Media types.
const (
	ContentType   = "application/activity+json"
	LDContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	AcceptHeader  = ContentType + ", " + LDContentType
)

// Activity types the node understands.
const (
	TypeFollow   = "Follow"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeUndo     = "Undo"
	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeDelete   = "Delete"
	TypeAnnounce = "Announce"
	TypeLike     = "Like"
)

// Object types.
const (
	TypeNote      = "Note"
	TypeArticle   = "Article"
	TypeTombstone = "Tombstone"
	TypeMention   = "Mention"
	TypeHashtag   = "Hashtag"
	TypeImage     = "Image"
	TypeDocument  = "Document"

	TypeOrderedCollection     = "OrderedCollection"
	TypeOrderedCollectionPage = "OrderedCollectionPage"
)

var activityTypes = map[string]struct{}{
	TypeFollow:   {},
	TypeAccept:   {},
	TypeReject:   {},
	TypeUndo:     {},
	TypeCreate:   {},
	TypeUpdate:   {},
	TypeDelete:   {},
	TypeAnnounce: {},
	TypeLike:     {},
}

var actorTypes = map[string]struct{}{
	"Person":       {},
	"Service":      {},
	"Application":  {},
	"Group":        {},
	"Organization": {},
}

// IsActorType reports whether t names an actor.
func IsActorType(t string) bool {
	_, ok := actorTypes[t]
	return ok
}

// IsPostType reports whether t is one of the post object variants.
func IsPostType(t string) bool {
	return t == TypeNote || t == TypeArticle
}

// DefaultContext is the @context written on every outbound document.
func DefaultContext() []interface{} {
	return []interface{}{ActivityStreamsContext, SecurityContext}
}
