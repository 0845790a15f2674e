package events

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	Type Name                `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

type decoder func(data []byte) (Event, error)

func decodeAs[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

var decoders = map[Name]decoder{
	AccountFollowed:   decodeAs[AccountFollowedEvent],
	AccountUnfollowed: decodeAs[AccountUnfollowedEvent],
	AccountBlocked:    decodeAs[AccountBlockedEvent],
	AccountUnblocked:  decodeAs[AccountUnblockedEvent],
	DomainBlocked:     decodeAs[DomainBlockedEvent],
	DomainUnblocked:   decodeAs[DomainUnblockedEvent],
	AccountUpdated:    decodeAs[AccountUpdatedEvent],
	NotificationsRead: decodeAs[NotificationsReadEvent],
	PostCreated:       decodeAs[PostCreatedEvent],
	PostUpdated:       decodeAs[PostUpdatedEvent],
	PostDeleted:       decodeAs[PostDeletedEvent],
	PostLiked:         decodeAs[PostLikedEvent],
	PostUnliked:       decodeAs[PostUnlikedEvent],
	PostReposted:      decodeAs[PostRepostedEvent],
	PostDereposted:    decodeAs[PostDerepostedEvent],
	MentionCreated:    decodeAs[MentionCreatedEvent],
}

// MarshalEvent encodes e as {"type": <name>, "data": {...}}.
func MarshalEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventName(), err)
	}
	return json.Marshal(envelope{Type: e.EventName(), Data: data})
}

// UnmarshalEvent decodes an envelope produced by MarshalEvent into the
// matching value type.
func UnmarshalEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	e, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return e, nil
}
