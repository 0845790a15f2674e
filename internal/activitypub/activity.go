package activitypub

import (
	"time"
)

// Activity is the envelope of every inbound and outbound activity.
type Activity struct {
	Context   interface{} `json:"@context,omitempty"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Object    ObjectRef   `json:"object"`
	To        Audience    `json:"to,omitempty"`
	Cc        Audience    `json:"cc,omitempty"`
	Published *time.Time  `json:"published,omitempty"`
}

// Encode marshals the activity for delivery or storage.
func (a *Activity) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// Recipients returns every to and cc entry.
func (a *Activity) Recipients() []string {
	out := make([]string, 0, len(a.To)+len(a.Cc))
	out = append(out, a.To...)
	return append(out, a.Cc...)
}
