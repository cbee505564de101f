// Package tracker contains the core domain types for the release notification service.
package tracker

import "time"

// Chapter represents a single published chapter returned by the content index.
type Chapter struct {
	ID          string    // index's unique chapter identifier
	Number      string    // human-readable ordinal, "?" when the index omits it
	PublishedAt time.Time // readableAt timestamp from the index
	URL         string    // permanent chapter link
}

// Series represents one manga a community tracks, with its delivery watermark.
type Series struct {
	Name       string     `json:"name"`                   // display name, set at registration
	AlertTag   string     `json:"alert_tag,omitempty"`    // optional mention target, empty means no mention
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"` // newest chapter already announced, nil until primed
}

// Community represents one chat community's tracking configuration.
type Community struct {
	Series         map[string]*Series `json:"series"`                     // seriesID -> tracking state
	AnnounceChatID int64              `json:"announce_chat_id,omitempty"` // delivery target, 0 until configured
}

// Snapshot is the full durable state, keyed by community ID.
// The whole snapshot is the unit of persistence.
type Snapshot map[string]*Community

// Community returns the community record for id, creating it on first reference.
func (s Snapshot) Community(id string) *Community {
	c, ok := s[id]
	if !ok {
		c = &Community{Series: make(map[string]*Series)}
		s[id] = c
	}
	if c.Series == nil {
		c.Series = make(map[string]*Series)
	}
	return c
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, c := range s {
		cc := &Community{
			AnnounceChatID: c.AnnounceChatID,
			Series:         make(map[string]*Series, len(c.Series)),
		}
		for sid, sr := range c.Series {
			cp := *sr
			if sr.LastSeenAt != nil {
				t := *sr.LastSeenAt
				cp.LastSeenAt = &t
			}
			cc.Series[sid] = &cp
		}
		out[id] = cc
	}
	return out
}
