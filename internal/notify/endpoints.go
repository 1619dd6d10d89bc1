package notify

import (
	"encoding/json"
	"fmt"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/query"
)

// ListEndpoint declares the notification list query. The cached value is a
// []Notification tagged with the list marker plus one item tag per element.
func ListEndpoint() query.Endpoint {
	return query.Endpoint{
		Name: "notifications.list",
		Path: "/api/notifications",
		Transform: func(body []byte) (any, error) {
			var items []Notification
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("notify: decode list: %w", err)
			}
			return items, nil
		},
		Tags: func(result any, _ map[string]string) []cache.Tag {
			items, _ := result.([]Notification)
			tags := make([]cache.Tag, 0, len(items)+1)
			tags = append(tags, ListTag(KindNotification))
			for _, item := range items {
				tags = append(tags, Tag(KindNotification, item.ID))
			}
			return tags
		},
	}
}

// UnreadCountEndpoint declares the unread-count summary query. The cached
// value is a plain int.
func UnreadCountEndpoint() query.Endpoint {
	return query.Endpoint{
		Name: "notifications.unreadCount",
		Path: "/api/notifications/unread-count",
		Transform: func(body []byte) (any, error) {
			var payload struct {
				Count int `json:"count"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, fmt.Errorf("notify: decode unread count: %w", err)
			}
			return payload.Count, nil
		},
		Tags: func(any, map[string]string) []cache.Tag {
			return []cache.Tag{UnreadCountTag()}
		},
	}
}

// ListKey is the cache key of the canonical (unparameterized) list query.
func ListKey() cache.Key {
	return ListEndpoint().Key(nil)
}

// UnreadCountKey is the cache key of the unread-count summary.
func UnreadCountKey() cache.Key {
	return UnreadCountEndpoint().Key(nil)
}
