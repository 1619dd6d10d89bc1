package notify

import (
	"net/http"

	"github.com/wanderport/livesync/internal/cache"
	"github.com/wanderport/livesync/internal/mutation"
)

// MarkReadDefinition flips one notification to read. The optimistic patches
// update the list entry and decrement the unread counter before the request
// settles; settlement invalidates the item, list, and counter tags so
// subscribed views converge to server truth.
func MarkReadDefinition() mutation.Definition {
	listKey := ListKey()
	countKey := UnreadCountKey()
	return mutation.Definition{
		Name:   "notifications.markRead",
		Method: http.MethodPut,
		Path: func(args mutation.Args) string {
			return "/api/notifications/" + args["id"] + "/read"
		},
		Optimistic: func(args mutation.Args) []mutation.PatchOp {
			return []mutation.PatchOp{
				{Key: listKey, Mutate: markItemRead(args["id"])},
				{Key: countKey, Mutate: decrementCount},
			}
		},
		InvalidatesTags: func(_ any, args mutation.Args) []cache.Tag {
			return []cache.Tag{
				Tag(KindNotification, args["id"]),
				ListTag(KindNotification),
				UnreadCountTag(),
			}
		},
	}
}

// MarkAllReadDefinition flips every notification to read and zeroes the
// counter optimistically.
func MarkAllReadDefinition() mutation.Definition {
	listKey := ListKey()
	countKey := UnreadCountKey()
	return mutation.Definition{
		Name:   "notifications.markAllRead",
		Method: http.MethodPost,
		Path: func(mutation.Args) string {
			return "/api/notifications/read-all"
		},
		Optimistic: func(mutation.Args) []mutation.PatchOp {
			return []mutation.PatchOp{
				{Key: listKey, Mutate: markAllRead},
				{Key: countKey, Mutate: func(any) any { return 0 }},
			}
		},
		InvalidatesTags: func(any, mutation.Args) []cache.Tag {
			return []cache.Tag{ListTag(KindNotification), UnreadCountTag()}
		},
	}
}

// DeleteDefinition removes a notification. The optimistic patch drops it
// from the list; the counter is left to invalidation since whether the
// deleted item was unread is server knowledge.
func DeleteDefinition() mutation.Definition {
	listKey := ListKey()
	return mutation.Definition{
		Name:   "notifications.delete",
		Method: http.MethodDelete,
		Path: func(args mutation.Args) string {
			return "/api/notifications/" + args["id"]
		},
		Optimistic: func(args mutation.Args) []mutation.PatchOp {
			return []mutation.PatchOp{
				{Key: listKey, Mutate: removeItem(args["id"])},
			}
		},
		InvalidatesTags: func(_ any, args mutation.Args) []cache.Tag {
			return []cache.Tag{
				Tag(KindNotification, args["id"]),
				ListTag(KindNotification),
				UnreadCountTag(),
			}
		},
	}
}

func markItemRead(id string) func(any) any {
	return func(data any) any {
		items, ok := data.([]Notification)
		if !ok {
			return data
		}
		out := make([]Notification, len(items))
		for i, item := range items {
			if item.ID == id {
				item.IsRead = true
			}
			out[i] = item
		}
		return out
	}
}

func markAllRead(data any) any {
	items, ok := data.([]Notification)
	if !ok {
		return data
	}
	out := make([]Notification, len(items))
	for i, item := range items {
		item.IsRead = true
		out[i] = item
	}
	return out
}

func removeItem(id string) func(any) any {
	return func(data any) any {
		items, ok := data.([]Notification)
		if !ok {
			return data
		}
		out := make([]Notification, 0, len(items))
		for _, item := range items {
			if item.ID == id {
				continue
			}
			out = append(out, item)
		}
		return out
	}
}

func decrementCount(data any) any {
	n, ok := data.(int)
	if !ok || n <= 0 {
		return 0
	}
	return n - 1
}
