package notify

import "github.com/wanderport/livesync/internal/cache"

// Kind is the closed set of entity kinds the portal caches. Tags are always
// built through these constants so invalidation never relies on free-form
// strings.
type Kind string

const (
	KindNotification Kind = "notification"
	KindUser         Kind = "user"
	KindPlace        Kind = "place"
	KindTour         Kind = "tour"
	KindBooking      Kind = "booking"
	KindReview       Kind = "review"
	KindArticle      Kind = "article"
	KindPage         Kind = "page"
	KindMedia        Kind = "media"
	KindCategory     Kind = "category"
	KindComment      Kind = "comment"
	KindPartner      Kind = "partner"
)

// UnreadCountID marks the running unread counter, which is neither a list
// nor a single item.
const UnreadCountID = "UNREAD_COUNT"

// Tag builds the item tag for one entity.
func Tag(kind Kind, id string) cache.Tag {
	return cache.ItemTag(string(kind), id)
}

// ListTag builds the list marker tag for a kind.
func ListTag(kind Kind) cache.Tag {
	return cache.ListTag(string(kind))
}

// UnreadCountTag tags the unread-count summary entry.
func UnreadCountTag() cache.Tag {
	return cache.ItemTag(string(KindNotification), UnreadCountID)
}

// producers maps each kind to the query definitions that can create entries
// carrying its tags. Mutations stay decoupled from queries: they declare tags
// by kind and this table is the only place the relationship is written down.
var producers = map[Kind][]string{
	KindNotification: {"notifications.list", "notifications.unreadCount"},
	KindUser:         {},
	KindPlace:        {},
	KindTour:         {},
	KindBooking:      {},
	KindReview:       {},
	KindArticle:      {},
	KindPage:         {},
	KindMedia:        {},
	KindCategory:     {},
	KindComment:      {},
	KindPartner:      {},
}

// QueriesFor lists the query names that can produce entries tagged with kind.
func QueriesFor(kind Kind) []string {
	return append([]string(nil), producers[kind]...)
}
