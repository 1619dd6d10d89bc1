package cache

// Tag relates cached query results to the mutations and stream events that
// should invalidate them. It is the only coupling between unrelated queries
// and writers: a mutation declares which tags it invalidates without knowing
// which queries produced entries carrying those tags.
type Tag struct {
	Kind string
	ID   string
}

// ListID marks the tag carried by every list-style query for a kind, as
// opposed to a single item's id.
const ListID = "LIST"

// ItemTag builds the tag for one entity instance.
func ItemTag(kind, id string) Tag {
	return Tag{Kind: kind, ID: id}
}

// ListTag builds the list marker tag for a kind.
func ListTag(kind string) Tag {
	return Tag{Kind: kind, ID: ListID}
}

func (t Tag) String() string {
	return t.Kind + ":" + t.ID
}

type tagSet map[Tag]struct{}

func newTagSet(tags []Tag) tagSet {
	set := make(tagSet, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return set
}

func (s tagSet) intersects(tags []Tag) bool {
	for _, tag := range tags {
		if _, ok := s[tag]; ok {
			return true
		}
	}
	return false
}
