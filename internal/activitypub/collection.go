package activitypub

import (
	"net/url"
	"strconv"
)

// OrderedCollection is the landing document of a paged collection.
type OrderedCollection struct {
	Context    interface{} `json:"@context,omitempty"`
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	TotalItems int64       `json:"totalItems"`
	First      string      `json:"first,omitempty"`
}

// OrderedCollectionPage is one page of a collection, newest first.
type OrderedCollectionPage struct {
	Context      interface{}   `json:"@context,omitempty"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	PartOf       string        `json:"partOf"`
	TotalItems   int64         `json:"totalItems"`
	OrderedItems []interface{} `json:"orderedItems"`
	Next         string        `json:"next,omitempty"`
}

// PageURL returns the URL of the page starting after cursor (0 = first page).
func PageURL(collectionID string, cursor uint) string {
	u, err := url.Parse(collectionID)
	if err != nil {
		return collectionID
	}
	q := url.Values{}
	q.Set("page", "true")
	if cursor > 0 {
		q.Set("cursor", strconv.FormatUint(uint64(cursor), 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewCollection builds the landing document.
func NewCollection(id string, total int64) *OrderedCollection {
	return &OrderedCollection{
		Context:    ActivityStreamsContext,
		ID:         id,
		Type:       TypeOrderedCollection,
		TotalItems: total,
		First:      PageURL(id, 0),
	}
}

// NewCollectionPage builds one page. nextCursor is the keyset cursor of the
// following page; a full page with a cursor gets a next link.
func NewCollectionPage(id string, total int64, cursor uint, items []interface{}, pageSize int, nextCursor uint) *OrderedCollectionPage {
	if items == nil {
		items = []interface{}{}
	}
	page := &OrderedCollectionPage{
		Context:      ActivityStreamsContext,
		ID:           PageURL(id, cursor),
		Type:         TypeOrderedCollectionPage,
		PartOf:       id,
		TotalItems:   total,
		OrderedItems: items,
	}
	if len(items) >= pageSize && nextCursor > 0 {
		page.Next = PageURL(id, nextCursor)
	}
	return page
}
