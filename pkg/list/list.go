// Package list is a small intrusive doubly-linked list used by pkg/cache to
// track node recency for LRU eviction. Adapted from the teacher's
// pkg/list: Find and the buggy no-op Map method (which reassigned the
// local `list` parameter instead of mutating anything the caller could
// observe) were replaced with a MoveToFront helper, since recency tracking
// is the one traversal the cache actually needs.
package list

// List is a doubly-linked list of arbitrary values.
type List struct {
	head *Link
	tail *Link
}

// NewList returns an empty List.
func NewList() *List {
	return &List{}
}

// PeekHead returns the list's head link, or nil if empty.
func (list *List) PeekHead() *Link { return list.head }

// PeekTail returns the list's tail link, or nil if empty.
func (list *List) PeekTail() *Link { return list.tail }

// PushHead inserts value at the front of the list and returns its Link.
func (list *List) PushHead(value interface{}) *Link {
	newlink := &Link{list, nil, list.head, value}
	if list.head != nil {
		list.head.prev = newlink
	}
	list.head = newlink
	if list.tail == nil {
		list.tail = newlink
	}
	return newlink
}

// PushTail inserts value at the back of the list and returns its Link.
func (list *List) PushTail(value interface{}) *Link {
	newlink := &Link{list, list.tail, nil, value}
	if list.tail != nil {
		list.tail.next = newlink
	}
	list.tail = newlink
	if list.head == nil {
		list.head = newlink
	}
	return newlink
}

// Link is one node of a List.
type Link struct {
	list  *List
	prev  *Link
	next  *Link
	value interface{}
}

func (link *Link) GetList() *List          { return link.list }
func (link *Link) GetValue() interface{}   { return link.value }
func (link *Link) SetValue(value interface{}) { link.value = value }
func (link *Link) GetPrev() *Link          { return link.prev }
func (link *Link) GetNext() *Link          { return link.next }

// PopSelf unlinks link from its list.
//
// Cases: link is the only element; link is the tail; link is the head;
// link is in the middle.
func (link *Link) PopSelf() {
	if link.prev == nil && link.next == nil {
		link.list.head = nil
		link.list.tail = nil
		link.list = nil
	} else if link.prev == nil {
		link.next.prev = nil
		link.list.head = link.next
		link.list = nil
		link.next = nil
	} else if link.next == nil {
		link.prev.next = nil
		link.list.tail = link.prev
		link.list = nil
		link.prev = nil
	} else {
		link.prev.next = link.next
		link.next.prev = link.prev
		link.list = nil
		link.next = nil
		link.prev = nil
	}
}

// MoveToFront unlinks link from its list and reinserts it, with the same
// value, at the head — marking it most-recently-used. Returns the new head
// Link; callers that index links by key (as pkg/cache does) must update
// their index to this returned link.
func MoveToFront(list *List, link *Link) *Link {
	if list.head == link {
		return link
	}
	link.PopSelf()
	return list.PushHead(link.value)
}
