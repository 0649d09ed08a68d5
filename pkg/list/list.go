// Package list implements a generic intrusive doubly-linked list.
//
// It backs the buffer pool's free/unpinned/pinned page queues: moving a
// page between queues is just unlinking and relinking a *Link, with no
// need to search the list it came from.
package list

// List is a doubly-linked list of values of type T.
type List[T any] struct {
	head *Link[T]
	tail *Link[T]
}

// Link is a single node in a List, returned by the push operations so
// the caller can later relocate or remove it in O(1).
type Link[T any] struct {
	list  *List[T]
	prev  *Link[T]
	next  *Link[T]
	value T
}

// NewList constructs an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{}
}

// PeekHead returns the list's head link, or nil if the list is empty.
func (list *List[T]) PeekHead() *Link[T] {
	return list.head
}

// PeekTail returns the list's tail link, or nil if the list is empty.
func (list *List[T]) PeekTail() *Link[T] {
	return list.tail
}

// PushHead adds value to the front of the list, returning the new link.
func (list *List[T]) PushHead(value T) *Link[T] {
	newLink := &Link[T]{list: list, next: list.head, value: value}
	if list.head != nil {
		list.head.prev = newLink
	}
	list.head = newLink
	if list.tail == nil {
		list.tail = newLink
	}
	return newLink
}

// PushTail adds value to the end of the list, returning the new link.
func (list *List[T]) PushTail(value T) *Link[T] {
	newLink := &Link[T]{list: list, prev: list.tail, value: value}
	if list.tail != nil {
		list.tail.next = newLink
	}
	list.tail = newLink
	if list.head == nil {
		list.head = newLink
	}
	return newLink
}

// Find returns the first link for which f returns true, or nil if none does.
func (list *List[T]) Find(f func(*Link[T]) bool) *Link[T] {
	for link := list.head; link != nil; link = link.next {
		if f(link) {
			return link
		}
	}
	return nil
}

// Map applies f to every link currently in the list, in order.
func (list *List[T]) Map(f func(*Link[T])) {
	for link := list.head; link != nil; link = link.next {
		f(link)
	}
}

// GetList returns the list this link currently belongs to, or nil if it
// has been popped.
func (link *Link[T]) GetList() *List[T] {
	return link.list
}

// GetValue returns the link's value.
func (link *Link[T]) GetValue() T {
	return link.value
}

// SetValue replaces the link's value.
func (link *Link[T]) SetValue(value T) {
	link.value = value
}

// GetPrev returns the previous link, or nil if link is the head.
func (link *Link[T]) GetPrev() *Link[T] {
	return link.prev
}

// GetNext returns the next link, or nil if link is the tail.
func (link *Link[T]) GetNext() *Link[T] {
	return link.next
}

// PopSelf removes link from whatever list it belongs to.
func (link *Link[T]) PopSelf() {
	switch {
	case link.prev == nil && link.next == nil:
		link.list.head = nil
		link.list.tail = nil
	case link.prev == nil:
		link.next.prev = nil
		link.list.head = link.next
	case link.next == nil:
		link.prev.next = nil
		link.list.tail = link.prev
	default:
		link.prev.next = link.next
		link.next.prev = link.prev
	}
	link.list = nil
	link.next = nil
	link.prev = nil
}
