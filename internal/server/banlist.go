package server

// BanList is the append-only set of banned usernames. It has no lock of its
// own; the Manager mutex guards it.
type BanList struct {
	names []string
	index map[string]struct{}
}

// NewBanList returns an empty ban list.
func NewBanList() *BanList {
	return &BanList{index: make(map[string]struct{})}
}

// Add bans username. It returns false if the name was already banned.
func (b *BanList) Add(username string) bool {
	if _, ok := b.index[username]; ok {
		return false
	}
	b.index[username] = struct{}{}
	b.names = append(b.names, username)
	return true
}

// Contains reports whether username is banned.
func (b *BanList) Contains(username string) bool {
	_, ok := b.index[username]
	return ok
}

// Len returns the number of banned names.
func (b *BanList) Len() int {
	return len(b.names)
}

// Names returns the banned names in the order they were banned.
func (b *BanList) Names() []string {
	return append([]string{}, b.names...)
}
