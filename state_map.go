package trellis

// mapEntry is one set or delete of a key.
type mapEntry struct {
	id      ID
	lamport Lamport
	value   any
	deleted bool
}

// wins reports whether e beats other under last-write-wins.
func (e mapEntry) wins(other mapEntry) bool {
	if e.lamport != other.lamport {
		return e.lamport > other.lamport
	}
	return e.id.Peer > other.id.Peer
}

// mapStore keeps every write to every key. The value of a key at a
// version is the winning write included in it.
type mapStore struct {
	keys map[string][]mapEntry
}

func newMapStore() *mapStore {
	return &mapStore{keys: make(map[string][]mapEntry)}
}

func (m *mapStore) apply(id ID, lamport Lamport, set *MapSet) {
	for _, e := range m.keys[set.Key] {
		if e.id == id {
			return
		}
	}
	m.keys[set.Key] = append(m.keys[set.Key], mapEntry{
		id:      id,
		lamport: lamport,
		value:   set.Value,
		deleted: set.Deleted,
	})
}

// winner returns the winning write of key at vv.
func (m *mapStore) winner(key string, vv VersionVector) (mapEntry, bool) {
	var best mapEntry
	found := false
	for _, e := range m.keys[key] {
		if !vv.Includes(e.id) {
			continue
		}
		if !found || e.wins(best) {
			best, found = e, true
		}
	}
	return best, found
}

// get returns the live value of key at vv.
func (m *mapStore) get(key string, vv VersionVector) (any, bool) {
	e, ok := m.winner(key, vv)
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// liveKeys returns the keys present at vv, sorted.
func (m *mapStore) liveKeys(vv VersionVector) []string {
	var out []string
	for _, k := range sortedKeys(m.keys) {
		if _, ok := m.get(k, vv); ok {
			out = append(out, k)
		}
	}
	return out
}

// changedKeys returns the keys whose live value differs between from and to.
func (m *mapStore) changedKeys(from, to VersionVector) []string {
	var out []string
	for _, k := range sortedKeys(m.keys) {
		a, aok := m.winner(k, from)
		b, bok := m.winner(k, to)
		aLive, bLive := aok && !a.deleted, bok && !b.deleted
		if !aLive && !bLive {
			continue
		}
		if aLive && bLive && a.id == b.id {
			continue
		}
		out = append(out, k)
	}
	return out
}
