package ident

// Table maps raw identifiers to canonical identifiers. Entries are always
// single-hop: a rewrite on merge repoints every alias of the losing
// identifier, so no entry ever targets another alias.
type Table struct {
	alias map[string]string
}

// NewTable creates an empty alias table.
func NewTable() *Table {
	return &Table{alias: make(map[string]string)}
}

// Get returns the canonical identifier for raw, if an alias exists.
func (t *Table) Get(raw string) (string, bool) {
	c, ok := t.alias[raw]
	return c, ok
}

// Rewrite records losing→winning and repoints every existing entry that
// targeted losing at winning instead, in one step. This keeps resolution
// single-hop and acyclic.
func (t *Table) Rewrite(losing, winning string) {
	if losing == "" || winning == "" || losing == winning {
		return
	}
	for raw, c := range t.alias {
		if c == losing {
			t.alias[raw] = winning
		}
	}
	t.alias[losing] = winning
	// A canonical identifier resolves to itself; never leave the winner
	// pointing elsewhere.
	delete(t.alias, winning)
}

// All returns a copy of the alias map.
func (t *Table) All() map[string]string {
	out := make(map[string]string, len(t.alias))
	for k, v := range t.alias {
		out[k] = v
	}
	return out
}

// Load replaces the table contents. Used by startup hydration.
func (t *Table) Load(m map[string]string) {
	t.alias = make(map[string]string, len(m))
	for k, v := range m {
		t.alias[k] = v
	}
}

// Len returns the number of alias entries.
func (t *Table) Len() int {
	return len(t.alias)
}

// LinkMap records explicitly evidenced equivalences between a linked
// identifier and a phone identifier. Equivalences are never inferred; they
// come only from a protocol event carrying both forms or from persisted
// aliases at startup.
type LinkMap struct {
	phoneFor  map[string]string
	linkedFor map[string]string
}

// NewLinkMap creates an empty linked↔phone mapping.
func NewLinkMap() *LinkMap {
	return &LinkMap{
		phoneFor:  make(map[string]string),
		linkedFor: make(map[string]string),
	}
}

// Assert records that linked and phone refer to the same contact.
func (m *LinkMap) Assert(linked, phone string) {
	if linked == "" || phone == "" {
		return
	}
	m.phoneFor[linked] = phone
	m.linkedFor[phone] = linked
}

// PhoneForLinked returns the phone identifier for a linked identifier, or "".
func (m *LinkMap) PhoneForLinked(linked string) string {
	return m.phoneFor[linked]
}

// LinkedForPhone returns the linked identifier for a phone identifier, or "".
func (m *LinkMap) LinkedForPhone(phone string) string {
	return m.linkedFor[phone]
}

// All returns a copy of the linked→phone map.
func (m *LinkMap) All() map[string]string {
	out := make(map[string]string, len(m.phoneFor))
	for k, v := range m.phoneFor {
		out[k] = v
	}
	return out
}

// Load replaces the mapping contents. Used by startup hydration.
func (m *LinkMap) Load(phoneFor map[string]string) {
	m.phoneFor = make(map[string]string, len(phoneFor))
	m.linkedFor = make(map[string]string, len(phoneFor))
	for linked, phone := range phoneFor {
		m.phoneFor[linked] = phone
		m.linkedFor[phone] = linked
	}
}
