package provider

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// In-memory PIM providers, used on platforms without native content
// resolvers and as fixtures in handler tests.

// MemoryApps implements Apps over a fixed list.
type MemoryApps struct {
	mu   sync.RWMutex
	apps map[string]AppInfo
}

// NewMemoryApps creates a MemoryApps seeded with the given packages.
func NewMemoryApps(apps ...AppInfo) *MemoryApps {
	m := &MemoryApps{apps: make(map[string]AppInfo)}
	for _, a := range apps {
		m.apps[a.Package] = a
	}
	return m
}

func (m *MemoryApps) List(thirdPartyOnly bool) ([]AppInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AppInfo, 0, len(m.apps))
	for _, a := range m.apps {
		if thirdPartyOnly && a.System {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out, nil
}

func (m *MemoryApps) Info(pkg string) (AppInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[pkg]
	if !ok {
		return AppInfo{}, fmt.Errorf("provider: package %q not installed", pkg)
	}
	return a, nil
}

func (m *MemoryApps) Install(apk io.Reader) error {
	// Draining the stream mimics the platform installer contract.
	if _, err := io.Copy(io.Discard, apk); err != nil {
		return err
	}
	return ErrUnsupported
}

func (m *MemoryApps) Uninstall(pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[pkg]; !ok {
		return fmt.Errorf("provider: package %q not installed", pkg)
	}
	delete(m.apps, pkg)
	return nil
}

func (m *MemoryApps) DataPaths(pkg string) ([]DataPath, error) {
	if _, err := m.Info(pkg); err != nil {
		return nil, err
	}
	return []DataPath{}, nil
}

// MemoryContacts implements Contacts over an in-memory list.
type MemoryContacts struct {
	mu       sync.RWMutex
	contacts []Contact

	// FailInsert makes Insert fail for contacts with an empty name,
	// letting tests exercise per-entry import failures.
	FailInsert func(c Contact) error
}

func NewMemoryContacts(contacts ...Contact) *MemoryContacts {
	return &MemoryContacts{contacts: contacts}
}

func (m *MemoryContacts) List() ([]Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Contact(nil), m.contacts...), nil
}

func (m *MemoryContacts) Insert(c Contact) error {
	if m.FailInsert != nil {
		if err := m.FailInsert(c); err != nil {
			return err
		}
	}
	if c.Name == "" {
		return fmt.Errorf("provider: contact has no name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, c)
	return nil
}

// MemorySMS implements SMS over an in-memory list.
type MemorySMS struct {
	mu     sync.RWMutex
	msgs   []Message
	nextID int64
}

func NewMemorySMS(msgs ...Message) *MemorySMS {
	m := &MemorySMS{nextID: 1}
	for _, msg := range msgs {
		m.msgs = append(m.msgs, msg)
		if msg.ID >= m.nextID {
			m.nextID = msg.ID + 1
		}
	}
	return m
}

func (m *MemorySMS) List(limit, offset int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sorted := append([]Message(nil), m.msgs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })

	if offset >= len(sorted) {
		return []Message{}, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (m *MemorySMS) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs), nil
}

func (m *MemorySMS) Conversations() ([]Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byThread := make(map[int64]*Conversation)
	for _, msg := range m.msgs {
		c, ok := byThread[msg.ThreadID]
		if !ok {
			c = &Conversation{ThreadID: msg.ThreadID, Address: msg.Address}
			byThread[msg.ThreadID] = c
		}
		c.MessageCount++
		if msg.Date >= c.LastDate {
			c.LastDate = msg.Date
			c.Snippet = msg.Body
		}
	}

	out := make([]Conversation, 0, len(byThread))
	for _, c := range byThread {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastDate > out[j].LastDate })
	return out, nil
}

func (m *MemorySMS) Insert(msg Message) error {
	if msg.Address == "" {
		return fmt.Errorf("provider: message has no address")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = m.nextID
	}
	m.nextID = msg.ID + 1
	m.msgs = append(m.msgs, msg)
	return nil
}
