// Package store provides storage backends for SFBTCoach.
//
// This file implements a mutex-guarded in-memory store. It backs tests and
// DSN-less development runs with the same semantics as the SQL backends,
// including the atomic turn commit.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// InMemoryStore is a simple in-memory implementation of Store.
type InMemoryStore struct {
	mu sync.Mutex

	children      map[int64]models.Child
	conversations map[int64]models.Conversation
	interactions  map[int64]models.Interaction
	alerts        map[int64]models.CrisisAlert
	knowledge     map[int64]models.KnowledgeEntry

	nextChildID        int64
	nextConversationID int64
	nextInteractionID  int64
	nextAlertID        int64
	nextKnowledgeID    int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		children:      make(map[int64]models.Child),
		conversations: make(map[int64]models.Conversation),
		interactions:  make(map[int64]models.Interaction),
		alerts:        make(map[int64]models.CrisisAlert),
		knowledge:     make(map[int64]models.KnowledgeEntry),
	}
}

func (s *InMemoryStore) GetOrCreateChild(name string) (models.Child, error) {
	if name == "" {
		return models.Child{}, models.ErrEmptyChildName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.Name == name {
			return c, nil
		}
	}
	s.nextChildID++
	c := models.Child{
		ID:        s.nextChildID,
		Name:      name,
		Stage:     models.StageGoalSetting,
		CreatedAt: time.Now().UTC(),
	}
	s.children[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) GetChild(id int64) (models.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[id]
	if !ok {
		return models.Child{}, models.ErrChildNotFound
	}
	return c, nil
}

func (s *InMemoryStore) CreateConversation(childID int64, title string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[childID]; !ok {
		return models.Conversation{}, models.ErrChildNotFound
	}
	s.nextConversationID++
	conv := models.Conversation{
		ID:        s.nextConversationID,
		ChildID:   childID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *InMemoryStore) GetConversation(id int64) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, models.ErrConversationNotFound
	}
	return conv, nil
}

func (s *InMemoryStore) ListConversations(childID int64) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var convs []models.Conversation
	for _, c := range s.conversations {
		if c.ChildID == childID {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

func (s *InMemoryStore) CountConversations(childID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conversations {
		if c.ChildID == childID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListInteractions(conversationID int64) ([]models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Interaction
	for _, i := range s.interactions {
		if i.ConversationID == conversationID {
			items = append(items, i)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].ID < items[j].ID
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items, nil
}

func (s *InMemoryStore) HasInteractions(conversationID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.interactions {
		if i.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) AddInteraction(i models.Interaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addInteractionLocked(i), nil
}

func (s *InMemoryStore) addInteractionLocked(i models.Interaction) int64 {
	s.nextInteractionID++
	i.ID = s.nextInteractionID
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now().UTC()
	}
	s.interactions[i.ID] = i
	return i.ID
}

func (s *InMemoryStore) CommitTurn(childID, conversationID int64, userInput, botResponse string, stage models.Stage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[childID]
	if !ok {
		return 0, models.ErrChildNotFound
	}
	id := s.addInteractionLocked(models.Interaction{
		ChildID:        childID,
		ConversationID: conversationID,
		UserInput:      userInput,
		BotResponse:    botResponse,
	})
	child.Stage = stage
	s.children[childID] = child
	return id, nil
}

func (s *InMemoryStore) UpdateChildStage(childID int64, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[childID]
	if !ok {
		return models.ErrChildNotFound
	}
	child.Stage = stage
	s.children[childID] = child
	return nil
}

func (s *InMemoryStore) AddCrisisAlert(a models.CrisisAlert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAlertID++
	a.ID = s.nextAlertID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.alerts[a.ID] = a
	return a.ID, nil
}

func (s *InMemoryStore) ListCrisisAlerts(onlyUnreviewed bool) ([]models.CrisisAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var alerts []models.CrisisAlert
	for _, a := range s.alerts {
		if onlyUnreviewed && a.Reviewed {
			continue
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID > alerts[j].ID })
	return alerts, nil
}

func (s *InMemoryStore) ReviewCrisisAlert(id int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.ErrAlertNotFound
	}
	now := time.Now().UTC()
	a.Reviewed = true
	a.ReviewedAt = &now
	a.Notes = notes
	s.alerts[id] = a
	return nil
}

func (s *InMemoryStore) AddKnowledge(k models.KnowledgeEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextKnowledgeID++
	k.ID = s.nextKnowledgeID
	if k.UpdatedAt.IsZero() {
		k.UpdatedAt = time.Now().UTC()
	}
	s.knowledge[k.ID] = k
	return k.ID, nil
}

func (s *InMemoryStore) ListKnowledge() ([]models.KnowledgeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.KnowledgeEntry
	for _, k := range s.knowledge {
		entries = append(entries, k)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
