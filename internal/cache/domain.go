package cache

import (
	"github.com/zulandar/convoy/internal/models"
)

// GetConversation returns a copy of the cached conversation.
func (c *Cache) GetConversation(accountID, conversationID string) (*models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations.Get(Key(accountID, conversationID))
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// SetConversation stores a copy of conv and indexes it under its task.
func (c *Cache) SetConversation(conv *models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setConversationLocked(conv.Clone())
}

func (c *Cache) setConversationLocked(conv *models.Conversation) {
	key := Key(conv.AccountID, conv.ID)
	c.conversations.Add(key, conv)

	reqKey := Key(conv.AccountID, conv.RequestID)
	ids, _ := c.byRequest.Peek(reqKey)
	c.byRequest.Add(reqKey, appendUnique(ids, conv.ID))

	if conv.State == models.StateClosed {
		delete(c.active, key)
	} else {
		c.active[key] = struct{}{}
	}
}

// UpdateConversation applies fn to the cached conversation atomically and
// returns a copy of the result. It reports false when the conversation is
// not cached.
func (c *Cache) UpdateConversation(accountID, conversationID string, fn func(*models.Conversation)) (*models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations.Get(Key(accountID, conversationID))
	if !ok {
		return nil, false
	}
	updated := conv.Clone()
	fn(updated)
	c.setConversationLocked(updated)
	return updated.Clone(), true
}

// ConversationsByRequest returns copies of every conversation indexed under a
// task. It reports false when the index is missing or any member has been
// evicted, so callers know to fall back to the store.
func (c *Cache) ConversationsByRequest(accountID, requestID string) ([]*models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.byRequest.Get(Key(accountID, requestID))
	if !ok {
		return nil, false
	}
	out := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, ok := c.conversations.Get(Key(accountID, id))
		if !ok {
			return nil, false
		}
		out = append(out, conv.Clone())
	}
	return out, true
}

// ActiveConversations returns copies of every cached conversation that has
// not reached CLOSED. Keys whose record has expired are pruned.
func (c *Cache) ActiveConversations() []*models.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Conversation, 0, len(c.active))
	for key := range c.active {
		conv, ok := c.conversations.Peek(key)
		if !ok {
			delete(c.active, key)
			continue
		}
		out = append(out, conv.Clone())
	}
	return out
}

// RemoveActive drops a conversation from the active set without evicting
// its record.
func (c *Cache) RemoveActive(accountID, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, Key(accountID, conversationID))
}

// GetTask returns a copy of the cached task.
func (c *Cache) GetTask(accountID, requestID string) (*models.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks.Get(Key(accountID, requestID))
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// SetTask stores a copy of task.
func (c *Cache) SetTask(task *models.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks.Add(Key(task.AccountID, task.ID), task.Clone())
}

// UpdateTask applies fn to the cached task atomically and returns a copy of
// the result. It reports false when the task is not cached.
func (c *Cache) UpdateTask(accountID, requestID string, fn func(*models.Task)) (*models.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Key(accountID, requestID)
	task, ok := c.tasks.Get(key)
	if !ok {
		return nil, false
	}
	updated := task.Clone()
	fn(updated)
	c.tasks.Add(key, updated)
	return updated.Clone(), true
}

// MaxConversationLimit returns the cached task's conversation cap.
func (c *Cache) MaxConversationLimit(accountID, requestID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks.Get(Key(accountID, requestID))
	if !ok {
		return 0, false
	}
	return task.MaxConversations, true
}

// TaskConversationCount returns the advisory count of conversations opened
// for a task.
func (c *Cache) TaskConversationCount(accountID, requestID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters.Get(Key(accountID, requestID))
}

// SetTaskConversationCount seeds the advisory counter, e.g. from the store.
func (c *Cache) SetTaskConversationCount(accountID, requestID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Add(Key(accountID, requestID), n)
}

// IncrementTaskConversationCount bumps the advisory counter and returns the
// new value.
func (c *Cache) IncrementTaskConversationCount(accountID, requestID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Key(accountID, requestID)
	n, _ := c.counters.Get(key)
	n++
	c.counters.Add(key, n)
	return n
}

// ClearTaskConversationCount drops the advisory counter once a task concludes.
func (c *Cache) ClearTaskConversationCount(accountID, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Remove(Key(accountID, requestID))
}
