package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"linkchat/internal/models"
)

func TestInsertWindowKeepsMostRecentlyOpened(t *testing.T) {
	s := &session{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		s.insertWindow(models.ChatWindow{ChatUser: models.ChatUser{UserID: id}})
		assert.LessOrEqual(t, len(s.windows), MaxWindows)
	}

	ids := make([]string, 0, len(s.windows))
	for _, w := range s.windows {
		ids = append(ids, w.ChatUser.UserID)
	}
	assert.Equal(t, []string{"d", "e", "f"}, ids)
}

func TestAppendUniqueSkipsKnownIDs(t *testing.T) {
	list := []models.Message{{ID: "1"}, {ID: "2"}}

	out := appendUnique(list, models.Message{ID: "2"}, models.Message{ID: "3"}, models.Message{ID: "3"})

	assert.Len(t, out, 3)
	assert.Equal(t, "3", out[2].ID)
}

func TestSendPolicyOrder(t *testing.T) {
	s := &session{state: StateConnected}
	s.insertWindow(models.ChatWindow{ChatUser: models.ChatUser{UserID: "u1", FriendshipStatus: models.FriendshipPending}})

	assert.ErrorIs(t, sendPolicy(s, "u2", "hi"), ErrNoWindow)
	assert.ErrorIs(t, sendPolicy(s, "u1", "hi"), ErrNotFriendly)

	s.windows[0].ChatUser.FriendshipStatus = models.FriendshipFriendly
	assert.ErrorIs(t, sendPolicy(s, "u1", ""), ErrEmptyContent)
	assert.NoError(t, sendPolicy(s, "u1", "hi"))

	s.state = StateError
	err := sendPolicy(s, "u1", "hi")
	assert.ErrorIs(t, err, ErrOffline)
	assert.ErrorIs(t, err, ErrSendPolicy)
}

func TestPendingOpenBufferDeduplicates(t *testing.T) {
	p := newPendingOpen(models.ChatUser{UserID: "u1"}, func() {})
	p.buffer(models.Message{ID: "1"})
	p.buffer(models.Message{ID: "1"})
	p.finish(nil)
	p.finish(ErrOpenCancelled)

	assert.Len(t, p.buffered, 1)
	assert.NoError(t, p.err)
}
