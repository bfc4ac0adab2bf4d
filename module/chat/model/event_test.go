package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	raw, err := json.Marshal(NewEvent(EventUsersUpdate, []OnlineUser{{ConnectionID: "c1", Username: "alice"}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"users:update","data":[{"connectionId":"c1","username":"alice"}]}`, string(raw))

	raw, err = json.Marshal(NewEvent(EventHistory, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message:history","data":null}`, string(raw))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "chat.message.new", Subject("chat", EventNew))
	assert.Equal(t, "chat.users.update", Subject("chat", EventUsersUpdate))
	assert.Equal(t, "message.private", Subject("", EventPrivate))
}
