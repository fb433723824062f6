package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("b", "a"), PairKey("a", "b"))
	assert.Equal(t, "a:b", PairKey("b", "a"))
}

func TestCanAccess(t *testing.T) {
	general := Chat{Type: ChatTypeGeneral}
	private := Chat{Type: ChatTypePrivate, Participants: []string{"u1", "u2"}}

	assert.True(t, general.CanAccess("anyone"))
	assert.True(t, private.CanAccess("u2"))
	assert.False(t, private.CanAccess("u3"))
}

func TestChatTypeValid(t *testing.T) {
	assert.True(t, ChatTypeGroup.Valid())
	assert.False(t, ChatType("channel").Valid())
	assert.False(t, ChatType("").Valid())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", UserProfile{ID: "1", Name: "Ada", Email: "ada@x.io"}.DisplayName())
	assert.Equal(t, "ada@x.io", UserProfile{ID: "1", Email: "ada@x.io"}.DisplayName())
	assert.Equal(t, "1", UserProfile{ID: "1"}.DisplayName())
}
