package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

func TestEncodeFrameShapes(t *testing.T) {
	msg := Message{ConversationID: 3, SenderUsername: "alice", Text: "hi"}

	history, err := EncodeFrame(NewHistorySnapshot([]Message{msg}))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"sender_username":"alice","text":"hi","conversation":3}]`, string(history))

	empty, err := EncodeFrame(HistorySnapshot(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))

	single, err := EncodeFrame(NewMessage(PayloadOf(msg)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender_username":"alice","text":"hi","conversation":3}`, string(single))

	count, err := EncodeFrame(CountUpdate{Count: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(count))

	errFrame, err := EncodeFrame(ErrorFrame{Code: CodeMalformedFrame})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"malformed_frame"}`, string(errFrame))
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "object text", in: `{"text":"hi"}`, want: "hi"},
		{name: "object message", in: `{"message":"yo"}`, want: "yo"},
		{name: "json string", in: `"hello"`, want: "hello"},
		{name: "bare text", in: `  plain words `, want: "plain words"},
		{name: "broken object", in: `{"text":`, wantErr: true},
		{name: "object without text", in: `{"foo":"bar"}`, wantErr: true},
		{name: "array", in: `["a"]`, wantErr: true},
		{name: "empty", in: "   ", wantErr: true},
		{name: "blank text", in: `{"text":"  "}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConversationNamesAndParticipants(t *testing.T) {
	assert.Equal(t, []string{"alice_bob", "bob_alice"}, ConversationNames("alice", "bob"))

	conv := Conversation{Participants: []user.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}}
	assert.True(t, conv.HasParticipant(1))
	assert.False(t, conv.HasParticipant(3))

	others := conv.Others(1)
	require.Len(t, others, 1)
	assert.Equal(t, "bob", others[0].Username)
}
