package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Intent
		wantErr error
	}{
		{
			name:  "join",
			frame: `{"type":"join","payload":{"username":"alice","room":"tech","avatar":"a.png"}}`,
			want:  JoinIntent{Username: "alice", Room: "tech", Avatar: "a.png"},
		},
		{
			name:  "send message",
			frame: `{"type":"send_message","payload":{"text":"hi"}}`,
			want:  SendMessageIntent{Text: "hi"},
		},
		{
			name:  "typing start without payload",
			frame: `{"type":"typing_start"}`,
			want:  TypingStartIntent{},
		},
		{
			name:  "typing stop",
			frame: `{"type":"typing_stop","payload":{}}`,
			want:  TypingStopIntent{},
		},
		{
			name:  "private message",
			frame: `{"type":"send_private_message","payload":{"to_username":"bob","text":"psst"}}`,
			want:  SendPrivateMessageIntent{ToUsername: "bob", Text: "psst"},
		},
		{
			name:  "react",
			frame: `{"type":"react_to_message","payload":{"message_id":"m1","reaction":"👍","room":"general"}}`,
			want:  ReactToMessageIntent{MessageID: "m1", Reaction: "👍", Room: "general"},
		},
		{
			name:  "change room",
			frame: `{"type":"change_room","payload":{"room":"random"}}`,
			want:  ChangeRoomIntent{Room: "random"},
		},
		{
			name:  "mark read",
			frame: `{"type":"mark_private_read","payload":{"peer_username":"bob"}}`,
			want:  MarkPrivateReadIntent{PeerUsername: "bob"},
		},
		{
			name:  "ping",
			frame: `{"type":"ping"}`,
			want:  PingIntent{},
		},
		{name: "not json", frame: `hello`, wantErr: ErrBadRequest},
		{name: "missing type", frame: `{"payload":{}}`, wantErr: ErrBadRequest},
		{name: "unknown type", frame: `{"type":"dance"}`, wantErr: ErrUnknownIntent},
		{name: "missing payload", frame: `{"type":"send_message"}`, wantErr: ErrBadRequest},
		{name: "payload wrong shape", frame: `{"type":"send_message","payload":{"text":5}}`, wantErr: ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIntent([]byte(tt.frame))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeIntentParsesBack(t *testing.T) {
	for _, in := range []Intent{
		JoinIntent{Username: "alice"},
		SendPrivateMessageIntent{ToUsername: "bob", Text: "hi"},
		PingIntent{},
	} {
		data, err := EncodeIntent(in)
		require.NoError(t, err)
		got, err := ParseIntent(data)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestValidation(t *testing.T) {
	long := make([]rune, MaxUsernameLength+1)
	for i := range long {
		long[i] = 'x'
	}

	assert.ErrorIs(t, ValidateUsername(""), ErrUsernameEmpty)
	assert.ErrorIs(t, ValidateUsername(string(long)), ErrUsernameTooLong)
	assert.ErrorIs(t, ValidateUsername("bad\xff"), ErrUsernameInvalid)
	assert.NoError(t, ValidateUsername("ñandú"))

	assert.ErrorIs(t, ValidateText(""), ErrTextEmpty)
	assert.NoError(t, ValidateText("hello"))
	assert.ErrorIs(t, ValidateReaction(""), ErrReactionEmpty)
	assert.NoError(t, ValidateReaction("❤️"))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrUnknownConnection, CodeUnknownConnection},
		{ErrUnknownPeer, CodeUnknownPeer},
		{ErrUnknownMessage, CodeUnknownMessage},
		{ErrUnknownRoom, CodeUnknownRoom},
		{ErrUsernameTaken, CodeUsernameTaken},
		{ErrBadRequest, CodeBadRequest},
		{ErrUnknownIntent, CodeBadRequest},
		{ErrTextTooLong, CodeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
