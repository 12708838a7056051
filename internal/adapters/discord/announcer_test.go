package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct{ channel, content string }

type fakeSession struct {
	sent    []sent
	dmFail  bool
	members map[string][]string
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sent{channelID, content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.dmFail {
		return nil, errors.New("cannot send messages to this user")
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	roles, ok := f.members[userID]
	if !ok {
		return nil, errors.New("unknown member")
	}
	return &discordgo.Member{Roles: roles}, nil
}

func TestAnnouncerSends(t *testing.T) {
	fs := &fakeSession{}
	a := NewAnnouncer(fs)
	ctx := context.Background()

	require.NoError(t, a.SendStart(ctx, "chan", "🚀 arrancó"))
	require.NoError(t, a.SendNotice(ctx, "chan", "⚠️ aviso"))
	require.NoError(t, a.SendDirect(ctx, "p1", "tu pickup"))

	assert.Equal(t, []sent{
		{"chan", "🚀 arrancó"},
		{"chan", "⚠️ aviso"},
		{"dm-p1", "tu pickup"},
	}, fs.sent)
}

func TestAnnouncerSplitsLongMessages(t *testing.T) {
	fs := &fakeSession{}
	msg := strings.Repeat(strings.Repeat("x", 99)+"\n", 30)
	require.NoError(t, NewAnnouncer(fs).SendStart(context.Background(), "chan", msg))
	require.Len(t, fs.sent, 2)
	assert.Equal(t, msg, fs.sent[0].content+fs.sent[1].content)
}

func TestAnnouncerDirectFailure(t *testing.T) {
	fs := &fakeSession{dmFail: true}
	err := NewAnnouncer(fs).SendDirect(context.Background(), "p1", "hola")
	assert.ErrorContains(t, err, "open dm")
	assert.Empty(t, fs.sent)
}

func TestRolesHasRole(t *testing.T) {
	r := NewRoles(&fakeSession{members: map[string][]string{"p1": {"cap"}}})
	ctx := context.Background()

	ok, err := r.HasRole(ctx, "g", "p1", "cap")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasRole(ctx, "g", "p1", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.HasRole(ctx, "g", "ghost", "cap")
	assert.Error(t, err)
}
