package message

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

var (
	botJID   = types.NewJID("2348000000001", types.DefaultUserServer)
	userJID  = types.NewJID("2348111637463", types.DefaultUserServer)
	groupJID = types.NewJID("120363000000000001", types.GroupServer)
)

type fakeSource struct {
	own    types.JID
	ownLID types.JID
	info   *types.GroupInfo
	err    error
	calls  int
	// phones maps LID users to phone numbers.
	phones map[string]string
}

func (f *fakeSource) OwnJID() types.JID { return f.own }

func (f *fakeSource) OwnLID() types.JID { return f.ownLID }

func (f *fakeSource) PhoneForLID(_ context.Context, lid types.JID) (types.JID, error) {
	if pn, ok := f.phones[lid.User]; ok {
		return types.NewJID(pn, types.DefaultUserServer), nil
	}
	return types.EmptyJID, nil
}

func (f *fakeSource) GroupInfo(context.Context, types.JID) (*types.GroupInfo, error) {
	f.calls++
	return f.info, f.err
}

func text(s string) *waE2E.Message {
	return &waE2E.Message{Conversation: ptr.Ptr(s)}
}

func direct(msg *waE2E.Message) *Envelope {
	return &Envelope{Key: Key{RemoteJID: userJID, ID: "ABC"}, Message: msg, PushName: "Ada"}
}

func TestNormalizeCommand(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	mc, ok := n.Normalize(context.Background(), direct(text(".alive")), Options{Prefix: "."})
	if !ok {
		t.Fatal("Normalize: expected a context")
	}
	if !mc.IsCommand || mc.CommandName != "alive" {
		t.Errorf("command: got isCommand=%v name=%q", mc.IsCommand, mc.CommandName)
	}
	if mc.Args == nil || len(mc.Args) != 0 {
		t.Errorf("Args: got %#v, want empty non-nil", mc.Args)
	}
	if mc.Sender != userJID || mc.SenderNumber != "2348111637463" {
		t.Errorf("sender: got %s / %s", mc.Sender, mc.SenderNumber)
	}
	if mc.IsGroup {
		t.Error("direct chat flagged as group")
	}
}

func TestNormalizeArgsAndCase(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	mc, _ := n.Normalize(context.Background(), direct(text(".Transfer   500  @ada")), Options{Prefix: "."})
	if mc.CommandName != "transfer" {
		t.Errorf("CommandName: got %q", mc.CommandName)
	}
	if len(mc.Args) != 2 || mc.Args[0] != "500" || mc.Args[1] != "@ada" {
		t.Errorf("Args: got %q", mc.Args)
	}
	if mc.Text != "500 @ada" {
		t.Errorf("Text: got %q", mc.Text)
	}
}

func TestNormalizePlainText(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	mc, _ := n.Normalize(context.Background(), direct(text("good morning")), Options{Prefix: "."})
	if mc.IsCommand || mc.CommandName != "" {
		t.Errorf("plain text treated as command: %+v", mc)
	}
	if mc.Text != "good morning" || mc.Body != "good morning" {
		t.Errorf("Text/Body: got %q / %q", mc.Text, mc.Body)
	}
}

func TestNormalizeEphemeralUnwrapsOnce(t *testing.T) {
	t.Parallel()
	inner := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: text("inner")}}
	wrapped := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: text("hello")}}
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())

	mc, ok := n.Normalize(context.Background(), direct(wrapped), Options{Prefix: "."})
	if !ok || mc.Body != "hello" || mc.Content.Kind != KindText {
		t.Fatalf("single wrap: ok=%v body=%q kind=%v", ok, mc.Body, mc.Content.Kind)
	}

	double := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: inner}}
	mc, ok = n.Normalize(context.Background(), direct(double), Options{Prefix: "."})
	if !ok {
		t.Fatal("double wrap: expected a context")
	}
	if mc.Body != "" || mc.Content.Kind != KindUnknown {
		t.Errorf("double wrap unwrapped twice: body=%q kind=%v", mc.Body, mc.Content.Kind)
	}
}

func TestNormalizeEmptyPayload(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	for name, env := range map[string]*Envelope{
		"nil envelope": nil,
		"nil message":  direct(nil),
		"empty proto":  direct(&waE2E.Message{}),
	} {
		if _, ok := n.Normalize(context.Background(), env, Options{Prefix: "."}); ok {
			t.Errorf("%s: expected no context", name)
		}
	}
}

func TestNormalizeMediaWithoutText(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	sticker := &waE2E.Message{StickerMessage: &waE2E.StickerMessage{Mimetype: ptr.Ptr("image/webp")}}
	mc, ok := n.Normalize(context.Background(), direct(sticker), Options{Prefix: "."})
	if !ok {
		t.Fatal("sticker: expected a context")
	}
	if mc.Body != "" || mc.Content.Kind != KindSticker || !mc.HasImage() {
		t.Errorf("sticker: body=%q kind=%v hasImage=%v", mc.Body, mc.Content.Kind, mc.HasImage())
	}

	img := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: ptr.Ptr(".attendance")}}
	mc, _ = n.Normalize(context.Background(), direct(img), Options{Prefix: "."})
	if mc.Content.Kind != KindImage || mc.CommandName != "attendance" {
		t.Errorf("image caption: kind=%v command=%q", mc.Content.Kind, mc.CommandName)
	}
}

func TestNormalizeQuotedReply(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: ptr.Ptr("agreed"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:      ptr.Ptr("QUOTED1"),
			Participant:   ptr.Ptr(botJID.String()),
			QuotedMessage: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: ptr.Ptr("look")}},
			MentionedJID:  []string{userJID.String(), "not a jid@@"},
		},
	}}
	mc, _ := n.Normalize(context.Background(), direct(msg), Options{Prefix: "."})
	c := mc.Content
	if c.Kind != KindExtendedText || c.QuotedKind != KindImage || c.QuotedText != "look" {
		t.Errorf("quoted: %+v", c)
	}
	if c.QuotedID != "QUOTED1" || !mc.HasImage() {
		t.Errorf("quoted id=%q hasImage=%v", c.QuotedID, mc.HasImage())
	}
	if len(c.Mentions) != 1 || c.Mentions[0] != userJID {
		t.Errorf("Mentions: got %v", c.Mentions)
	}
}

func TestNormalizeSelfAndOwner(t *testing.T) {
	t.Parallel()
	own := types.JID{User: botJID.User, Server: types.DefaultUserServer, Device: 12}
	n := NewNormalizer(&fakeSource{own: own}, zerolog.Nop())
	env := direct(text(".menu"))
	env.Key.FromMe = true
	mc, _ := n.Normalize(context.Background(), env, Options{Prefix: "."})
	if mc.Sender != botJID {
		t.Errorf("self sender: got %s, want %s", mc.Sender, botJID)
	}
	if !mc.IsOwner {
		t.Error("self message should be owner")
	}

	mc, _ = n.Normalize(context.Background(), direct(text("hi")), Options{Prefix: ".", Owners: []string{userJID.User}})
	if !mc.IsOwner {
		t.Error("configured owner number not recognised")
	}
}

func TestNormalizeGroup(t *testing.T) {
	t.Parallel()
	info := &types.GroupInfo{
		JID:       groupJID,
		GroupName: types.GroupName{Name: "GIST HQ"},
		Participants: []types.GroupParticipant{
			{JID: userJID, IsAdmin: true},
			{JID: botJID, IsSuperAdmin: true},
			{JID: types.NewJID("2349999999999", types.DefaultUserServer)},
		},
	}
	src := &fakeSource{own: botJID, info: info}
	n := NewNormalizer(src, zerolog.Nop())
	env := &Envelope{Key: Key{RemoteJID: groupJID, Participant: userJID}, Message: text(".ban 123")}
	mc, _ := n.Normalize(context.Background(), env, Options{Prefix: "."})
	if !mc.IsGroup || mc.Sender != userJID {
		t.Fatalf("group: isGroup=%v sender=%s", mc.IsGroup, mc.Sender)
	}
	if !mc.IsAdmin || !mc.IsBotAdmin {
		t.Errorf("admin flags: isAdmin=%v isBotAdmin=%v", mc.IsAdmin, mc.IsBotAdmin)
	}
	if mc.Group.Name != "GIST HQ" || len(mc.Group.Participants) != 3 || len(mc.Group.Admins) != 2 {
		t.Errorf("group meta: %+v", mc.Group)
	}
}

func TestNormalizeGroupMetadataFailure(t *testing.T) {
	t.Parallel()
	src := &fakeSource{own: botJID, err: errors.New("timeout")}
	n := NewNormalizer(src, zerolog.Nop())
	env := &Envelope{Key: Key{RemoteJID: groupJID, Participant: userJID}, Message: text("hello")}
	mc, ok := n.Normalize(context.Background(), env, Options{Prefix: "."})
	if !ok {
		t.Fatal("metadata failure must not drop the message")
	}
	if mc.Group == nil || mc.Group.Name != "" || mc.IsAdmin || mc.IsBotAdmin {
		t.Errorf("expected empty metadata, got %+v admin=%v", mc.Group, mc.IsAdmin)
	}
	if src.calls != 1 {
		t.Errorf("GroupInfo calls: got %d", src.calls)
	}
}

func TestNormalizeLIDSender(t *testing.T) {
	t.Parallel()
	senderLID := types.NewJID("98765432100001", types.HiddenUserServer)
	botLID := types.NewJID("11111111100001", types.HiddenUserServer)
	info := &types.GroupInfo{
		JID: groupJID,
		Participants: []types.GroupParticipant{
			{JID: senderLID, LID: senderLID, IsAdmin: true},
			{JID: botLID, LID: botLID, PhoneNumber: botJID, IsAdmin: true},
		},
	}
	tests := []struct {
		name   string
		alt    types.JID
		phones map[string]string
	}{
		{"sender alt", userJID, nil},
		{"lid store", types.EmptyJID, map[string]string{senderLID.User: userJID.User}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{own: botJID, info: info, phones: tt.phones}
			n := NewNormalizer(src, zerolog.Nop())
			env := &Envelope{
				Key:       Key{RemoteJID: groupJID, Participant: senderLID},
				Message:   text(".ban 123"),
				SenderAlt: tt.alt,
			}
			mc, _ := n.Normalize(context.Background(), env, Options{Prefix: ".", Owners: []string{userJID.User}})
			if mc.Sender != userJID || mc.SenderNumber != userJID.User || mc.SenderLID != senderLID {
				t.Errorf("sender: got %s / %s / %s", mc.Sender, mc.SenderNumber, mc.SenderLID)
			}
			if !mc.IsOwner || !mc.IsAdmin || !mc.IsBotAdmin {
				t.Errorf("flags: owner=%v admin=%v botAdmin=%v", mc.IsOwner, mc.IsAdmin, mc.IsBotAdmin)
			}
		})
	}
}

func TestNormalizeUnresolvedLID(t *testing.T) {
	t.Parallel()
	lid := types.NewJID("98765432100001", types.HiddenUserServer)
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	env := &Envelope{Key: Key{RemoteJID: lid}, Message: text("hi")}
	mc, _ := n.Normalize(context.Background(), env, Options{Prefix: ".", Owners: []string{lid.User}})
	if mc.Sender != lid || mc.SenderLID != lid || mc.SenderNumber != lid.User {
		t.Errorf("sender: got %s / %s / %s", mc.Sender, mc.SenderLID, mc.SenderNumber)
	}
}

func TestNormalizeLIDMentions(t *testing.T) {
	t.Parallel()
	lid := types.NewJID("98765432100001", types.HiddenUserServer)
	src := &fakeSource{own: botJID, phones: map[string]string{lid.User: userJID.User}}
	n := NewNormalizer(src, zerolog.Nop())
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: ptr.Ptr(".transfer @98765432100001 100"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:     ptr.Ptr("QUOTED1"),
			Participant:  ptr.Ptr(lid.String()),
			MentionedJID: []string{lid.String()},
		},
	}}
	mc, _ := n.Normalize(context.Background(), direct(msg), Options{Prefix: "."})
	if len(mc.Content.Mentions) != 1 || mc.Content.Mentions[0] != userJID {
		t.Errorf("Mentions: got %v", mc.Content.Mentions)
	}
	if mc.Content.QuotedSender != userJID.String() {
		t.Errorf("QuotedSender: got %q", mc.Content.QuotedSender)
	}
}

func TestNormalizeBroadcast(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(&fakeSource{own: botJID}, zerolog.Nop())
	tests := []struct {
		name       string
		chat       types.JID
		wantStatus bool
	}{
		{"status", types.StatusBroadcastJID, true},
		{"broadcast list", types.NewJID("1700000000", types.BroadcastServer), false},
	}
	for _, tt := range tests {
		env := &Envelope{Key: Key{RemoteJID: tt.chat, Participant: userJID}, Message: text(".alive")}
		mc, _ := n.Normalize(context.Background(), env, Options{Prefix: "."})
		if !mc.IsBroadcast || mc.IsStatus != tt.wantStatus || mc.IsGroup {
			t.Errorf("%s: broadcast=%v status=%v group=%v", tt.name, mc.IsBroadcast, mc.IsStatus, mc.IsGroup)
		}
		if mc.Sender != userJID {
			t.Errorf("%s: sender %s", tt.name, mc.Sender)
		}
	}
}
