package message

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Source is what the normalizer needs from the transport.
type Source interface {
	OwnJID() types.JID
	// OwnLID is empty until the server has assigned the account an LID.
	OwnLID() types.JID
	GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
	// PhoneForLID returns an empty JID when the mapping is not known.
	PhoneForLID(ctx context.Context, lid types.JID) (types.JID, error)
}

// GroupMeta is the subset of group metadata handlers use.
type GroupMeta struct {
	JID          types.JID
	Name         string
	Participants []types.JID
	Admins       []types.JID
}

// Context is the canonical record derived from one Envelope. It is not
// modified after Normalize returns.
type Context struct {
	From types.JID
	// Sender is the author's phone number address when it is known, and
	// their LID otherwise.
	Sender       types.JID
	SenderLID    types.JID
	SenderNumber string
	PushName     string
	Content      Content
	Body         string
	CommandName  string
	Args         []string
	// Text is the argument string for commands and the body otherwise.
	Text string

	IsGroup bool
	// IsBroadcast is set for status updates and broadcast lists. IsStatus
	// narrows it to status updates.
	IsBroadcast bool
	IsStatus    bool
	IsCommand   bool
	IsOwner     bool
	IsAdmin     bool
	IsBotAdmin  bool
	Group       *GroupMeta
}

// HasImage reports an image or sticker in the message or in the message
// it quotes.
func (c *Context) HasImage() bool {
	switch c.Content.Kind {
	case KindImage, KindSticker:
		return true
	}
	switch c.Content.QuotedKind {
	case KindImage, KindSticker:
		return true
	}
	return false
}

// Options are read from the settings snapshot for each message.
type Options struct {
	Prefix string
	Owners []string
}

type Normalizer struct {
	src Source
	log zerolog.Logger
}

func NewNormalizer(src Source, log zerolog.Logger) *Normalizer {
	return &Normalizer{src: src, log: log}
}

// Normalize builds the Context for env. It reports false for an empty
// payload, in which case nothing should be dispatched.
func (n *Normalizer) Normalize(ctx context.Context, env *Envelope, opts Options) (*Context, bool) {
	if env == nil || env.Message == nil {
		return nil, false
	}
	msg := Unwrap(env.Message)
	if msg == nil || proto.Size(msg) == 0 {
		return nil, false
	}

	content := ParseContent(msg)
	n.resolveMentions(ctx, &content)
	own := n.src.OwnJID()
	mc := &Context{
		From:     env.Key.RemoteJID,
		PushName: env.PushName,
		Content:  content,
		Body:     content.Body(),
	}

	if env.Key.FromMe && !own.IsEmpty() {
		mc.Sender = own.ToNonAD()
		mc.SenderLID = n.src.OwnLID().ToNonAD()
	} else {
		author := env.Key.Participant
		if author.IsEmpty() {
			author = env.Key.RemoteJID
		}
		mc.Sender, mc.SenderLID = n.addresses(ctx, author.ToNonAD(), env.SenderAlt.ToNonAD())
	}
	mc.SenderNumber = mc.Sender.User
	mc.IsOwner = env.Key.FromMe || (!own.IsEmpty() && own.User == mc.SenderNumber) ||
		slices.Contains(opts.Owners, mc.SenderNumber)

	mc.IsGroup = mc.From.Server == types.GroupServer
	mc.IsBroadcast = mc.From.Server == types.BroadcastServer
	mc.IsStatus = mc.IsBroadcast && mc.From.User == types.StatusBroadcastJID.User
	if mc.IsGroup {
		n.resolveGroup(ctx, mc, own)
	}

	if opts.Prefix != "" && strings.HasPrefix(mc.Body, opts.Prefix) {
		mc.IsCommand = true
		fields := strings.Fields(mc.Body[len(opts.Prefix):])
		if len(fields) > 0 {
			mc.CommandName = strings.ToLower(fields[0])
			mc.Args = fields[1:]
		}
		mc.Text = strings.Join(mc.Args, " ")
	} else {
		mc.Text = mc.Body
	}
	if mc.Args == nil {
		mc.Args = []string{}
	}
	return mc, true
}

// addresses splits an author address and its alternative into the phone
// number and LID forms. An LID without a known phone number is kept as the
// phone number address too.
func (n *Normalizer) addresses(ctx context.Context, jid, alt types.JID) (pn, lid types.JID) {
	if jid.Server != types.HiddenUserServer {
		if alt.Server == types.HiddenUserServer {
			lid = alt
		}
		return jid, lid
	}
	if alt.Server == types.DefaultUserServer {
		return alt, jid
	}
	if resolved := n.phoneFor(ctx, jid); !resolved.IsEmpty() {
		return resolved, jid
	}
	return jid, jid
}

func (n *Normalizer) phoneFor(ctx context.Context, lid types.JID) types.JID {
	pn, err := n.src.PhoneForLID(ctx, lid)
	if err != nil {
		n.log.Debug().Err(err).Stringer("lid", lid).Msg("Failed to resolve LID")
		return types.EmptyJID
	}
	return pn.ToNonAD()
}

// resolveMentions rewrites LID mentions and quoted authors to phone number
// addresses where the mapping is known.
func (n *Normalizer) resolveMentions(ctx context.Context, c *Content) {
	for i, jid := range c.Mentions {
		if jid.Server != types.HiddenUserServer {
			continue
		}
		if pn := n.phoneFor(ctx, jid); !pn.IsEmpty() {
			c.Mentions[i] = pn
		}
	}
	if c.QuotedSender == "" {
		return
	}
	if jid, err := types.ParseJID(c.QuotedSender); err == nil && jid.Server == types.HiddenUserServer {
		if pn := n.phoneFor(ctx, jid); !pn.IsEmpty() {
			c.QuotedSender = pn.String()
		}
	}
}

// resolveGroup fills in group metadata. Lookup failures leave the context
// with empty metadata.
func (n *Normalizer) resolveGroup(ctx context.Context, mc *Context, own types.JID) {
	info, err := n.src.GroupInfo(ctx, mc.From)
	if err != nil || info == nil {
		n.log.Debug().Err(err).Stringer("chat", mc.From).Msg("Group metadata unavailable")
		mc.Group = &GroupMeta{JID: mc.From}
		return
	}
	ownLID := n.src.OwnLID().ToNonAD()
	meta := &GroupMeta{JID: info.JID, Name: info.Name}
	for _, p := range info.Participants {
		meta.Participants = append(meta.Participants, p.JID)
		if !p.IsAdmin && !p.IsSuperAdmin {
			continue
		}
		meta.Admins = append(meta.Admins, p.JID)
		if isParticipant(p, mc.Sender, mc.SenderLID) {
			mc.IsAdmin = true
		}
		if !own.IsEmpty() && isParticipant(p, own, ownLID) {
			mc.IsBotAdmin = true
		}
	}
	mc.Group = meta
}

// isParticipant matches p by any of its addresses against either address
// of one user.
func isParticipant(p types.GroupParticipant, pn, lid types.JID) bool {
	for _, addr := range [...]types.JID{p.JID, p.PhoneNumber, p.LID} {
		if addr.IsEmpty() {
			continue
		}
		if sameUser(addr, pn) || sameUser(addr, lid) {
			return true
		}
	}
	return false
}

func sameUser(a, b types.JID) bool {
	return !b.IsEmpty() && a.User == b.User && a.Server == b.Server
}
