package command

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"gisthq-bot/internal/message"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/settings"
)

type fakeTransport struct {
	mu        sync.Mutex
	reactions []string
	reactErr  error
}

func (f *fakeTransport) IsReady() bool { return true }

func (f *fakeTransport) Send(context.Context, types.JID, *waE2E.Message) (types.MessageID, error) {
	return "", nil
}

func (f *fakeTransport) React(_ context.Context, _ message.Key, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, emoji)
	return f.reactErr
}

func (f *fakeTransport) MarkRead(context.Context, []message.Key) error { return nil }

func (f *fakeTransport) GroupInfo(context.Context, types.JID) (*types.GroupInfo, error) {
	return nil, errors.New("not a group")
}

func (f *fakeTransport) OwnJID() types.JID { return types.EmptyJID }

func (f *fakeTransport) OwnLID() types.JID { return types.EmptyJID }

func (f *fakeTransport) PhoneForLID(context.Context, types.JID) (types.JID, error) {
	return types.EmptyJID, nil
}

// calls records handler invocations by name.
type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) handler(name string) Handler {
	return func(context.Context, *Request) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.names = append(c.names, name)
		return nil
	}
}

func (c *calls) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.names {
		if got == name {
			n++
		}
	}
	return n
}

func newDispatcher(t *testing.T, reg *Registry) (*Dispatcher, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	d := NewDispatcher(reg, tr, reply.NewGateway(tr, zerolog.Nop()), zerolog.Nop())
	d.newID = func() string { return "test" }
	return d, tr
}

var testEnv = &message.Envelope{
	Key:     message.Key{RemoteJID: types.NewJID("2348012345678", types.DefaultUserServer), ID: "ABC"},
	Message: &waE2E.Message{},
}

func commandCtx(name string, args ...string) *message.Context {
	if args == nil {
		args = []string{}
	}
	body := strings.TrimSpace("." + name + " " + strings.Join(args, " "))
	return &message.Context{
		From:        testEnv.Key.RemoteJID,
		Body:        body,
		CommandName: name,
		Args:        args,
		Text:        strings.Join(args, " "),
		IsCommand:   true,
		Content:     message.Content{Kind: message.KindText, Text: body},
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	tests := []struct {
		name    string
		binding Binding
		wantErr bool
	}{
		{"pattern", Binding{Pattern: "Alive", Handler: noop}, false},
		{"passive", Binding{Trigger: OnBody, Handler: noop}, false},
		{"nil handler", Binding{Pattern: "x"}, true},
		{"empty pattern", Binding{Pattern: "  ", Handler: noop}, true},
		{"passive with pattern", Binding{Trigger: OnImage, Pattern: "x", Handler: noop}, true},
		{"passive with alias", Binding{Trigger: OnText, Aliases: []string{"x"}, Handler: noop}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewRegistry().Register(tt.binding)
			if tt.wantErr != errors.Is(err, ErrInvalidBinding) {
				t.Errorf("Register: got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterNormalizesNames(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.MustRegister(Binding{Pattern: " Alive ", Aliases: []string{"Status", "status", ""}, Handler: func(context.Context, *Request) error { return nil }})
	b, ok := reg.Lookup("ALIVE")
	if !ok || b.Pattern != "alive" {
		t.Fatalf("Lookup: got %+v, %v", b, ok)
	}
	if !slices.Equal(b.Aliases, []string{"status"}) {
		t.Errorf("aliases: got %v", b.Aliases)
	}
}

func TestExactPatternBeatsAlias(t *testing.T) {
	t.Parallel()
	c := &calls{}
	reg := NewRegistry()
	reg.MustRegister(
		Binding{Pattern: "speed", Aliases: []string{"ping"}, Handler: c.handler("speed")},
		Binding{Pattern: "ping", Handler: c.handler("ping")},
	)
	d, _ := newDispatcher(t, reg)
	d.Dispatch(context.Background(), testEnv, commandCtx("ping"), settings.Settings{})
	d.Wait()
	if c.count("ping") != 1 || c.count("speed") != 0 {
		t.Errorf("got calls %v", c.names)
	}

	c2 := &calls{}
	reg2 := NewRegistry()
	reg2.MustRegister(
		Binding{Pattern: "speed", Aliases: []string{"p"}, Handler: c2.handler("speed")},
		Binding{Pattern: "other", Aliases: []string{"p"}, Handler: c2.handler("other")},
	)
	d2, _ := newDispatcher(t, reg2)
	d2.Dispatch(context.Background(), testEnv, commandCtx("p"), settings.Settings{})
	if c2.count("speed") != 1 || c2.count("other") != 0 {
		t.Errorf("alias tie-break: got calls %v", c2.names)
	}
}

func TestAliveInvokedOnceWithReaction(t *testing.T) {
	t.Parallel()
	var gotArgs []string
	invoked := 0
	reg := NewRegistry()
	reg.MustRegister(Binding{
		Pattern: "alive",
		Aliases: []string{"status", "online", "a"},
		React:   "📌",
		Handler: func(_ context.Context, req *Request) error {
			invoked++
			gotArgs = req.Context.Args
			return nil
		},
	})
	d, tr := newDispatcher(t, reg)
	tr.reactErr = errors.New("not connected")
	d.Dispatch(context.Background(), testEnv, commandCtx("alive"), settings.Settings{})
	d.Wait()
	if invoked != 1 {
		t.Errorf("invoked %d times", invoked)
	}
	if gotArgs == nil || len(gotArgs) != 0 {
		t.Errorf("args: got %#v, want empty", gotArgs)
	}
	if !slices.Equal(tr.reactions, []string{"📌"}) {
		t.Errorf("reactions: got %v", tr.reactions)
	}
}

func TestUnknownCommandRunsNothing(t *testing.T) {
	t.Parallel()
	c := &calls{}
	reg := NewRegistry()
	reg.MustRegister(Binding{Pattern: "alive", Handler: c.handler("alive")})
	d, tr := newDispatcher(t, reg)
	d.Dispatch(context.Background(), testEnv, commandCtx("nope"), settings.Settings{})
	d.Wait()
	if len(c.names) != 0 || len(tr.reactions) != 0 {
		t.Errorf("unexpected calls %v reactions %v", c.names, tr.reactions)
	}
}

func TestFailingHandlersDoNotStopOthers(t *testing.T) {
	t.Parallel()
	c := &calls{}
	reg := NewRegistry()
	reg.MustRegister(
		Binding{Pattern: "boom", Handler: func(context.Context, *Request) error { panic("pattern exploded") }},
		Binding{Trigger: OnBody, Handler: func(context.Context, *Request) error { panic("body exploded") }},
		Binding{Trigger: OnBody, Handler: func(context.Context, *Request) error { return errors.New("body failed") }},
		Binding{Trigger: OnBody, Handler: c.handler("body")},
		Binding{Trigger: OnText, Handler: c.handler("text")},
	)
	d, _ := newDispatcher(t, reg)
	d.Dispatch(context.Background(), testEnv, commandCtx("boom"), settings.Settings{})
	d.Wait()
	if c.count("body") != 1 {
		t.Errorf("later OnBody handler ran %d times", c.count("body"))
	}
	if c.count("text") != 0 {
		t.Error("OnText ran for a command without arguments")
	}
}

func TestPassiveTriggers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mc   *message.Context
		want []string
	}{
		{
			name: "plain text",
			mc:   &message.Context{Body: "hello", Text: "hello", Content: message.Content{Kind: message.KindText, Text: "hello"}},
			want: []string{"body", "text"},
		},
		{
			name: "captionless image",
			mc:   &message.Context{Content: message.Content{Kind: message.KindImage}},
			want: []string{"image"},
		},
		{
			name: "sticker",
			mc:   &message.Context{Content: message.Content{Kind: message.KindSticker}},
			want: []string{"sticker"},
		},
		{
			name: "command with args",
			mc:   commandCtx("echo", "hi"),
			want: []string{"body", "text"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &calls{}
			reg := NewRegistry()
			reg.MustRegister(
				Binding{Trigger: OnBody, Handler: c.handler("body")},
				Binding{Trigger: OnText, Handler: c.handler("text")},
				Binding{Trigger: OnImage, Handler: c.handler("image")},
				Binding{Trigger: OnSticker, Handler: c.handler("sticker")},
			)
			d, _ := newDispatcher(t, reg)
			d.Dispatch(context.Background(), testEnv, tt.mc, settings.Settings{})
			d.Wait()
			got := slices.Clone(c.names)
			slices.Sort(got)
			want := slices.Clone(tt.want)
			slices.Sort(want)
			if !slices.Equal(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestRequestCarriesSnapshot(t *testing.T) {
	t.Parallel()
	var got settings.Settings
	reg := NewRegistry()
	reg.MustRegister(Binding{Pattern: "mode", Handler: func(_ context.Context, req *Request) error {
		got = req.Settings
		return nil
	}})
	d, _ := newDispatcher(t, reg)
	d.Dispatch(context.Background(), testEnv, commandCtx("mode"), settings.Settings{Prefix: "!", Mode: "private"})
	if got.Prefix != "!" || got.Mode != "private" {
		t.Errorf("snapshot: got %+v", got)
	}
}
