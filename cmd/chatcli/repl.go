package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/estatechat/pkg/protocol"
	"github.com/mbeoliero/estatechat/sdk/localstore"
	"github.com/mbeoliero/estatechat/sdk/realtime/call"
	"github.com/mbeoliero/estatechat/sdk/realtime/chat"
)

// errQuit ends the read loop
var errQuit = errors.New("quit")

// chatSession is the part of *chat.Session the terminal drives
type chatSession interface {
	Snapshot() chat.Snapshot
	LoadConversations(ctx context.Context) error
	Open(ctx context.Context, conversationId string) error
	CreateConversation(ctx context.Context, partner protocol.Participant) (*protocol.Conversation, error)
	Send(ctx context.Context, text string) (*protocol.Message, error)
	Typing() error
	React(ctx context.Context, messageId, emoji string) error
	DeleteMessage(ctx context.Context, messageId string) error
	Block(ctx context.Context, conversationId string) error
	Unblock(ctx context.Context, conversationId string) error
	StartCall(ctx context.Context, video bool) error
	AcceptCall(ctx context.Context) error
	DeclineCall(ctx context.Context) error
	HangUp(ctx context.Context) error
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
}

type themeStore interface {
	SetTheme(theme string) error
}

type repl struct {
	session chatSession
	store   themeStore
	view    *terminalView
	out     io.Writer
}

const helpText = `commands:
  /list                     conversations
  /open <id>                open a conversation
  /new <user> [name]        start a conversation
  /react <msg> <emoji>      toggle a reaction
  /delete <msg>             delete your message
  /block, /unblock          block status of the open conversation
  /call <audio|video>       call the partner
  /accept, /decline         answer a ringing call
  /hangup                   end the call
  /mute, /camera            toggle microphone or camera
  /theme <light|dark>       switch theme
  /quit
anything else is sent to the open conversation`

// Run reads lines until EOF, /quit or ctx is done
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(r.out, "type /help for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
	}
}

// execute runs one input line
func (r *repl) execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := r.session.Send(ctx, line)
		return err
	}

	name, args := parseCommand(line)
	switch name {
	case "help":
		fmt.Fprintln(r.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "list":
		if err := r.session.LoadConversations(ctx); err != nil {
			return err
		}
		r.view.PrintList(r.session.Snapshot())
		return nil
	case "open":
		if len(args) != 1 {
			return usage("/open <id>")
		}
		return r.session.Open(ctx, args[0])
	case "new":
		if len(args) < 1 {
			return usage("/new <user> [name]")
		}
		conv, err := r.session.CreateConversation(ctx, protocol.Participant{Id: args[0], Name: strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		return r.session.Open(ctx, conv.Id)
	case "react":
		if len(args) != 2 {
			return usage("/react <msg> <emoji>")
		}
		return r.session.React(ctx, args[0], args[1])
	case "delete":
		if len(args) != 1 {
			return usage("/delete <msg>")
		}
		return r.session.DeleteMessage(ctx, args[0])
	case "block", "unblock":
		selected := r.session.Snapshot().Selected
		if selected == "" {
			return chat.ErrNoConversation
		}
		if name == "block" {
			return r.session.Block(ctx, selected)
		}
		return r.session.Unblock(ctx, selected)
	case "call":
		if len(args) != 1 || (args[0] != "audio" && args[0] != "video") {
			return usage("/call <audio|video>")
		}
		return r.session.StartCall(ctx, args[0] == "video")
	case "accept":
		return r.session.AcceptCall(ctx)
	case "decline":
		return r.session.DeclineCall(ctx)
	case "hangup":
		return r.session.HangUp(ctx)
	case "mute":
		on, err := r.session.ToggleAudio()
		if err == nil {
			fmt.Fprintf(r.out, "microphone %s\n", onOff(on))
		}
		return err
	case "camera":
		on, err := r.session.ToggleVideo()
		if err == nil {
			fmt.Fprintf(r.out, "camera %s\n", onOff(on))
		}
		return err
	case "theme":
		if len(args) != 1 {
			return usage("/theme <light|dark>")
		}
		if err := r.store.SetTheme(args[0]); err != nil {
			return err
		}
		r.view.SetTheme(args[0])
		return nil
	case "typing":
		return r.session.Typing()
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

// parseCommand splits "/name a b" into its name and arguments
func parseCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func usage(form string) error {
	return fmt.Errorf("usage: %s", form)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// terminalView prints session changes as lines. Render only prints what is
// new since the last call.
type terminalView struct {
	mu        sync.Mutex
	out       io.Writer
	selfId    string
	theme     string
	selected  string
	printed   map[string]bool
	typing    bool
	callState call.State
}

func newTerminalView(out io.Writer, selfId, theme string) *terminalView {
	return &terminalView{out: out, selfId: selfId, theme: theme, printed: make(map[string]bool)}
}

// SetTheme switches the colour scheme
func (v *terminalView) SetTheme(theme string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.theme = theme
}

func (v *terminalView) Render(snap chat.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.Selected != v.selected {
		v.selected = snap.Selected
		v.printed = make(map[string]bool)
		v.typing = false
		if snap.Selected != "" {
			fmt.Fprintf(v.out, "== %s ==\n", v.titleLocked(snap))
		}
	}

	if !snap.Loading {
		for _, m := range snap.Messages {
			key := m.Id
			if m.TempId != "" {
				key = m.TempId
			}
			if v.printed[key] || m.Pending {
				continue
			}
			v.printed[key] = true
			fmt.Fprintln(v.out, v.formatLocked(m))
		}
	}

	if snap.PartnerTyping != v.typing {
		v.typing = snap.PartnerTyping
		if v.typing {
			fmt.Fprintln(v.out, "  ... typing")
		}
	}

	if snap.Call.State != v.callState {
		v.callState = snap.Call.State
		if snap.Call.State != call.StateIdle {
			fmt.Fprintf(v.out, "call %s: %s\n", snap.Call.State, snap.Call.PartnerId)
		}
	}
}

func (v *terminalView) Toast(level, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	marker := "i"
	if level == chat.ToastError {
		marker = "!"
	}
	fmt.Fprintf(v.out, "[%s] %s\n", marker, msg)
}

func (v *terminalView) CallLogged(entry call.LogEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kind := "audio"
	if entry.Video {
		kind = "video"
	}
	switch {
	case entry.Missed && entry.Incoming:
		fmt.Fprintf(v.out, "missed %s call from %s\n", kind, entry.PartnerId)
	case entry.Missed:
		fmt.Fprintf(v.out, "%s did not answer\n", entry.PartnerId)
	default:
		fmt.Fprintf(v.out, "%s call with %s ended (%s)\n", kind, entry.PartnerId, entry.Duration.Round(time.Second))
	}
}

// PrintList prints the conversation list
func (v *terminalView) PrintList(snap chat.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(snap.Rows) == 0 {
		fmt.Fprintln(v.out, "no conversations")
		return
	}
	for _, row := range snap.Rows {
		flags := ""
		if row.Online {
			flags += " *"
		}
		if row.Conversation.IsBlocked {
			flags += " [blocked]"
		}
		if row.Conversation.UnreadMessages > 0 {
			flags += fmt.Sprintf(" (%d)", row.Conversation.UnreadMessages)
		}
		fmt.Fprintf(v.out, "%s  %s%s  %s\n", row.Conversation.Id, row.Label, flags, row.Conversation.LastMessage)
	}
	if snap.TotalUnread > 0 {
		fmt.Fprintf(v.out, "%d unread\n", snap.TotalUnread)
	}
}

func (v *terminalView) titleLocked(snap chat.Snapshot) string {
	for _, row := range snap.Rows {
		if row.Conversation.Id == snap.Selected {
			return row.Label
		}
	}
	return snap.Selected
}

func (v *terminalView) formatLocked(m *protocol.Message) string {
	who := m.SenderId
	if m.SenderId == v.selfId {
		who = "you"
		if v.theme == localstore.ThemeDark {
			who = "\x1b[1;36myou\x1b[0m"
		}
	}
	line := fmt.Sprintf("[%s] %s: %s", m.Id, who, m.Text)
	if len(m.Reactions) > 0 {
		var emojis []string
		for _, e := range m.Reactions {
			emojis = append(emojis, e)
		}
		sort.Strings(emojis)
		line += "  " + strings.Join(emojis, "")
	}
	if m.SenderId == v.selfId && m.Seen {
		line += "  (seen)"
	}
	return line
}
