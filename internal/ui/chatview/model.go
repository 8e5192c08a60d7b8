// Package chatview is the terminal chat window for one listing conversation.
package chatview

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"marketplace-client/internal/api"
	"marketplace-client/internal/chat"
	"marketplace-client/internal/eventbus"
	"marketplace-client/internal/logging"
	"marketplace-client/internal/realtime"
	"marketplace-client/internal/runctx"
	"marketplace-client/internal/runstatus"
)

const (
	messageBufferSize = 64
	statusBufferSize  = 8
	warningBufferSize = 4
	inputCharLimit    = 2000
	transcriptLimit   = 500

	// header, status line, input and help rows around the transcript
	chromeRows = 4
)

// Chat is the part of the application the window talks to.
type Chat interface {
	Bus() *eventbus.Bus
	Status() string
	SendMessage(recipient string, itemID int64, content string) error
}

type Options struct {
	Identity    string
	Counterpart string
	ItemID      int64
	History     []api.ChatMessage
	// Ended delivers the reason the session was cleared; the window closes.
	Ended  <-chan error
	Logger *logging.Logger
}

type incomingMsg api.ChatMessage
type statusMsg string
type warningMsg string
type sessionEndedMsg struct{ err error }
type sendResultMsg struct{ err error }

type entry struct {
	message api.ChatMessage
	notice  string
}

type model struct {
	ctx    context.Context
	cancel context.CancelFunc
	chat   Chat
	opts   Options
	logger *logging.Logger

	messageCh chan api.ChatMessage
	statusCh  chan string
	warningCh chan string

	unsubscribe []func()

	entries    []entry
	status     string
	notice     string
	warning    string
	sending    bool
	width      int
	height     int
	transcript viewport.Model
	input      textinput.Model
	endedErr   error
}

func newModel(ctx context.Context, c Chat, opts Options) *model {
	if opts.Logger == nil {
		panic("chatview.newModel: logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = inputCharLimit
	input.Prompt = "> "
	input.Focus()

	m := &model{
		ctx:        runCtx,
		cancel:     cancel,
		chat:       c,
		opts:       opts,
		logger:     opts.Logger,
		messageCh:  make(chan api.ChatMessage, messageBufferSize),
		statusCh:   make(chan string, statusBufferSize),
		warningCh:  make(chan string, warningBufferSize),
		status:     c.Status(),
		transcript: viewport.New(80, 20),
		input:      input,
	}
	for _, msg := range opts.History {
		m.entries = append(m.entries, entry{message: msg})
	}

	bus := c.Bus()
	m.unsubscribe = []func(){
		eventbus.On(bus, chat.TopicMessageReceived, m.onFrame),
		eventbus.On(bus, chat.TopicMessageSent, func(msg api.ChatMessage) {
			runctx.Offer(m.messageCh, msg)
		}),
		eventbus.On(bus, chat.TopicStatus, func(status string) {
			runctx.Offer(m.statusCh, status)
		}),
		// terminal log output is off while the view owns the screen
		m.logger.Subscribe(func(event logging.Event) {
			if event.Level >= slog.LevelWarn {
				runctx.Offer(m.warningCh, event.Message)
			}
		}),
	}
	return m
}

// onFrame runs on the broker goroutine and must not block.
func (m *model) onFrame(frame realtime.Message) {
	var msg api.ChatMessage
	if err := json.Unmarshal(frame.Body, &msg); err != nil {
		m.logger.Warn("ignoring undecodable chat frame",
			logging.Field("destination", frame.Destination),
			logging.Field("error", err),
		)
		return
	}
	runctx.Offer(m.messageCh, msg)
}

func waitOn[T any](ctx context.Context, name string, logger *logging.Logger, ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		value, ok := runctx.RecvOrDone(ctx, name, logger, ch)
		if !ok {
			return nil
		}
		return wrap(value)
	}
}

func (m *model) waitForMessage() tea.Cmd {
	return waitOn(m.ctx, "chat transcript", m.logger, m.messageCh, func(msg api.ChatMessage) tea.Msg {
		return incomingMsg(msg)
	})
}

func (m *model) waitForStatus() tea.Cmd {
	return waitOn(m.ctx, "chat status", m.logger, m.statusCh, func(status string) tea.Msg {
		return statusMsg(status)
	})
}

func (m *model) waitForWarning() tea.Cmd {
	return waitOn(m.ctx, "chat warnings", m.logger, m.warningCh, func(text string) tea.Msg {
		return warningMsg(text)
	})
}

func (m *model) waitForEnd() tea.Cmd {
	if m.opts.Ended == nil {
		return nil
	}
	return waitOn(m.ctx, "session watch", m.logger, m.opts.Ended, func(err error) tea.Msg {
		return sessionEndedMsg{err: err}
	})
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForMessage(), m.waitForStatus(), m.waitForWarning(), m.waitForEnd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.transcript.Width = max(msg.Width, 1)
		m.transcript.Height = max(msg.Height-chromeRows, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.refreshTranscript(true)
		return m, nil
	case incomingMsg:
		m.addMessage(api.ChatMessage(msg))
		return m, m.waitForMessage()
	case statusMsg:
		m.status = string(msg)
		if runstatus.Live(m.status) {
			m.warning = ""
		}
		return m, m.waitForStatus()
	case warningMsg:
		m.warning = string(msg)
		return m, m.waitForWarning()
	case sendResultMsg:
		m.sending = false
		if msg.err != nil {
			m.notice = "Message not sent: " + msg.err.Error()
			return m, nil
		}
		m.notice = ""
		m.input.Reset()
		return m, nil
	case sessionEndedMsg:
		m.endedErr = msg.err
		m.close()
		return m, tea.Quit
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.close()
		return m, tea.Quit
	case "enter":
		return m, m.send()
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) send() tea.Cmd {
	content := m.input.Value()
	if m.sending || strings.TrimSpace(content) == "" {
		return nil
	}
	m.sending = true
	recipient, itemID := m.opts.Counterpart, m.opts.ItemID
	return func() tea.Msg {
		return sendResultMsg{err: m.chat.SendMessage(recipient, itemID, content)}
	}
}

func (m *model) addMessage(msg api.ChatMessage) {
	e := entry{message: msg}
	if !m.inConversation(msg) {
		e = entry{notice: otherConversationNotice(msg, m.opts.Identity)}
	}
	m.entries = append(m.entries, e)
	if len(m.entries) > transcriptLimit {
		m.entries = append([]entry(nil), m.entries[len(m.entries)-transcriptLimit:]...)
	}
	m.refreshTranscript(m.transcript.AtBottom())
}

func (m *model) inConversation(msg api.ChatMessage) bool {
	if msg.ItemID != m.opts.ItemID {
		return false
	}
	peer := strings.TrimSpace(m.opts.Counterpart)
	return strings.EqualFold(msg.SenderID, peer) || strings.EqualFold(msg.RecipientID, peer)
}

func (m *model) close() {
	m.cancel()
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
	m.unsubscribe = nil
}
