package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/a-h/slackrag/client"
	"github.com/a-h/slackrag/models"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

type ChatCommand struct {
	ServerURL   string   `help:"The URL of the slackrag server." env:"SLACKRAG_SERVER_URL" default:"http://localhost:8080"`
	APIKey      string   `help:"The API key for the slackrag server." env:"SLACKRAG_API_KEY" default:""`
	FilterWords []string `help:"Words removed from search keywords." sep:","`
}

type chatMessageType string

const (
	chatMessageTypeSystem chatMessageType = "system"
	chatMessageTypeHuman  chatMessageType = "human"
	chatMessageTypeAI     chatMessageType = "ai"
)

type chatMessage struct {
	Type    chatMessageType
	Content string
}

const welcomeMessage = `Ask a question. Each question is answered from a fresh web search.`

func (c ChatCommand) Run(ctx context.Context) (err error) {
	rsc := client.New(c.ServerURL, c.APIKey)

	messages := []chatMessage{
		{Type: chatMessageTypeSystem, Content: welcomeMessage},
	}

	toLLM := make(chan chatMessage, 8)
	fromLLM := make(chan []chatMessage)
	errors := make(chan error)

	go func() {
		for toSend := range toLLM {
			messages = append(messages, toSend, chatMessage{Type: chatMessageTypeAI, Content: "Processing..."})
			fromLLM <- slices.Clone(messages)

			resp, err := rsc.QueryPost(ctx, models.QueryPostRequest{
				Text:        toSend.Content,
				FilterWords: c.FilterWords,
			})
			if err != nil {
				messages = messages[:len(messages)-1]
				errors <- err
				continue
			}
			messages[len(messages)-1].Content = formatAnswer(resp)
			fromLLM <- slices.Clone(messages)
		}
	}()

	p := tea.NewProgram(newModel(ctx, toLLM, fromLLM, errors))
	_, err = p.Run()
	close(toLLM)
	return err
}

func formatAnswer(resp models.QueryPostResponse) string {
	var sb strings.Builder
	sb.WriteString(resp.Result)
	for i, s := range resp.Sources {
		if i == 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("\n- ")
		sb.WriteString(s.Title)
		sb.WriteString(" ")
		sb.WriteString(s.Link)
	}
	return sb.String()
}

// Dracula color scheme.
var (
	Background  = lipgloss.Color("#282a36")
	CurrentLine = lipgloss.Color("#44475a")
	Selection   = lipgloss.Color("#44475a")
	Foreground  = lipgloss.Color("#f8f8f2")
	Comment     = lipgloss.Color("#6272a4")
	Cyan        = lipgloss.Color("#8be9fd")
	Green       = lipgloss.Color("#50fa7b")
	Orange      = lipgloss.Color("#ffb86c")
	Pink        = lipgloss.Color("#ff79c6")
	Purple      = lipgloss.Color("#bd93f9")
	Red         = lipgloss.Color("#ff5555")
	Yellow      = lipgloss.Color("#f1fa8c")
)

var headerStyle = lipgloss.NewStyle().Background(CurrentLine).Foreground(Purple).Bold(true).Margin(10).Padding(1).PaddingTop(0)

var header = "slackrag\nAnswers come from a web search, with their sources listed underneath."

type model struct {
	viewport viewport.Model
	textarea textarea.Model
	err      error
	ctx      context.Context

	// Chatbot interactions.
	toLLM   chan chatMessage
	fromLLM chan []chatMessage
	errors  chan error
}

func newModel(ctx context.Context, toLLM chan chatMessage, fromLLM chan []chatMessage, errors chan error) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()

	ta.Prompt = "┃ "
	ta.CharLimit = 280

	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()

	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent(headerStyle.Render(header))

	ta.KeyMap.InsertNewline.SetEnabled(false)

	return model{
		ctx:      ctx,
		textarea: ta,
		viewport: vp,
		err:      nil,
		fromLLM:  fromLLM,
		toLLM:    toLLM,
		errors:   errors,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.subscribeToFromLLM(),
		m.subscribeToErrors(),
	)
}

func (m model) subscribeToFromLLM() tea.Cmd {
	return func() tea.Msg {
		select {
		case x := <-m.fromLLM:
			return x
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) subscribeToErrors() tea.Cmd {
	return func() tea.Msg {
		select {
		case x := <-m.errors:
			return x
		case <-m.ctx.Done():
			return nil
		}
	}
}

var messageTypeToStyle = map[chatMessageType]lipgloss.Style{
	chatMessageTypeSystem: lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).MaxWidth(90).Background(Background).Foreground(Green),
	chatMessageTypeHuman:  lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Pink),
	chatMessageTypeAI:     lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Cyan),
}

var messageTypeToIcon = map[chatMessageType]string{
	chatMessageTypeSystem: "🤖",
	chatMessageTypeHuman:  "🥷",
	chatMessageTypeAI:     "✨",
}

func formatMessage(msg chatMessage) string {
	style, ok := messageTypeToStyle[msg.Type]
	if !ok {
		return msg.Content
	}
	icon, ok := messageTypeToIcon[msg.Type]
	if !ok {
		icon = "🤷"
	}
	wrapped := wordwrap.String(strings.TrimSpace(icon+" "+msg.Content), 80)
	return style.Render(wrapped)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case error:
		m.err = msg
		return m, m.subscribeToErrors()
	case []chatMessage:
		var sb strings.Builder
		for _, cm := range msg {
			sb.WriteString(formatMessage(cm))
			sb.WriteString("\n")
		}
		m.viewport.SetContent(sb.String())
		m.viewport.GotoBottom()
		return m, m.subscribeToFromLLM()
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - m.textarea.Height() - 3
		m.textarea.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			// Quit.
			fmt.Println(m.textarea.Value())
			return m, tea.Quit
		case "enter":
			v := m.textarea.Value()

			if v == "" {
				// Don't send empty messages.
				return m, nil
			}

			m.textarea.Reset()
			m.err = nil
			m.toLLM <- chatMessage{
				Type:    chatMessageTypeHuman,
				Content: v,
			}
			return m, nil
		default:
			// Send all other keypresses to the textarea.
			var cmd tea.Cmd
			m.textarea, cmd = m.textarea.Update(msg)
			return m, cmd
		}

	case cursor.BlinkMsg:
		// Textarea should also process cursor blinks.
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

var errorStyle = lipgloss.NewStyle().Foreground(Red)

func (m model) View() string {
	status := ""
	if m.err != nil {
		status = errorStyle.Render("Error: " + m.err.Error())
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		status,
		m.textarea.View(),
	) + "\n\n"
}
