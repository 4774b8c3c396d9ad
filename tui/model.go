package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/feed"
	"github.com/eringen/spacetraveling/views"
)

// Model browses a feed. The controller must already be initialized; the
// model closes it on quit.
type Model struct {
	ctx  context.Context
	ctrl *feed.Controller
	src  content.Source

	posts   []content.Post
	hasMore bool
	cursor  int
	detail  *content.Post

	spinner spinner.Model
	loading bool
	err     error
	width   int
	height  int
	ready   bool
}

// New creates a browser over ctrl. src serves the full document when a post
// is opened.
func New(ctx context.Context, ctrl *feed.Controller, src content.Source) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorHighlight)
	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		src:     src,
		posts:   ctrl.CurrentPosts(),
		hasMore: ctrl.HasMore(),
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) loadMore() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		posts, err := ctrl.LoadMore(ctx)
		return PostsLoaded{Appended: posts, Err: err}
	}
}

func (m Model) open(uid string) tea.Cmd {
	src, ctx := m.src, m.ctx
	return func() tea.Msg {
		post, err := src.FetchByKey(ctx, uid)
		return PostOpened{Post: post, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case PostsLoaded:
		m.loading = false
		switch {
		case msg.Err == nil:
			m.posts = m.ctrl.CurrentPosts()
		case errors.Is(msg.Err, feed.ErrLoadInProgress):
		case errors.Is(msg.Err, feed.ErrNoMorePages):
		default:
			m.err = msg.Err
		}
		m.hasMore = m.ctrl.HasMore()
		return m, nil

	case PostOpened:
		m.loading = false
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		post := msg.Post
		m.detail = &post
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch msg.String() {
	case "q", "ctrl+c":
		m.ctrl.Close()
		return m, tea.Quit

	case "esc", "backspace":
		m.detail = nil
		return m, nil
	}

	if m.detail != nil {
		return m, nil
	}

	switch msg.String() {
	case "j", "down":
		if m.cursor < len(m.posts)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "m":
		if m.loading || !m.hasMore {
			return m, nil
		}
		m.loading = true
		return m, tea.Batch(m.loadMore(), m.spinner.Tick)
	case "enter":
		if m.loading || m.cursor >= len(m.posts) {
			return m, nil
		}
		m.loading = true
		return m, tea.Batch(m.open(m.posts[m.cursor].UID), m.spinner.Tick)
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	body := m.listView()
	if m.detail != nil {
		body = m.detailView(*m.detail)
	}
	if m.err != nil {
		body += "\n" + errorStyle.Width(m.width).Render("Error: "+m.err.Error())
	}
	return body + "\n" + m.statusView()
}

func (m Model) listView() string {
	if len(m.posts) == 0 {
		return helpStyle.Render("No posts published.")
	}
	var b strings.Builder
	for i, post := range m.posts {
		style := normalStyle
		if i == m.cursor {
			style = selectedStyle
		}
		b.WriteString(style.Render(post.Title))
		b.WriteString("\n")
		b.WriteString(metaStyle.Render(postMeta(post, time.Now())))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) detailView(post content.Post) string {
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	text := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	b.WriteString(titleStyle.Render(post.Title))
	b.WriteString("\n")
	if post.Subtitle != "" {
		b.WriteString(text.Render(post.Subtitle))
		b.WriteString("\n")
	}
	meta := fmt.Sprintf("%s · %s · %s", views.FormatDate(post.FirstPublicationDate), post.Author, views.ReadingTime(post.Content))
	b.WriteString(metaStyle.Render(meta))
	b.WriteString("\n")
	if post.Edited() {
		b.WriteString(metaStyle.Render(views.FormatEdited(post.LastPublicationDate)))
		b.WriteString("\n")
	}
	for _, block := range post.Content {
		if block.Heading != "" {
			b.WriteString(headingStyle.Render(block.Heading))
			b.WriteString("\n")
		}
		for _, el := range block.Body {
			if el.Text == "" {
				continue
			}
			b.WriteString(text.Render(el.Text))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) statusView() string {
	var b strings.Builder
	if m.loading {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(fmt.Sprintf("%d posts", len(m.posts)))
	if m.detail != nil {
		b.WriteString("  " + statusKey.Render("esc") + " back")
	} else {
		if m.hasMore {
			b.WriteString("  " + statusKey.Render("m") + " load more")
		}
		b.WriteString("  " + statusKey.Render("enter") + " open")
	}
	b.WriteString("  " + statusKey.Render("q") + " quit")
	return statusBar.Width(m.width).Render(b.String())
}

func postMeta(post content.Post, now time.Time) string {
	parts := []string{post.Author}
	if post.FirstPublicationDate != nil {
		parts = append(parts, humanize.RelTime(*post.FirstPublicationDate, now, "ago", "from now"))
	}
	if post.Subtitle != "" {
		parts = append(parts, post.Subtitle)
	}
	return strings.Join(parts, " · ")
}

// Posts returns the posts shown in the list.
func (m Model) Posts() []content.Post {
	return m.posts
}

// Cursor returns the selected row.
func (m Model) Cursor() int {
	return m.cursor
}
