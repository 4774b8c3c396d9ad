package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/feed"
	"github.com/eringen/spacetraveling/richtext"
)

type pagedSource struct {
	pages map[content.Cursor]content.Page
	err   error
}

func (s *pagedSource) FetchPage(ctx context.Context, cursor content.Cursor) (content.Page, error) {
	if s.err != nil {
		return content.Page{}, s.err
	}
	return s.pages[cursor], nil
}

func (s *pagedSource) FetchByKey(ctx context.Context, uid string) (content.Post, error) {
	for _, page := range s.pages {
		for _, p := range page.Results {
			if p.UID == uid {
				p.Content = []content.Block{{
					Heading: "Proin et varius",
					Body:    richtext.RichText{{Type: richtext.TypeParagraph, Text: "Lorem ipsum dolor sit amet"}},
				}}
				return p, nil
			}
		}
	}
	return content.Post{}, content.ErrNotFound
}

func post(uid string) content.Post {
	published := time.Date(2021, 3, 15, 19, 25, 28, 0, time.UTC)
	return content.Post{UID: uid, Title: "Post " + uid, Author: "Danilo Vieira", FirstPublicationDate: &published}
}

func newModel(t *testing.T) (Model, *pagedSource) {
	t.Helper()
	src := &pagedSource{pages: map[content.Cursor]content.Page{
		"":   {Results: []content.Post{post("a"), post("b")}, NextCursor: "p2"},
		"p2": {Results: []content.Post{post("c")}},
	}}
	ctrl, err := feed.Start(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	m := New(context.Background(), ctrl, src)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(Model), src
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModelLoadMore(t *testing.T) {
	m, _ := newModel(t)
	if len(m.Posts()) != 2 || !m.hasMore {
		t.Fatalf("initial posts = %d, hasMore %v", len(m.Posts()), m.hasMore)
	}
	if !strings.Contains(m.View(), "load more") {
		t.Error("status bar should offer load more")
	}

	updated, cmd := m.Update(key("m"))
	m = updated.(Model)
	if cmd == nil || !m.loading {
		t.Fatal("m should start loading")
	}
	if _, again := m.Update(key("m")); again != nil {
		t.Error("second m while loading should be ignored")
	}

	updated, _ = m.Update(m.loadMore()())
	m = updated.(Model)
	if m.loading {
		t.Error("loading should end")
	}
	if got := len(m.Posts()); got != 3 || m.Posts()[2].UID != "c" {
		t.Fatalf("posts after load = %d", got)
	}
	if m.hasMore {
		t.Error("last page should clear hasMore")
	}
	if _, cmd := m.Update(key("m")); cmd != nil {
		t.Error("m without more pages should do nothing")
	}
	if strings.Contains(m.View(), "load more") {
		t.Error("status bar still offers load more")
	}
}

func TestModelLoadFailureIsShown(t *testing.T) {
	m, src := newModel(t)
	src.err = content.ErrSourceUnavailable

	updated, _ := m.Update(key("m"))
	m = updated.(Model)
	updated, _ = m.Update(m.loadMore()())
	m = updated.(Model)

	if !errors.Is(m.err, content.ErrSourceUnavailable) {
		t.Fatalf("err = %v", m.err)
	}
	if len(m.Posts()) != 2 || !m.hasMore {
		t.Error("failed load should keep the list")
	}
	if !strings.Contains(m.View(), "Error:") {
		t.Error("error not rendered")
	}

	updated, _ = m.Update(key("j"))
	if updated.(Model).err != nil {
		t.Error("a key press should dismiss the error")
	}
}

func TestModelNavigationAndDetail(t *testing.T) {
	m, _ := newModel(t)

	updated, _ := m.Update(key("k"))
	m = updated.(Model)
	if m.Cursor() != 0 {
		t.Errorf("cursor = %d, want 0", m.Cursor())
	}
	updated, _ = m.Update(key("j"))
	m = updated.(Model)
	updated, _ = m.Update(key("j"))
	m = updated.(Model)
	if m.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", m.Cursor())
	}

	updated, cmd := m.Update(key("enter"))
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("enter should open the post")
	}
	updated, _ = m.Update(m.open("b")())
	m = updated.(Model)
	if m.detail == nil || m.detail.UID != "b" {
		t.Fatalf("detail = %+v", m.detail)
	}
	view := m.View()
	for _, want := range []string{"Post b", "Proin et varius", "Lorem ipsum", "15 mar 2021", "0 min"} {
		if !strings.Contains(view, want) {
			t.Errorf("detail view missing %q", want)
		}
	}

	updated, _ = m.Update(key("esc"))
	if updated.(Model).detail != nil {
		t.Error("esc should return to the list")
	}
}

func TestModelQuitClosesController(t *testing.T) {
	m, _ := newModel(t)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should return tea.Quit")
	}
	if _, err := m.ctrl.LoadMore(context.Background()); !errors.Is(err, feed.ErrClosed) {
		t.Errorf("LoadMore after quit = %v, want ErrClosed", err)
	}
}

func TestPostMeta(t *testing.T) {
	p := post("a")
	got := postMeta(p, p.FirstPublicationDate.Add(3*24*time.Hour))
	if got != "Danilo Vieira · 3 days ago" {
		t.Errorf("postMeta = %q", got)
	}
}
