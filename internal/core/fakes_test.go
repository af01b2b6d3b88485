package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// fakeMailbox serves messages from memory
type fakeMailbox struct {
	mu        sync.Mutex
	messages  map[string]*MailMessage
	order     []string
	searchErr error
	searches  int
	queries   []MailQuery
	// appearAfter hides every message until this many searches happened
	appearAfter int
}

func newFakeMailbox(msgs ...*MailMessage) *fakeMailbox {
	m := &fakeMailbox{messages: map[string]*MailMessage{}}
	for _, msg := range msgs {
		m.messages[msg.ID] = msg
		m.order = append(m.order, msg.ID)
	}
	return m
}

func (m *fakeMailbox) Search(ctx context.Context, query MailQuery) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	m.queries = append(m.queries, query)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if m.searches <= m.appearAfter {
		return nil, nil
	}
	return append([]string(nil), m.order...), nil
}

func (m *fakeMailbox) Fetch(ctx context.Context, id string) (*MailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return msg, nil
}

// fakeElement records interactions against a DOM-less element
type fakeElement struct {
	page     *fakePage
	name     string
	value    string
	text     string
	hidden   bool
	disabled bool
	failFill bool
	// dropFills swallows this many writes before the value sticks
	dropFills int
	onClick   func()
	onKey     func(Key)
	clicks    int
}

func (e *fakeElement) Fill(ctx context.Context, value string) error {
	if e.failFill {
		return errors.New("fill failed")
	}
	e.page.log("fill " + e.name)
	if e.dropFills > 0 {
		e.dropFills--
		return nil
	}
	e.value = value
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.clicks++
	e.page.log("click " + e.name)
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Focus(ctx context.Context) error { return nil }

func (e *fakeElement) Press(ctx context.Context, key Key) error {
	e.page.log("press " + string(key) + " " + e.name)
	if e.onKey != nil {
		e.onKey(key)
	}
	return nil
}

func (e *fakeElement) Blur(ctx context.Context) error {
	e.page.log("blur " + e.name)
	return nil
}

func (e *fakeElement) SelectOption(ctx context.Context, label string) error {
	e.page.log("select " + label + " " + e.name)
	e.value = label
	return nil
}

func (e *fakeElement) Value(ctx context.Context) (string, error) { return e.value, nil }
func (e *fakeElement) Text(ctx context.Context) (string, error)  { return e.text, nil }
func (e *fakeElement) Visible(ctx context.Context) (bool, error) { return !e.hidden, nil }
func (e *fakeElement) Enabled(ctx context.Context) (bool, error) { return !e.disabled, nil }

// fakePage maps locators to elements and lets tests script navigation
type fakePage struct {
	url        string
	elements   map[string]*fakeElement
	groups     map[string][]*fakeElement
	delays     map[string]time.Duration
	actions    []string
	waited     []string
	navErr     error
	idleErr    error
	download   *Download
	downloadFn func(dir string) (*Download, error)
	shotErr    error
	shots      int
}

func newFakePage(url string) *fakePage {
	return &fakePage{
		url:      url,
		elements: map[string]*fakeElement{},
		groups:   map[string][]*fakeElement{},
		delays:   map[string]time.Duration{},
	}
}

func (p *fakePage) log(action string) {
	p.actions = append(p.actions, action)
}

func (p *fakePage) add(locator, name string) *fakeElement {
	el := &fakeElement{page: p, name: name}
	p.elements[locator] = el
	return el
}

func (p *fakePage) addGroup(locator string, n int) []*fakeElement {
	els := make([]*fakeElement, n)
	for i := range els {
		els[i] = &fakeElement{page: p, name: locator + "#" + string(rune('0'+i))}
	}
	p.groups[locator] = els
	return els
}

func (p *fakePage) remove(locators ...string) {
	for _, l := range locators {
		delete(p.elements, l)
		delete(p.groups, l)
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.log("navigate " + url)
	if p.navErr != nil {
		return p.navErr
	}
	p.url = url
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) { return p.url, nil }

func (p *fakePage) WaitVisible(ctx context.Context, locator string, timeout time.Duration) (Element, error) {
	p.waited = append(p.waited, locator)
	if d, ok := p.delays[locator]; ok {
		if d > timeout {
			return nil, ErrNoMatch
		}
	}
	el, ok := p.elements[locator]
	if !ok {
		return nil, ErrNoMatch
	}
	return el, nil
}

func (p *fakePage) QueryAll(ctx context.Context, locator string) ([]Element, error) {
	els := p.groups[locator]
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return p.idleErr
}

func (p *fakePage) ExpectDownload(ctx context.Context, dir string, timeout time.Duration, trigger func(ctx context.Context) error) (*Download, error) {
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	if p.downloadFn != nil {
		return p.downloadFn(dir)
	}
	if p.download == nil {
		return nil, ErrDownloadTimeout
	}
	return p.download, nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.shots++
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return []byte("\x89PNG"), nil
}

func (p *fakePage) did(action string) bool {
	for _, a := range p.actions {
		if a == action {
			return true
		}
	}
	return false
}

// clicksAfter lists the clicks recorded after the last occurrence of action
func (p *fakePage) clicksAfter(action string) []string {
	last := -1
	for i, a := range p.actions {
		if a == action {
			last = i
		}
	}
	var clicks []string
	for _, a := range p.actions[last+1:] {
		if strings.HasPrefix(a, "click ") {
			clicks = append(clicks, a)
		}
	}
	return clicks
}

func (p *fakePage) countPrefix(prefix string) int {
	n := 0
	for _, a := range p.actions {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

// fakeSession counts teardowns
type fakeSession struct {
	page     *fakePage
	closes   int
	closeErr error
}

func (s *fakeSession) Page() Page { return s.page }

func (s *fakeSession) Close() error {
	s.closes++
	return s.closeErr
}

type fakeBrowser struct {
	session *fakeSession
	openErr error
	opens   int
}

func (b *fakeBrowser) Open(ctx context.Context) (Session, error) {
	b.opens++
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.session, nil
}

type fakeDiagnostics struct {
	labels []string
	err    error
}

func (d *fakeDiagnostics) Capture(ctx context.Context, label string, png []byte) error {
	d.labels = append(d.labels, label)
	return d.err
}
