package dialog

import (
	"errors"
	"strings"

	"courier-dispatch/internal/channel"
)

// AnswerKey is the handler key that receives every reply a node accepts.
const AnswerKey = "answer"

type Kind int

const (
	OpenText Kind = iota
	ButtonChoice
	ListChoice
	LocationRequest
)

func (k Kind) String() string {
	switch k {
	case OpenText:
		return "open_text"
	case ButtonChoice:
		return "button_choice"
	case ListChoice:
		return "list_choice"
	case LocationRequest:
		return "location_request"
	default:
		return "unknown"
	}
}

func (k Kind) shape() channel.Shape {
	switch k {
	case ButtonChoice:
		return channel.ShapeButtons
	case ListChoice:
		return channel.ShapeList
	case LocationRequest:
		return channel.ShapeLocation
	default:
		return channel.ShapeText
	}
}

// Text renders a string from the session bindings.
type Text func(v *Vars) string

// Static is a Text that ignores bindings.
func Static(s string) Text { return func(*Vars) string { return s } }

type ButtonSpec struct {
	ID    string
	Label Text
}

type SectionSpec struct {
	Title Text
	Rows  []channel.Row
}

// Content describes what a node sends. Static and dynamic forms may be
// combined; dynamic entries follow static ones.
type Content struct {
	Title       Text
	Body        Text
	ButtonLabel Text
	Buttons     []ButtonSpec
	ButtonsFunc func(v *Vars) []channel.Button
	Sections    []SectionSpec
	// SectionsFunc produces list sections from bindings.
	SectionsFunc func(v *Vars) []channel.Section
}

// Node is one step of a conversation graph. Nodes are built once and
// shared read-only by every session that visits them.
type Node struct {
	Name         string
	Kind         Kind
	Content      Content
	Handlers     map[string]Target
	AutoContinue bool
}

func (n *Node) label() string {
	if n == nil {
		return "<nil>"
	}
	if n.Name == "" {
		return n.Kind.String()
	}
	return n.Name
}

// Render resolves the node's content against v.
func (n *Node) Render(v *Vars) (channel.Content, error) {
	body := eval(n.Content.Body, v)
	if body == "" {
		return nil, newError(ErrorStructural, n, "missing_body", nil)
	}
	if title := eval(n.Content.Title, v); title != "" {
		body = "*" + title + "*\n\n" + body
	}

	switch n.Kind {
	case OpenText:
		return channel.PlainText{Body: body}, nil

	case LocationRequest:
		return channel.LocationRequest{Body: body}, nil

	case ButtonChoice:
		buttons := n.buttons(v)
		if len(buttons) == 0 {
			return nil, newError(ErrorStructural, n, "missing_buttons", nil)
		}
		content := channel.ButtonChoice{Body: body, Buttons: buttons}
		if err := n.checkRoutable(channel.ChoiceIDs(content)); err != nil {
			return nil, err
		}
		return content, nil

	case ListChoice:
		sections := n.sections(v)
		if len(sections) == 0 {
			return nil, newError(ErrorStructural, n, "missing_sections", nil)
		}
		label := eval(n.Content.ButtonLabel, v)
		if label == "" {
			return nil, newError(ErrorStructural, n, "missing_button_label", nil)
		}
		content := channel.ListChoice{Body: body, ButtonLabel: label, Sections: sections}
		if err := n.checkRoutable(channel.ChoiceIDs(content)); err != nil {
			return nil, err
		}
		return content, nil
	}
	return nil, newError(ErrorStructural, n, "unknown_kind", nil)
}

func (n *Node) buttons(v *Vars) []channel.Button {
	out := make([]channel.Button, 0, len(n.Content.Buttons))
	for _, b := range n.Content.Buttons {
		out = append(out, channel.Button{ID: b.ID, Label: eval(b.Label, v)})
	}
	if n.Content.ButtonsFunc != nil {
		out = append(out, n.Content.ButtonsFunc(v)...)
	}
	return out
}

func (n *Node) sections(v *Vars) []channel.Section {
	out := make([]channel.Section, 0, len(n.Content.Sections))
	for _, s := range n.Content.Sections {
		out = append(out, channel.Section{Title: eval(s.Title, v), Rows: s.Rows})
	}
	if n.Content.SectionsFunc != nil {
		out = append(out, n.Content.SectionsFunc(v)...)
	}
	return out
}

func (n *Node) staticIDs() []string {
	var ids []string
	for _, b := range n.Content.Buttons {
		ids = append(ids, b.ID)
	}
	for _, s := range n.Content.Sections {
		for _, r := range s.Rows {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (n *Node) routes(id string) bool {
	if t, ok := n.Handlers[AnswerKey]; ok && t.valid() {
		return true
	}
	t, ok := n.Handlers[id]
	return ok && t.valid()
}

func (n *Node) checkRoutable(ids []string) error {
	var missing []string
	for _, id := range ids {
		if !n.routes(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return newError(ErrorStructural, n, "unhandled_choice",
			errors.New("no handler for "+strings.Join(missing, ", ")))
	}
	return nil
}

// Validate checks the node in isolation: every statically advertised id
// must be routable, and an auto-continue node needs a Call answer handler.
func (n *Node) Validate() error {
	if err := n.checkRoutable(n.staticIDs()); err != nil {
		return err
	}
	if n.AutoContinue {
		t, ok := n.Handlers[AnswerKey]
		if !ok || t.kind != targetCall || t.fn == nil {
			return newError(ErrorStructural, n, "auto_continue_without_call", nil)
		}
	}
	return nil
}

// ValidateGraph validates every node reachable from root through Goto
// targets. Nodes reached only through Call results are not visible here.
func ValidateGraph(root *Node) error {
	if root == nil {
		return &Error{Code: ErrorStructural, Node: "<nil>", Reason: "nil_root"}
	}
	seen := map[*Node]bool{}
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if err := n.Validate(); err != nil {
			return err
		}
		for _, t := range n.Handlers {
			if t.kind == targetGoto && t.node != nil && !seen[t.node] {
				stack = append(stack, t.node)
			}
		}
	}
	return nil
}

// accepts reports whether ev has the right shape to answer the node.
func (n *Node) accepts(ev channel.Event) bool {
	return ev.Answers(n.Kind.shape())
}

// resolve picks the handler target for an accepted event.
func (n *Node) resolve(ev channel.Event) (Target, error) {
	if t, ok := n.Handlers[AnswerKey]; ok && t.valid() {
		return t, nil
	}
	if ev.Kind == channel.KindInteractive && ev.Choice != nil {
		if t, ok := n.Handlers[ev.Choice.ID]; ok && t.valid() {
			return t, nil
		}
		return Target{}, newError(ErrorUnroutable, n, "unknown_choice:"+ev.Choice.ID, nil)
	}
	return Target{}, newError(ErrorUnroutable, n, "no_answer_handler", nil)
}

func eval(t Text, v *Vars) string {
	if t == nil {
		return ""
	}
	return t(v)
}
