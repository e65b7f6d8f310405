// Package channel defines the messaging primitives shared by the dialog
// and dispatch engines: outbound content shapes, inbound events, the
// Sender contract, and the in-process event Bus.
package channel

// Shape identifies the kind of outbound content.
type Shape int

const (
	ShapeText Shape = iota
	ShapeButtons
	ShapeList
	ShapeLocation
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeButtons:
		return "buttons"
	case ShapeList:
		return "list"
	case ShapeLocation:
		return "location_request"
	default:
		return "unknown"
	}
}

// Content is one outbound message. The set of implementations is closed.
type Content interface {
	Shape() Shape
}

type Button struct {
	ID    string
	Label string
}

type Row struct {
	ID          string
	Label       string
	Description string
}

type Section struct {
	Title string
	Rows  []Row
}

type PlainText struct {
	Body string
}

type ButtonChoice struct {
	Body    string
	Buttons []Button
}

type ListChoice struct {
	Body        string
	ButtonLabel string
	Sections    []Section
}

type LocationRequest struct {
	Body string
}

func (PlainText) Shape() Shape       { return ShapeText }
func (ButtonChoice) Shape() Shape    { return ShapeButtons }
func (ListChoice) Shape() Shape      { return ShapeList }
func (LocationRequest) Shape() Shape { return ShapeLocation }

// Text is shorthand for a PlainText message.
func Text(body string) PlainText { return PlainText{Body: body} }

// ChoiceIDs returns every selectable id advertised by c, in display order.
func ChoiceIDs(c Content) []string {
	switch v := c.(type) {
	case ButtonChoice:
		ids := make([]string, 0, len(v.Buttons))
		for _, b := range v.Buttons {
			ids = append(ids, b.ID)
		}
		return ids
	case ListChoice:
		var ids []string
		for _, s := range v.Sections {
			for _, r := range s.Rows {
				ids = append(ids, r.ID)
			}
		}
		return ids
	default:
		return nil
	}
}
