package types

// NodeKind discriminates UINode variants
type NodeKind string

const (
	KindPanel   NodeKind = "panel"
	KindRow     NodeKind = "row"
	KindColumn  NodeKind = "column"
	KindText    NodeKind = "text"
	KindBadge   NodeKind = "badge"
	KindButton  NodeKind = "button"
	KindInput   NodeKind = "input"
	KindCounter NodeKind = "counter"
	KindTable   NodeKind = "table"
)

// IsContainer reports whether nodes of this kind hold children
func (k NodeKind) IsContainer() bool {
	return k == KindPanel || k == KindRow || k == KindColumn
}

// UINode is one node of a rendered card tree.
// The set of implementations is closed; see the Kind constants.
type UINode interface {
	Kind() NodeKind
	uiNode()
}

// EventRef names a card handler to invoke when the user interacts with a node
type EventRef struct {
	Handler string      `json:"handler"`
	Args    interface{} `json:"args,omitempty"`
}

// ContainerNode is a panel, row, or column
type ContainerNode struct {
	Type     NodeKind `json:"kind"`
	Children []UINode `json:"children"`
}

// TextNode is a text or badge literal
type TextNode struct {
	Type NodeKind `json:"kind"`
	Text string   `json:"text"`
}

// ButtonProps holds button properties
type ButtonProps struct {
	Label   string    `json:"label"`
	Variant string    `json:"variant,omitempty"`
	OnClick *EventRef `json:"onClick,omitempty"`
}

// ButtonNode is a clickable button
type ButtonNode struct {
	Type  NodeKind    `json:"kind"`
	Props ButtonProps `json:"props"`
}

// InputProps holds input properties
type InputProps struct {
	Value       string    `json:"value"`
	Placeholder string    `json:"placeholder,omitempty"`
	OnChange    *EventRef `json:"onChange,omitempty"`
}

// InputNode is a single-line text input
type InputNode struct {
	Type  NodeKind   `json:"kind"`
	Props InputProps `json:"props"`
}

// CounterProps holds counter properties
type CounterProps struct {
	Value       float64   `json:"value"`
	OnIncrement *EventRef `json:"onIncrement,omitempty"`
	OnDecrement *EventRef `json:"onDecrement,omitempty"`
}

// CounterNode is a numeric stepper
type CounterNode struct {
	Type  NodeKind     `json:"kind"`
	Props CounterProps `json:"props"`
}

// TableProps holds table properties
type TableProps struct {
	Headers []string        `json:"headers"`
	Rows    [][]interface{} `json:"rows"`
}

// TableNode is a read-only grid
type TableNode struct {
	Type  NodeKind   `json:"kind"`
	Props TableProps `json:"props"`
}

func (n *ContainerNode) Kind() NodeKind { return n.Type }
func (n *TextNode) Kind() NodeKind      { return n.Type }
func (n *ButtonNode) Kind() NodeKind    { return KindButton }
func (n *InputNode) Kind() NodeKind     { return KindInput }
func (n *CounterNode) Kind() NodeKind   { return KindCounter }
func (n *TableNode) Kind() NodeKind     { return KindTable }

func (*ContainerNode) uiNode() {}
func (*TextNode) uiNode()      {}
func (*ButtonNode) uiNode()    {}
func (*InputNode) uiNode()     {}
func (*CounterNode) uiNode()   {}
func (*TableNode) uiNode()     {}

// Panel builds a panel container
func Panel(children ...UINode) *ContainerNode {
	return &ContainerNode{Type: KindPanel, Children: nonNil(children)}
}

// Row builds a row container
func Row(children ...UINode) *ContainerNode {
	return &ContainerNode{Type: KindRow, Children: nonNil(children)}
}

// Column builds a column container
func Column(children ...UINode) *ContainerNode {
	return &ContainerNode{Type: KindColumn, Children: nonNil(children)}
}

// Text builds a text literal
func Text(text string) *TextNode {
	return &TextNode{Type: KindText, Text: text}
}

// Badge builds a badge literal
func Badge(text string) *TextNode {
	return &TextNode{Type: KindBadge, Text: text}
}

// Button builds a button
func Button(label string, onClick *EventRef) *ButtonNode {
	return &ButtonNode{Type: KindButton, Props: ButtonProps{Label: label, OnClick: onClick}}
}

func nonNil(children []UINode) []UINode {
	if children == nil {
		return []UINode{}
	}
	return children
}
