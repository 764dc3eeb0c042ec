package plugin

// Form is a declarative configuration form. The host serves it as JSON and
// never interprets it.
type Form []FormNode

// FormNode is one component in the tree. Props carry component-specific
// attributes such as model, label or cols.
type FormNode struct {
	Component string         `json:"component"`
	Props     map[string]any `json:"props,omitempty"`
	Content   []FormNode     `json:"content,omitempty"`
}

func VForm(content ...FormNode) FormNode {
	return FormNode{Component: "VForm", Content: content}
}

func VRow(content ...FormNode) FormNode {
	return FormNode{Component: "VRow", Content: content}
}

// VCol is a grid column; md is the width on medium screens (0 omits it).
func VCol(md int, content ...FormNode) FormNode {
	props := map[string]any{"cols": 12}
	if md > 0 {
		props["md"] = md
	}
	return FormNode{Component: "VCol", Props: props, Content: content}
}

func VSwitch(model, label string) FormNode {
	return FormNode{Component: "VSwitch", Props: map[string]any{"model": model, "label": label}}
}

func VTextField(model, label, placeholder string) FormNode {
	props := map[string]any{"model": model, "label": label}
	if placeholder != "" {
		props["placeholder"] = placeholder
	}
	return FormNode{Component: "VTextField", Props: props}
}
