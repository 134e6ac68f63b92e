package ast

// Walk visits n and its descendants depth-first. Returning false from fn skips
// the children of the node just visited.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *Mapping:
		for _, e := range v.Entries {
			Walk(e.Value, fn)
		}
	case *Sequence:
		for _, item := range v.Items {
			Walk(item, fn)
		}
	}
}

// Templates returns every template below n in visiting order.
func Templates(n Node) []*Template {
	var out []*Template
	Walk(n, func(node Node) bool {
		if t, ok := node.(*Template); ok {
			out = append(out, t)
		}
		return true
	})
	return out
}
