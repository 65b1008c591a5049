package syntax

// ScopeTree is an in-memory Tree for callers that already hold the scope
// structure, such as tests or analysers with their own parser.
type ScopeTree []ScopeNode

// ScopeNode is one named scope and the scopes nested directly inside it.
type ScopeNode struct {
	Scope
	Children []ScopeNode
}

// Walk replays the nodes depth-first.
func (t ScopeTree) Walk(v Visitor) {
	for i := range t {
		t[i].walk(v)
	}
}

func (n *ScopeNode) walk(v Visitor) {
	v.Enter(n.Scope)
	for i := range n.Children {
		n.Children[i].walk(v)
	}
	v.Exit()
}
