package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TreeNode is one node of a boosted tree in the XGBoost JSON dump layout.
// Leaves carry Leaf; split nodes carry Split, SplitCondition and children.
type TreeNode struct {
	NodeID         int         `json:"nodeid" yaml:"nodeid"`
	Split          string      `json:"split,omitempty" yaml:"split,omitempty"`
	SplitCondition float64     `json:"split_condition,omitempty" yaml:"split_condition,omitempty"`
	Yes            int         `json:"yes,omitempty" yaml:"yes,omitempty"`
	No             int         `json:"no,omitempty" yaml:"no,omitempty"`
	Missing        int         `json:"missing,omitempty" yaml:"missing,omitempty"`
	Leaf           *float64    `json:"leaf,omitempty" yaml:"leaf,omitempty"`
	Children       []*TreeNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// compiled is a flattened tree indexed by node id.
type compiled struct {
	root  *TreeNode
	nodes map[int]*TreeNode
	feat  map[int]int
}

// TreeEnsemble sums tree leaves on top of BaseMargin and applies a sigmoid.
type TreeEnsemble struct {
	BaseMargin float64
	Names      []string
	width      int
	trees      []compiled
}

// NewTreeEnsemble validates and compiles the trees. Splits may reference
// features by name (when names are given) or as "f<index>".
func NewTreeEnsemble(trees []*TreeNode, baseMargin float64, names []string) (*TreeEnsemble, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("tree ensemble has no trees: %w", ErrModelUnavailable)
	}
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	te := &TreeEnsemble{BaseMargin: baseMargin, Names: names, width: len(names)}
	maxIdx := -1
	for t, root := range trees {
		c := compiled{root: root, nodes: map[int]*TreeNode{}, feat: map[int]int{}}
		var walk func(n *TreeNode) error
		walk = func(n *TreeNode) error {
			if n == nil {
				return fmt.Errorf("tree %d: nil node", t)
			}
			if _, dup := c.nodes[n.NodeID]; dup {
				return fmt.Errorf("tree %d: duplicate node id %d", t, n.NodeID)
			}
			c.nodes[n.NodeID] = n
			if n.Leaf != nil {
				return nil
			}
			idx, err := featureIndex(n.Split, pos)
			if err != nil {
				return fmt.Errorf("tree %d node %d: %w", t, n.NodeID, err)
			}
			if idx > maxIdx {
				maxIdx = idx
			}
			c.feat[n.NodeID] = idx
			for _, ch := range n.Children {
				if err := walk(ch); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(root); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrModelUnavailable)
		}
		// branches may only point at direct children, which keeps evaluation acyclic
		for id, n := range c.nodes {
			if n.Leaf != nil {
				continue
			}
			kids := make(map[int]bool, len(n.Children))
			for _, ch := range n.Children {
				kids[ch.NodeID] = true
			}
			for _, ref := range []int{n.Yes, n.No, n.Missing} {
				if !kids[ref] {
					return nil, fmt.Errorf("tree %d node %d: branch %d is not a child: %w", t, id, ref, ErrModelUnavailable)
				}
			}
		}
		te.trees = append(te.trees, c)
	}
	if te.width == 0 {
		te.width = maxIdx + 1
	}
	return te, nil
}

func featureIndex(split string, pos map[string]int) (int, error) {
	if i, ok := pos[split]; ok {
		return i, nil
	}
	if strings.HasPrefix(split, "f") {
		if i, err := strconv.Atoi(split[1:]); err == nil && i >= 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}

func (m *TreeEnsemble) NumFeatures() int  { return m.width }
func (m *TreeEnsemble) Features() []string { return m.Names }

func (m *TreeEnsemble) PredictProba(X [][]float64) ([][2]float64, error) {
	return scoreRows(X, m.width, m.margin)
}

func (m *TreeEnsemble) margin(row []float64) float64 {
	sum := m.BaseMargin
	for _, t := range m.trees {
		n := t.root
		for n.Leaf == nil {
			v := row[t.feat[n.NodeID]]
			next := n.No
			switch {
			case math.IsNaN(v):
				next = n.Missing
			case v < n.SplitCondition:
				next = n.Yes
			}
			n = t.nodes[next]
		}
		sum += *n.Leaf
	}
	return sum
}
