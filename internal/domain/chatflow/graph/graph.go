package graph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/platform/errs"
)

// stickyNote 仅用于画布注释，不参与执行
const stickyNoteType = "stickyNote"

// Node 图中的节点
type Node struct {
	ID   string         `json:"id"`
	Type string         `json:"type,omitempty"`
	Data *node.NodeData `json:"data"`
}

// Category 节点分类
func (n *Node) Category() types.NodeCategory {
	return types.NodeCategory(n.Data.Category)
}

// Edge 两个节点之间的连接：source 的输出作为 target 的输入
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

type flowData struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Graph chatflow 的有向无环图
type Graph struct {
	Nodes    map[string]*Node
	Edges    []*Edge
	InEdges  map[string][]*Edge // node_id -> 入边
	OutEdges map[string][]*Edge // node_id -> 出边
	order    []string           // 节点在 flowData 中的顺序
}

// Parse 解析 flowData JSON 并校验结构
func Parse(raw string) (*Graph, error) {
	var fd flowData
	if err := json.Unmarshal([]byte(raw), &fd); err != nil {
		return nil, errs.BadRequest("invalid flowData: %v", err)
	}

	g := &Graph{
		Nodes:    make(map[string]*Node, len(fd.Nodes)),
		InEdges:  make(map[string][]*Edge),
		OutEdges: make(map[string][]*Edge),
	}

	for _, n := range fd.Nodes {
		if n == nil || n.Type == stickyNoteType {
			continue
		}
		if n.ID == "" {
			return nil, errs.BadRequest("invalid flowData: node without id")
		}
		if n.Data == nil {
			return nil, errs.BadRequest("invalid flowData: node %s has no data", n.ID)
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, errs.BadRequest("invalid flowData: duplicate node id %s", n.ID)
		}
		n.Data.ID = n.ID
		if n.Data.Inputs == nil {
			n.Data.Inputs = make(map[string]any)
		}
		g.Nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	if len(g.Nodes) == 0 {
		return nil, errs.BadRequest("invalid flowData: graph has no nodes")
	}

	for i, e := range fd.Edges {
		if e == nil {
			continue
		}
		if _, ok := g.Nodes[e.Source]; !ok {
			return nil, errs.BadRequest("invalid flowData: edge %d references unknown source %q", i, e.Source)
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			return nil, errs.BadRequest("invalid flowData: edge %d references unknown target %q", i, e.Target)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("edge_%d", i)
		}
		g.Edges = append(g.Edges, e)
		g.OutEdges[e.Source] = append(g.OutEdges[e.Source], e)
		g.InEdges[e.Target] = append(g.InEdges[e.Target], e)
	}

	if _, err := g.TopoLevels(g.order); err != nil {
		return nil, err
	}
	return g, nil
}

// NodeIDs 按 flowData 中的顺序返回节点 ID
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Node 按 ID 取节点
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Dependencies 直接上游节点 ID（去重，保持边的顺序）
func (g *Graph) Dependencies(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.InEdges[id] {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	return out
}

// EndingNodes 没有出边的节点
func (g *Graph) EndingNodes() []*Node {
	var out []*Node
	for _, id := range g.order {
		if len(g.OutEdges[id]) == 0 {
			out = append(out, g.Nodes[id])
		}
	}
	return out
}

// StartingNodes 没有入边的节点
func (g *Graph) StartingNodes() []*Node {
	var out []*Node
	for _, id := range g.order {
		if len(g.InEdges[id]) == 0 {
			out = append(out, g.Nodes[id])
		}
	}
	return out
}

// EndingNode 返回唯一的结束节点，且其分类必须是 Chains 或 Agents
func (g *Graph) EndingNode() (*Node, error) {
	ending := g.EndingNodes()
	switch {
	case len(ending) == 0:
		return nil, errs.New(http.StatusInternalServerError, "Ending node not found")
	case len(ending) > 1:
		return nil, errs.New(http.StatusInternalServerError, "Multiple ending nodes")
	}
	n := ending[0]
	if !n.Category().IsEnding() {
		return nil, errs.New(http.StatusInternalServerError, "Ending node must be either a Chain or Agent")
	}
	return n, nil
}

// NodesByCategory 按分类筛选节点
func (g *Graph) NodesByCategory(cat types.NodeCategory) []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.Nodes[id]; n.Category() == cat {
			out = append(out, n)
		}
	}
	return out
}

// Ancestors 节点的全部上游节点（不含自身），按 flowData 顺序
func (g *Graph) Ancestors(id string) []string {
	seen := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.InEdges[cur] {
			if !seen[e.Source] {
				seen[e.Source] = true
				stack = append(stack, e.Source)
			}
		}
	}
	delete(seen, id)
	out := make([]string, 0, len(seen))
	for _, nid := range g.order {
		if seen[nid] {
			out = append(out, nid)
		}
	}
	return out
}

// Subgraph 目标节点及其全部上游
func (g *Graph) Subgraph(targetID string) []string {
	return append(g.Ancestors(targetID), targetID)
}

// TopoLevels 将给定节点按依赖分层：同层节点之间没有边，且只依赖更早的层。
// 只考虑 ids 内部的边；存在环时返回错误。
func (g *Graph) TopoLevels(ids []string) ([][]string, error) {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := g.Nodes[id]; !ok {
			return nil, errs.BadRequest("node %s not found in graph", id)
		}
		in[id] = true
	}

	indeg := make(map[string]int, len(ids))
	for _, id := range ids {
		for _, dep := range g.Dependencies(id) {
			if in[dep] {
				indeg[id]++
			}
		}
	}

	rank := make(map[string]int, len(g.order))
	for i, id := range g.order {
		rank[id] = i
	}

	var levels [][]string
	var current []string
	for _, id := range ids {
		if indeg[id] == 0 {
			current = append(current, id)
		}
	}
	visited := 0
	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return rank[current[i]] < rank[current[j]] })
		levels = append(levels, current)
		visited += len(current)

		var next []string
		for _, id := range current {
			targets := map[string]bool{}
			for _, e := range g.OutEdges[id] {
				if !in[e.Target] || targets[e.Target] {
					continue
				}
				targets[e.Target] = true
				indeg[e.Target]--
				if indeg[e.Target] == 0 {
					next = append(next, e.Target)
				}
			}
		}
		current = next
	}
	if visited != len(ids) {
		return nil, errs.BadRequest("invalid flowData: graph contains a cycle")
	}
	return levels, nil
}
