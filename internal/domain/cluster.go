package domain

// ============================================================================
// 職責說明：
// 1. 描述叢集拓撲：哪些節點可以看到哪些檔案系統
// 2. AddNode 是唯一的修改入口，同步增量更新 檔案系統 → 節點 對照表
// 3. 以 parset 格式持久化（ClusterName / NNodes / NodeI.Name / NodeI.FileSys）
// ============================================================================

import (
	"fmt"

	"github.com/ChuLiYu/mwcontrol/internal/parset"
)

// NodeDesc 單一節點的描述
type NodeDesc struct {
	Name    string   // 節點名稱（通常是主機名）
	FileSys []string // 可存取的檔案系統，集合語意，保留加入順序
}

// NewNodeDesc 建立節點描述，重複的檔案系統只保留第一次出現
func NewNodeDesc(name string, fileSys ...string) NodeDesc {
	n := NodeDesc{Name: name}
	for _, fs := range fileSys {
		n.AddFileSys(fs)
	}
	return n
}

// AddFileSys 加入檔案系統，已存在時不做任何事
func (n *NodeDesc) AddFileSys(fs string) {
	if n.HasFileSys(fs) {
		return
	}
	n.FileSys = append(n.FileSys, fs)
}

// HasFileSys 檢查節點是否可存取指定檔案系統
func (n NodeDesc) HasFileSys(fs string) bool {
	for _, f := range n.FileSys {
		if f == fs {
			return true
		}
	}
	return false
}

// ClusterDesc 叢集描述
//
// 節點清單只能透過 AddNode 修改，因此 fsMap 永遠與節點清單一致，
// 不需要額外的重建步驟。
type ClusterDesc struct {
	Name  string
	nodes []NodeDesc
	fsMap map[string][]string // 檔案系統 → 節點名稱（依加入順序）
}

// NewClusterDesc 建立空的叢集描述
func NewClusterDesc(name string) *ClusterDesc {
	return &ClusterDesc{
		Name:  name,
		fsMap: make(map[string][]string),
	}
}

// AddNode 加入節點並增量更新對照表
func (c *ClusterDesc) AddNode(node NodeDesc) {
	n := NewNodeDesc(node.Name, node.FileSys...)
	c.nodes = append(c.nodes, n)
	for _, fs := range n.FileSys {
		if !contains(c.fsMap[fs], n.Name) {
			c.fsMap[fs] = append(c.fsMap[fs], n.Name)
		}
	}
}

// Nodes 回傳節點清單的副本
func (c *ClusterDesc) Nodes() []NodeDesc {
	out := make([]NodeDesc, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// NNodes 回傳節點數量
func (c *ClusterDesc) NNodes() int { return len(c.nodes) }

// Node 依名稱查詢節點
func (c *ClusterDesc) Node(name string) (NodeDesc, bool) {
	for _, n := range c.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeDesc{}, false
}

// NodesFor 回傳可存取 fs 的節點名稱，依節點加入順序
//
// 未知的檔案系統回傳 nil。
func (c *ClusterDesc) NodesFor(fs string) []string {
	names := c.fsMap[fs]
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// FileSystems 回傳所有已知的檔案系統，依第一次出現的順序
func (c *ClusterDesc) FileSystems() []string {
	var out []string
	for _, n := range c.nodes {
		for _, fs := range n.FileSys {
			if !contains(out, fs) {
				out = append(out, fs)
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// 持久化
// ============================================================================

// ToParset 轉換為 parset 格式
func (c *ClusterDesc) ToParset() *parset.Set {
	ps := parset.New()
	ps.Add("ClusterName", c.Name)
	ps.AddInt("NNodes", len(c.nodes))
	for i, n := range c.nodes {
		prefix := fmt.Sprintf("Node%d.", i)
		ps.Add(prefix+"Name", n.Name)
		ps.AddStrings(prefix+"FileSys", n.FileSys)
	}
	return ps
}

// ClusterDescFromParset 從 parset 重建叢集描述
func ClusterDescFromParset(ps *parset.Set) (*ClusterDesc, error) {
	name, err := ps.String("ClusterName")
	if err != nil {
		return nil, err
	}
	nnodes, err := ps.Int("NNodes")
	if err != nil {
		return nil, err
	}
	if nnodes < 0 {
		return nil, fmt.Errorf("invalid NNodes %d", nnodes)
	}

	c := NewClusterDesc(name)
	for i := 0; i < nnodes; i++ {
		prefix := fmt.Sprintf("Node%d.", i)
		nodeName, err := ps.String(prefix + "Name")
		if err != nil {
			return nil, err
		}
		c.AddNode(NewNodeDesc(nodeName, ps.StringsOr(prefix+"FileSys")...))
	}
	return c, nil
}

// WriteFile 寫入叢集描述檔
func (c *ClusterDesc) WriteFile(path string) error {
	return c.ToParset().WriteFile(path)
}

// ReadClusterDescFile 讀取叢集描述檔
func ReadClusterDescFile(path string) (*ClusterDesc, error) {
	ps, err := parset.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ClusterDescFromParset(ps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
