package session

import (
	"fmt"

	"go.uber.org/atomic"
)

// firstConsoleID is the first console id handed out in a session.
const firstConsoleID = 2

// WatchKind 断点类型
type WatchKind int

const (
	KindBreakpoint WatchKind = iota
	KindWatchpoint
)

func (k WatchKind) String() string {
	if k == KindWatchpoint {
		return "watchpoint"
	}
	return "breakpoint"
}

// Watch is an active breakpoint or watchpoint. Both kinds share one console
// id space.
type Watch struct {
	Kind     WatchKind
	ID       uint32   // 控制台编号
	Filename string   // 目标端路径
	Display  string   // 展示路径
	LineNum  uint32   // 行号
	Cond     string   // 断点条件表达式
	Expr     string   // 观察点表达式
	Defs     []uint64 // 符号表中的断点定义
}

// Location 源码位置
func (w *Watch) Location() string {
	return fmt.Sprintf("%s:%d", w.Display, w.LineNum)
}

// Watches 所有的断点、观察点，按照编号排序
type Watches []*Watch

// Len 返回长度
func (b Watches) Len() int {
	return len(b)
}

// Less 检查b[i]是否小于b[j]
func (b Watches) Less(i, j int) bool {
	return b[i].ID < b[j].ID
}

// Swap 交换b[i]和b[j]
func (b Watches) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

func (b Watches) find(id uint32) (int, *Watch) {
	for i, w := range b {
		if w.ID == id {
			return i, w
		}
	}
	return -1, nil
}

// idSequence hands out console ids, never twice.
type idSequence struct {
	n *atomic.Uint32
}

func newIDSequence() idSequence {
	return idSequence{n: atomic.NewUint32(firstConsoleID - 1)}
}

func (s idSequence) next() uint32 {
	return s.n.Add(1)
}

// WatchHit 观察点触发记录
type WatchHit struct {
	ID    uint32
	Loc   Location
	Expr  string
	Value int64
	Time  uint64
}
