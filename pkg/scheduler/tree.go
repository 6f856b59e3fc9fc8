package scheduler

import (
	"path"
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
)

// Task is one node of the dependency forest. Leaves carry a file path;
// inner nodes carry a directory name and run only after every child
// finished.
type Task struct {
	ID   int
	Kind summary.NodeKind

	// Name is the file path for leaves, the directory path for inner
	// nodes, and empty for the top task.
	Name string

	Children []*Task
	parent   *Task

	// pending counts unfinished children; a task is ready at zero.
	pending int
}

// BuildForest arranges file paths into the task tree. In two-level mode
// every file hangs off its immediate directory and all directories hang off
// the top; in hierarchical mode directories nest, so a parent directory's
// totals include its subdirectories.
//
// The tree shape is fixed here, before anything is enqueued; execution
// never mutates it.
func BuildForest(paths []string, hierarchical bool) *Task {
	top := &Task{Kind: summary.KindTop}
	dirs := make(map[string]*Task)

	var ensureDir func(name string) *Task

	ensureDir = func(name string) *Task {
		if t, ok := dirs[name]; ok {
			return t
		}

		t := &Task{Kind: summary.KindDirectory, Name: name}
		dirs[name] = t

		parentName := path.Dir(name)
		if !hierarchical || name == "." || name == "/" || parentName == name || parentName == "." || parentName == "/" {
			t.parent = top
			top.Children = append(top.Children, t)

			return t
		}

		parent := ensureDir(parentName)
		t.parent = parent
		parent.Children = append(parent.Children, t)

		return t
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for _, p := range sorted {
		dir := ensureDir(path.Dir(p))
		leaf := &Task{Kind: summary.KindFile, Name: p, parent: dir}
		dir.Children = append(dir.Children, leaf)
	}

	assignIDs(top, new(int))
	countPending(top)

	return top
}

func assignIDs(t *Task, next *int) {
	t.ID = *next
	*next++

	for _, c := range t.Children {
		assignIDs(c, next)
	}
}

func countPending(t *Task) {
	t.pending = len(t.Children)

	for _, c := range t.Children {
		countPending(c)
	}
}

// Leaves returns every file task in tree order.
func (t *Task) Leaves() []*Task {
	var out []*Task

	var walk func(*Task)

	walk = func(n *Task) {
		if n.Kind == summary.KindFile {
			out = append(out, n)

			return
		}

		for _, c := range n.Children {
			walk(c)
		}
	}

	walk(t)

	return out
}

// Walk visits every task depth-first, children before parents.
func (t *Task) Walk(visit func(*Task)) {
	for _, c := range t.Children {
		c.Walk(visit)
	}

	visit(t)
}
