// Package tracer records operations as nodes of a computation graph instead of
// (or in addition to) running them immediately.
//
// It implements the recording side of graph-recording execution: whether
// recording is active, temporary suspension while an operation is re-entered
// for real to obtain concrete results, and insertion of one node per recorded
// operation with stable, human-readable names.
//
// A Tracer records a single trace and is not safe for concurrent use: graph
// recording is a single-threaded activity of the calling engine.
package tracer

import (
	"fmt"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelwrap/kernels"
)

// Tracer accumulates the nodes of one recorded graph.
type Tracer struct {
	id             uuid.UUID
	nodes          []*Node
	suspendedDepth int
	nameCounts     map[string]int
}

// Node is one recorded operation: an operation identity, its captured
// arguments, and a tracked handle per output value.
type Node struct {
	name    string
	op      string
	args    *kernels.Bundle
	outputs []*Value
}

// Value is the tracked handle of one output of a recorded node, tagged with
// its position.
type Value struct {
	node  *Node
	index int
	key   string
	value any
}

// New returns an empty Tracer with recording active.
func New() *Tracer {
	return &Tracer{
		id:         uuid.New(),
		nameCounts: make(map[string]int),
	}
}

// ID identifies this trace.
func (t *Tracer) ID() uuid.UUID { return t.id }

// Recording returns whether operations should currently be recorded.
func (t *Tracer) Recording() bool { return t.suspendedDepth == 0 }

// WithRecordingDisabled runs fn with recording suspended, restoring it after fn
// returns. Calls may nest; recording resumes only when the outermost one
// returns.
func (t *Tracer) WithRecordingDisabled(fn func() error) error {
	t.suspendedDepth++
	defer func() { t.suspendedDepth-- }()
	return fn()
}

// InsertNode appends one node recording the invocation of op with the given
// arguments. The name is uniquified within the trace ("name", "name_1", ...).
// outputs may be nil for operations with no return value; otherwise one
// tracked Value is created per output entry, in key order.
func (t *Tracer) InsertNode(op string, args *kernels.Bundle, name string, outputs *kernels.Bundle) *Node {
	node := &Node{
		name: t.uniqueName(name),
		op:   op,
		args: args,
	}
	if outputs != nil {
		for index, key := range outputs.Keys() {
			value, _ := outputs.Get(key)
			node.outputs = append(node.outputs, &Value{
				node:  node,
				index: index,
				key:   key,
				value: value,
			})
		}
	}
	t.nodes = append(t.nodes, node)
	klog.V(2).Infof("trace %s: recorded node %q (op=%s, %d outputs)",
		t.id, node.name, op, len(node.outputs))
	return node
}

// Nodes returns the recorded nodes in insertion order.
func (t *Tracer) Nodes() []*Node { return t.nodes }

func (t *Tracer) uniqueName(name string) string {
	count := t.nameCounts[name]
	t.nameCounts[name] = count + 1
	if count == 0 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, count)
}

// Name of the node, unique within its trace.
func (n *Node) Name() string { return n.name }

// Op is the operation identity recorded for the node.
func (n *Node) Op() string { return n.op }

// Args returns the captured arguments.
func (n *Node) Args() *kernels.Bundle { return n.args }

// Outputs returns the tracked handles of the node's outputs.
func (n *Node) Outputs() []*Value { return n.outputs }

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s = %s(%s)", n.name, n.op, n.args)
}

// Node that produced this value.
func (v *Value) Node() *Node { return v.node }

// Index is the position of this value among the node's outputs.
func (v *Value) Index() int { return v.index }

// Key is the output name this value was returned under.
func (v *Value) Key() string { return v.key }

// Concrete returns the concrete (or abstract placeholder) value being tracked.
func (v *Value) Concrete() any { return v.value }
