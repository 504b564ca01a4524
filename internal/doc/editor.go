package doc

import (
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

// Update tags understood by the editor.
const (
	// TagHistoric marks commits produced by Undo and Redo.
	TagHistoric = "historic"
	// TagCollaboration marks commits that replay remote changes.
	TagCollaboration = "collaboration"
	// TagHistoryMerge marks commits that must not create an undo entry.
	TagHistoryMerge = "history-merge"
)

const defaultHistoryLimit = 100

// MutationListener receives, after each commit, the committed state and the
// keys of one node kind that the commit created, updated or destroyed.
type MutationListener func(st *State, mutations map[NodeKey]Mutation)

// UpdateInfo describes one committed update.
type UpdateInfo struct {
	State *State
	Prev  *State
	Tags  map[string]struct{}
	Dirty []NodeKey
}

func (u UpdateInfo) HasTag(tag string) bool {
	_, ok := u.Tags[tag]
	return ok
}

// UpdateListener runs after every commit, once the mutation listeners are done.
type UpdateListener func(UpdateInfo)

// Resolver lets an element kind take part in structural edits. Factory
// creates the sibling that receives the tail of a split element; Merge returns
// the label set of an element that absorbs an adjacent or nested one.
type Resolver struct {
	Factory func(tx *Txn, original *Node) NodeKey
	Merge   func(tx *Txn, survivor, absorbed *Node) []string
}

// Command names an editor command.
type Command string

// CommandHandler handles a dispatched command. Returning true stops propagation.
type CommandHandler func(payload any) bool

type Priority int

const (
	PriorityEditor Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

type commandEntry struct {
	id       int
	priority Priority
	handler  CommandHandler
}

type mutationEntry struct {
	id int
	fn MutationListener
}

type updateEntry struct {
	id int
	fn UpdateListener
}

type deferred struct {
	fn   func(*Txn) error
	tags []string
}

// Editor owns one document. Transactions are serialized; listeners run
// synchronously inside the committing update and must use Defer for any
// follow-up edit.
type Editor struct {
	mu      sync.Mutex
	stateMu sync.RWMutex
	state   *State
	keys    atomic.Uint64

	regMu     sync.RWMutex
	seq       int
	mutations map[Kind][]mutationEntry
	updates   []updateEntry
	resolvers map[Kind]Resolver
	commands  map[Command][]commandEntry

	queueMu sync.Mutex
	queue   []deferred

	undo         []*State
	redo         []*State
	historyLimit int

	log *slog.Logger
}

type Option func(*Editor)

func WithLogger(log *slog.Logger) Option {
	return func(e *Editor) {
		if log != nil {
			e.log = log
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(e *Editor) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// New returns an editor holding an empty document.
func New(opts ...Option) *Editor {
	e := &Editor{
		state:        newState(),
		mutations:    map[Kind][]mutationEntry{},
		resolvers:    map[Kind]Resolver{},
		commands:     map[Command][]commandEntry{},
		historyLimit: defaultHistoryLimit,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e.keys.Store(uint64(RootKey))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) allocKey() NodeKey {
	return NodeKey(e.keys.Add(1))
}

// State returns the latest committed state.
func (e *Editor) State() *State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Node looks a key up in the latest committed state.
func (e *Editor) Node(key NodeKey) (*Node, bool) {
	return e.State().Node(key)
}

// Update runs fn as one transaction and commits it unless fn fails.
// Update must not be called from a listener; use Defer there.
func (e *Editor) Update(fn func(*Txn) error, tags ...string) error {
	e.mu.Lock()
	err := e.run(fn, tags)
	e.mu.Unlock()
	e.drain()
	return err
}

// Defer schedules fn as a separate transaction. It runs right away when no
// update is in progress, otherwise after the running update and its
// listeners have finished. Errors are logged.
func (e *Editor) Defer(fn func(*Txn) error, tags ...string) {
	e.queueMu.Lock()
	e.queue = append(e.queue, deferred{fn: fn, tags: tags})
	e.queueMu.Unlock()
	e.drain()
}

func (e *Editor) drain() {
	for {
		e.queueMu.Lock()
		pending := len(e.queue) > 0
		e.queueMu.Unlock()
		if !pending || !e.mu.TryLock() {
			return
		}
		e.queueMu.Lock()
		var d deferred
		ok := len(e.queue) > 0
		if ok {
			d = e.queue[0]
			e.queue = e.queue[1:]
		}
		e.queueMu.Unlock()
		if ok {
			if err := e.run(d.fn, d.tags); err != nil {
				e.log.Warn("deferred update failed", "error", err)
			}
		}
		e.mu.Unlock()
	}
}

func (e *Editor) run(fn func(*Txn) error, tags []string) error {
	base := e.State()
	tx := newTxn(e, base, tags)
	if err := fn(tx); err != nil {
		tx.closed = true
		return err
	}
	if err := tx.finish(); err != nil {
		return err
	}
	if len(tx.dirty) == 0 && sameSelection(base.selection, tx.st.selection) {
		return nil
	}
	if len(tx.dirty) > 0 && !tx.HasTag(TagHistoric) {
		if !tx.HasTag(TagCollaboration) && !tx.HasTag(TagHistoryMerge) {
			e.undo = append(e.undo, base)
			if len(e.undo) > e.historyLimit {
				e.undo = e.undo[len(e.undo)-e.historyLimit:]
			}
		}
		// Redo states predate this content and would discard it.
		e.redo = nil
	}
	e.commit(base, tx.st, tx.dirty, tx.tags)
	return nil
}

func (e *Editor) commit(base, next *State, dirty map[NodeKey]struct{}, tags map[string]struct{}) {
	e.stateMu.Lock()
	e.state = next
	e.stateMu.Unlock()

	batches := classify(base, next, dirty)
	e.regMu.RLock()
	var calls []func()
	for kind, batch := range batches {
		for _, entry := range e.mutations[kind] {
			fn, batch := entry.fn, batch
			calls = append(calls, func() { fn(next, batch) })
		}
	}
	updates := slices.Clone(e.updates)
	e.regMu.RUnlock()

	for _, call := range calls {
		call()
	}
	keys := make([]NodeKey, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	info := UpdateInfo{State: next, Prev: base, Tags: tags, Dirty: keys}
	for _, u := range updates {
		u.fn(info)
	}
}

// Undo restores the state before the latest recorded update.
func (e *Editor) Undo() bool {
	return e.travel(&e.undo, &e.redo)
}

// Redo reapplies the latest undone update.
func (e *Editor) Redo() bool {
	return e.travel(&e.redo, &e.undo)
}

func (e *Editor) travel(from, to *[]*State) bool {
	e.mu.Lock()
	if len(*from) == 0 {
		e.mu.Unlock()
		return false
	}
	target := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	current := e.State()
	*to = append(*to, current)
	e.commit(current, target, diff(current, target), map[string]struct{}{TagHistoric: {}})
	e.mu.Unlock()
	e.drain()
	return true
}

// diff lists the keys whose snapshot differs between two states.
func diff(a, b *State) map[NodeKey]struct{} {
	out := map[NodeKey]struct{}{}
	for k, n := range a.nodes {
		if b.nodes[k] != n {
			out[k] = struct{}{}
		}
	}
	for k := range b.nodes {
		if _, ok := a.nodes[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo) > 0
}

func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo) > 0
}

// SetSelection commits a selection-only update.
func (e *Editor) SetSelection(sel Selection, tags ...string) error {
	return e.Update(func(tx *Txn) error { return tx.SetSelection(sel) }, tags...)
}

func (e *Editor) resolver(kind Kind) (Resolver, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	r, ok := e.resolvers[kind]
	return r, ok
}

// RegisterMutationListener subscribes fn to commits touching nodes of kind.
func (e *Editor) RegisterMutationListener(kind Kind, fn MutationListener) func() {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.seq++
	id := e.seq
	e.mutations[kind] = append(e.mutations[kind], mutationEntry{id: id, fn: fn})
	return func() {
		e.regMu.Lock()
		defer e.regMu.Unlock()
		e.mutations[kind] = slices.DeleteFunc(e.mutations[kind], func(m mutationEntry) bool { return m.id == id })
	}
}

func (e *Editor) RegisterUpdateListener(fn UpdateListener) func() {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.seq++
	id := e.seq
	e.updates = append(e.updates, updateEntry{id: id, fn: fn})
	return func() {
		e.regMu.Lock()
		defer e.regMu.Unlock()
		e.updates = slices.DeleteFunc(e.updates, func(u updateEntry) bool { return u.id == id })
	}
}

// RegisterDuplicationResolver installs r for kind, replacing any previous one.
func (e *Editor) RegisterDuplicationResolver(kind Kind, r Resolver) func() {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.resolvers[kind] = r
	return func() {
		e.regMu.Lock()
		defer e.regMu.Unlock()
		delete(e.resolvers, kind)
	}
}

func (e *Editor) RegisterCommand(cmd Command, handler CommandHandler, priority Priority) func() {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.seq++
	id := e.seq
	entries := append(e.commands[cmd], commandEntry{id: id, priority: priority, handler: handler})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
	e.commands[cmd] = entries
	return func() {
		e.regMu.Lock()
		defer e.regMu.Unlock()
		e.commands[cmd] = slices.DeleteFunc(e.commands[cmd], func(c commandEntry) bool { return c.id == id })
	}
}

// Dispatch runs the handlers of cmd from the highest priority down and
// reports whether one of them handled it.
func (e *Editor) Dispatch(cmd Command, payload any) bool {
	e.regMu.RLock()
	entries := slices.Clone(e.commands[cmd])
	e.regMu.RUnlock()
	for _, c := range entries {
		if c.handler(payload) {
			return true
		}
	}
	return false
}

func sameSelection(a, b *Selection) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
