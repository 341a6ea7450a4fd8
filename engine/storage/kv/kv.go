// Package kv implements a lifecycle engine storage backend using a key-value interface.
package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/storage/kv"
	"github.com/micromdm/nanolib/storage/kv/kvtxn"
)

// bucket is a key-value bucket that can list its keys by prefix, in order.
type bucket interface {
	kv.CRUDBucket
	keysPrefix(ctx context.Context, prefix string) []string
}

// direct adapts a traversing bucket to bucket.
type direct struct {
	kv.KeysPrefixTraversingBucket
}

// keysPrefix drains the bucket's prefix traversal and sorts the keys.
// Draining matters: some buckets hold a lock until the channel is closed.
func (d direct) keysPrefix(ctx context.Context, prefix string) []string {
	keys := kv.AllKeysPrefix(ctx, d, prefix)
	sort.Strings(keys)
	return keys
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// reader implements the read side of storage over a bucket.
type reader struct {
	b bucket
	l sync.Locker
}

// RetrieveTemplate implements the storage interface method.
func (r *reader) RetrieveTemplate(ctx context.Context, id string) (*storage.Template, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetTemplate(ctx, r.b, id)
}

// RetrieveTemplateByName implements the storage interface method.
func (r *reader) RetrieveTemplateByName(ctx context.Context, name string) (*storage.Template, error) {
	r.l.Lock()
	defer r.l.Unlock()
	templates, err := kvGetTemplates(ctx, r.b)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, workflow.NewNotFoundError("template", name)
}

// RetrieveTemplates implements the storage interface method.
func (r *reader) RetrieveTemplates(ctx context.Context) ([]*storage.Template, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetTemplates(ctx, r.b)
}

// RetrieveWorkflow implements the storage interface method.
func (r *reader) RetrieveWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetWorkflow(ctx, r.b, id)
}

// RetrieveWorkflows implements the storage interface method.
func (r *reader) RetrieveWorkflows(ctx context.Context, filter storage.WorkflowFilter) ([]*storage.Workflow, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetWorkflows(ctx, r.b, filter)
}

// RetrieveTask implements the storage interface method.
func (r *reader) RetrieveTask(ctx context.Context, id string) (*storage.Task, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetTask(ctx, r.b, id)
}

// RetrieveTasks implements the storage interface method.
func (r *reader) RetrieveTasks(ctx context.Context, workflowID string) ([]*storage.Task, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetTasks(ctx, r.b, workflowID)
}

// RetrieveHistory implements the storage interface method.
func (r *reader) RetrieveHistory(ctx context.Context, workflowID string) ([]*storage.HistoryEntry, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetHistory(ctx, r.b, workflowID)
}

// CountOpenTasks implements the storage interface method.
func (r *reader) CountOpenTasks(ctx context.Context, userID string) (int, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvCountOpenTasks(ctx, r.b, userID)
}

// CountWorkflowsByTemplate implements the storage interface method.
func (r *reader) CountWorkflowsByTemplate(ctx context.Context, templateID string, activeOnly bool) (int, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvCountWorkflowsByTemplate(ctx, r.b, templateID, activeOnly)
}

// RetrieveUser implements the storage interface method.
func (r *reader) RetrieveUser(ctx context.Context, id string) (*storage.User, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetUser(ctx, r.b, id)
}

// RetrieveUsers implements the storage interface method.
func (r *reader) RetrieveUsers(ctx context.Context) ([]*storage.User, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetUsers(ctx, r.b)
}

// RetrieveActiveUsersByRole implements the storage interface method.
func (r *reader) RetrieveActiveUsersByRole(ctx context.Context, role workflow.Role) ([]*storage.User, error) {
	r.l.Lock()
	defer r.l.Unlock()
	return kvGetActiveUsersByRole(ctx, r.b, role)
}

// KV is a lifecycle engine storage backend using a key-value interface.
// Transactions are serialized store-wide. Reads outside of a transaction
// never observe a partially committed one.
type KV struct {
	reader
	mu  sync.RWMutex
	txn *kvtxn.KVTxn
}

// New creates a new key-value lifecycle engine storage backend.
func New(b kv.KeysPrefixTraversingBucket) *KV {
	s := &KV{txn: kvtxn.New(b)}
	s.reader = reader{b: direct{s.txn}, l: s.mu.RLocker()}
	return s
}

// Tx runs fn in a key-value transaction.
// Writes are staged and committed to the underlying bucket only if fn
// succeeds. An error from fn is returned as is after rollback.
// Commits are not atomic with respect to process crashes.
func (s *KV) Tx(ctx context.Context, fn storage.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.txn.BeginKeysPrefixTraversingBucketTxn(ctx)
	if err != nil {
		return fmt.Errorf("txn begin: %w", err)
	}
	if err = fn(ctx, &kvTx{reader: reader{b: direct{b}, l: nopLocker{}}}); err != nil {
		if rbErr := b.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("txn rollback: %w; while trying to handle error: %v", rbErr, err)
		}
		return err
	}
	if err = b.Commit(ctx); err != nil {
		return fmt.Errorf("txn commit: %w", err)
	}
	return nil
}

// kvTx is a storage transaction over a transacting bucket.
type kvTx struct {
	reader
}

// LockWorkflow retrieves a workflow.
// The store-wide transaction lock is already held.
func (tx *kvTx) LockWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	return kvGetWorkflow(ctx, tx.b, id)
}

// StoreTemplate implements the storage interface method.
func (tx *kvTx) StoreTemplate(ctx context.Context, t *storage.Template) error {
	return kvSetTemplate(ctx, tx.b, t)
}

// DeleteTemplate implements the storage interface method.
func (tx *kvTx) DeleteTemplate(ctx context.Context, id string) error {
	return kvDeleteTemplate(ctx, tx.b, id)
}

// StoreWorkflow implements the storage interface method.
func (tx *kvTx) StoreWorkflow(ctx context.Context, w *storage.Workflow) error {
	return kvSetWorkflow(ctx, tx.b, w)
}

// StoreTasks implements the storage interface method.
func (tx *kvTx) StoreTasks(ctx context.Context, tasks []*storage.Task) error {
	return kvSetTasks(ctx, tx.b, tasks)
}

// AppendHistory implements the storage interface method.
func (tx *kvTx) AppendHistory(ctx context.Context, h *storage.HistoryEntry) error {
	return kvAppendHistory(ctx, tx.b, h)
}

// StoreUser implements the storage interface method.
func (tx *kvTx) StoreUser(ctx context.Context, u *storage.User) error {
	return kvSetUser(ctx, tx.b, u)
}
