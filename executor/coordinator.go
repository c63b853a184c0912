package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/sirupsen/logrus"

	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/locktable"
	"github.com/veridian-network/go-veridian/objstore"
)

// Config is the coordinator configuration.
type Config struct {
	// OwnedWorkers bounds how many owned-only transactions execute
	// concurrently.
	OwnedWorkers int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		OwnedWorkers: 8,
	}
}

// Coordinator executes certified transactions exactly once. Process must be
// called in consensus order. Input reservations are resolved inline, in that
// order, so which of two conflicting transactions wins is decided by the
// consensus stream and never by goroutine scheduling. Owned-only
// transactions then execute on a worker pool and may finish out of order;
// shared-object transactions run inline end to end.
type Coordinator struct {
	cfg    Config
	store  *objstore.Store
	locks  *locktable.Table
	epochs *epochs.Manager
	vm     VM
	sink   Sink

	wg  sync.WaitGroup
	sem chan struct{}

	// inflight maps reserved object IDs to the completion signal of the
	// owned-lane transaction holding them.
	mu       sync.Mutex
	inflight map[inter.ObjectID]chan struct{}

	log *logrus.Entry
}

// NewCoordinator wires the execution pipeline together.
func NewCoordinator(cfg Config, store *objstore.Store, locks *locktable.Table, em *epochs.Manager, vm VM, sink Sink) *Coordinator {
	if cfg.OwnedWorkers < 1 {
		cfg.OwnedWorkers = 1
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		epochs:   em,
		vm:       vm,
		sink:     sink,
		sem:      make(chan struct{}, cfg.OwnedWorkers),
		inflight: make(map[inter.ObjectID]chan struct{}),
		log:      logrus.WithField("module", "executor"),
	}
}

// Process accepts the next certified transaction from the consensus stream.
// It logs the transaction durably before anything else, so a crash after
// this call can always replay it. Blocks while an epoch transition is in
// flight.
func (c *Coordinator) Process(ctx context.Context, tx *inter.CertifiedTransaction) error {
	if err := c.epochs.WaitUnfrozen(ctx); err != nil {
		return err
	}
	if err := withRetry(ctx, c.log, "log certified", func() error {
		return c.store.LogCertified(tx.ConsensusSeq, tx)
	}); err != nil {
		return err
	}

	// commits by in-flight transactions on the same objects must land
	// before this transaction's inputs resolve, so the contention outcome
	// is a function of consensus order alone
	if err := c.waitInputs(ctx, tx); err != nil {
		return err
	}

	if tx.HasShared() {
		return c.executeOne(ctx, tx)
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	done, p, err := c.prepare(ctx, tx)
	if err != nil || done {
		<-c.sem
		if err != nil {
			return err
		}
		return c.finish(ctx, tx, nil)
	}

	untrack := c.track(p)
	c.wg.Add(1)
	go func() {
		defer func() {
			untrack()
			<-c.sem
			c.wg.Done()
		}()
		if err := c.commitPrepared(ctx, tx, p); err != nil && !errors.Is(err, context.Canceled) {
			c.log.WithError(err).WithField("tx", tx.Digest().String()).Error("Owned-lane execution failed")
		}
	}()
	return nil
}

// waitInputs blocks until every in-flight owned-lane transaction holding a
// reservation on one of tx's inputs has finished.
func (c *Coordinator) waitInputs(ctx context.Context, tx *inter.CertifiedTransaction) error {
	for _, in := range tx.Inputs {
		c.mu.Lock()
		ch := c.inflight[in.ID]
		c.mu.Unlock()
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// track registers the transaction's reserved object IDs as in-flight. The
// returned function unregisters them; it must run after the reservations are
// released.
func (c *Coordinator) track(p *prepared) func() {
	var ids []inter.ObjectID
	if p.snap != nil {
		ids = p.snap.locked
	}
	if len(ids) == 0 {
		return func() {}
	}
	ch := make(chan struct{})
	c.mu.Lock()
	for _, id := range ids {
		c.inflight[id] = ch
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		for _, id := range ids {
			if c.inflight[id] == ch {
				delete(c.inflight, id)
			}
		}
		c.mu.Unlock()
		close(ch)
	}
}

// Wait blocks until all in-flight owned-lane executions finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// executeOne takes a logged transaction to its terminal outcome inline:
// effects committed, locks released, epoch manager notified, sink fed. Safe
// to call again on a transaction that already executed.
func (c *Coordinator) executeOne(ctx context.Context, tx *inter.CertifiedTransaction) error {
	done, p, err := c.prepare(ctx, tx)
	if err != nil {
		return err
	}
	if done {
		return c.finish(ctx, tx, nil)
	}
	return c.commitPrepared(ctx, tx, p)
}

// prepared is a transaction whose input reservations are already resolved.
type prepared struct {
	epoch idx.Epoch
	snap  *Snapshot
	abort uint64
}

// prepare resolves the transaction's inputs: replays are detected, owned
// inputs reserved, shared versions assigned. Runs inline in Process, in
// consensus order.
func (c *Coordinator) prepare(ctx context.Context, tx *inter.CertifiedTransaction) (bool, *prepared, error) {
	digest := tx.Digest()

	var done bool
	if err := withRetry(ctx, c.log, "check effects", func() error {
		var err error
		done, err = c.store.HasEffects(digest)
		return err
	}); err != nil {
		return false, nil, err
	}
	if done {
		return true, nil, nil
	}

	p := &prepared{epoch: c.epochs.CurrentEpoch()}
	var err error
	p.snap, p.abort, err = c.resolveInputs(ctx, tx)
	if err != nil {
		return false, nil, err
	}
	return false, p, nil
}

// commitPrepared executes the resolved transaction and commits its outcome.
func (c *Coordinator) commitPrepared(ctx context.Context, tx *inter.CertifiedTransaction, p *prepared) error {
	epoch, snap := p.epoch, p.snap

	var fx *inter.TransactionEffects
	var writes []*inter.Object
	var deletes []inter.Deletion
	if p.abort != inter.AbortNone {
		fx = inter.AbortEffects(tx, epoch, p.abort)
	} else {
		res := c.vm.Execute(tx, snap.Objects())
		if res.AbortCode != inter.AbortNone {
			fx = inter.AbortEffects(tx, epoch, res.AbortCode)
		} else {
			fx, writes, deletes = c.buildEffects(tx, epoch, snap, res)
		}
	}

	if err := withRetry(ctx, c.log, "commit transaction", func() error {
		err := c.store.CommitTransaction(fx, writes, deletes)
		if errors.Is(err, objstore.ErrConflict) {
			// a concurrent replay of this transaction won the race
			fx = nil
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	// advance shared heads for the shared inputs this execution wrote, so
	// the next assignment reads the new version (or observes the deletion)
	if fx != nil && snap != nil && fx.Status.IsSuccess() {
		sharedSet := make(map[inter.ObjectID]bool, len(snap.shared))
		for _, id := range snap.shared {
			sharedSet[id] = true
		}
		for _, ref := range append(fx.Mutated, fx.Deleted...) {
			if !sharedSet[ref.ID] {
				continue
			}
			id, v := ref.ID, ref.Version
			if err := withRetry(ctx, c.log, "bump shared", func() error {
				return c.locks.BumpShared(id, v)
			}); err != nil {
				return err
			}
		}
	}
	return c.finish(ctx, tx, fx)
}

// finish releases the transaction's reservations and forwards the terminal
// outcome downstream. With fx == nil the committed effects are reloaded
// from the store (replay path). Effects are durable by now, so dropping the
// locks first is safe.
func (c *Coordinator) finish(ctx context.Context, tx *inter.CertifiedTransaction, fx *inter.TransactionEffects) error {
	digest := tx.Digest()

	ids := make([]inter.ObjectID, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		ids = append(ids, in.ID)
	}
	if err := withRetry(ctx, c.log, "release locks", func() error {
		return c.locks.Release(digest, ids)
	}); err != nil {
		return err
	}

	if fx == nil {
		if err := withRetry(ctx, c.log, "load effects", func() error {
			var err error
			fx, err = c.store.GetEffects(digest)
			return err
		}); err != nil {
			return err
		}
		if fx == nil {
			return fmt.Errorf("executor: committed effects of %s vanished", digest.String())
		}
	}

	if err := c.epochs.Observe(tx, fx); err != nil {
		return err
	}
	return withRetry(ctx, c.log, "push to sink", func() error {
		return c.sink.Push(tx, fx)
	})
}

// resolveInputs locks owned inputs and assigns shared versions, then loads
// the exact object versions. Lock contention and version mismatches are
// deterministic outcomes reported as an abort code, not an error. On abort
// the partial snapshot still names the reservations taken so far; finish
// releases them.
func (c *Coordinator) resolveInputs(ctx context.Context, tx *inter.CertifiedTransaction) (*Snapshot, uint64, error) {
	digest := tx.Digest()
	snap := newSnapshot(len(tx.Inputs))
	for _, in := range tx.Inputs {
		switch in.Mode {
		case inter.InputShared:
			var assigned inter.Version
			if err := withRetry(ctx, c.log, "assign shared", func() error {
				var err error
				assigned, err = c.locks.AssignShared(digest, tx.ConsensusSeq, in.ID, in.Version)
				return err
			}); err != nil {
				return nil, 0, err
			}
			obj, err := c.loadInput(ctx, in.ID, assigned)
			if err != nil {
				return nil, 0, err
			}
			if obj == nil {
				return snap, inter.AbortVersionMismatch, nil
			}
			snap.add(obj)
			snap.shared = append(snap.shared, in.ID)

		default:
			obj, err := c.loadInput(ctx, in.ID, in.Version)
			if err != nil {
				return nil, 0, err
			}
			if obj == nil {
				return snap, inter.AbortVersionMismatch, nil
			}
			if obj.Owner.Kind == inter.OwnerImmutable {
				// immutable inputs are read without a reservation
				snap.add(obj)
				continue
			}
			lockErr := c.locks.ReserveOwned(digest, in.ID, in.Version)
			switch {
			case errors.Is(lockErr, locktable.ErrVersionMismatch):
				return snap, inter.AbortVersionMismatch, nil
			case errors.Is(lockErr, locktable.ErrAlreadyReserved):
				return snap, inter.AbortAlreadyReserved, nil
			case lockErr != nil:
				return nil, 0, lockErr
			}
			snap.add(obj)
			snap.locked = append(snap.locked, in.ID)
		}
	}
	return snap, inter.AbortNone, nil
}

func (c *Coordinator) loadInput(ctx context.Context, id inter.ObjectID, v inter.Version) (*inter.Object, error) {
	var obj *inter.Object
	err := withRetry(ctx, c.log, "load input", func() error {
		var err error
		obj, err = c.store.GetObject(id, v)
		return err
	})
	return obj, err
}

// buildEffects stamps Lamport versions on the VM's writes and assembles the
// immutable effects record.
func (c *Coordinator) buildEffects(tx *inter.CertifiedTransaction, epoch idx.Epoch, snap *Snapshot, res *Result) (*inter.TransactionEffects, []*inter.Object, []inter.Deletion) {
	newV := snap.NextVersion()
	inputs := make(map[inter.ObjectID]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		inputs[in.ID] = true
	}

	fx := &inter.TransactionEffects{
		TxDigest:     tx.Digest(),
		Epoch:        epoch,
		ConsensusSeq: tx.ConsensusSeq,
		Status:       inter.ExecStatus{Code: inter.StatusSuccess},
		Dependencies: res.Dependencies,
	}

	writes := make([]*inter.Object, 0, len(res.Writes))
	for _, w := range res.Writes {
		obj := w.Copy()
		obj.Version = newV
		writes = append(writes, obj)
		ref := obj.Ref()
		if inputs[obj.ID] {
			fx.Mutated = append(fx.Mutated, ref)
		} else {
			fx.Created = append(fx.Created, ref)
		}
	}

	deletes := make([]inter.Deletion, 0, len(res.Deletes))
	for _, id := range res.Deletes {
		deletes = append(deletes, inter.Deletion{ID: id, Version: newV})
		fx.Deleted = append(fx.Deleted, inter.ObjectRef{ID: id, Version: newV})
	}
	return fx, writes, deletes
}

// Recover brings the pipeline back after a restart: abandoned reservations
// are reclaimed, then the consensus log is replayed from the first position
// the checkpoint builder has not sealed. Already-executed transactions only
// re-feed downstream; the rest execute normally.
func (c *Coordinator) Recover(ctx context.Context, from uint64) error {
	if err := c.locks.Recover(); err != nil {
		return err
	}

	var pending []*inter.CertifiedTransaction
	err := c.store.ForEachLogged(from, func(seq uint64, tx *inter.CertifiedTransaction) bool {
		pending = append(pending, tx)
		return true
	})
	if err != nil {
		return err
	}

	for _, tx := range pending {
		if err := c.executeOne(ctx, tx); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		c.log.WithFields(logrus.Fields{
			"from":  from,
			"count": len(pending),
		}).Info("Replayed consensus log")
	}
	return nil
}
