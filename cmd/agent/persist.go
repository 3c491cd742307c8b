package main

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"pixelcove.gg/internal/persistence/indexdb"
	"pixelcove.gg/internal/persistence/snapshot"
	"pixelcove.gg/internal/space"
)

// directoryPersister checkpoints the coordinator's directory to disk. Bursts
// of changes coalesce: the first request arms a timer, later ones are
// absorbed until it fires, so a churning directory still snapshots on every
// interval.
type directoryPersister struct {
	dir   string
	keep  int
	every time.Duration
	co    *space.Coordinator
	idx   *indexdb.SQLiteIndex
	log   *log.Logger

	reqCh   chan struct{}
	flushCh chan chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newDirectoryPersister(dir string, keep int, every time.Duration, co *space.Coordinator, idx *indexdb.SQLiteIndex, logger *log.Logger) *directoryPersister {
	p := &directoryPersister{
		dir:     dir,
		keep:    keep,
		every:   every,
		co:      co,
		idx:     idx,
		log:     logger,
		reqCh:   make(chan struct{}, 1),
		flushCh: make(chan chan struct{}, 8),
		stopCh:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *directoryPersister) request() {
	select {
	case p.reqCh <- struct{}{}:
	default:
	}
}

// Flush writes a snapshot immediately and waits for it.
func (p *directoryPersister) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flushCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes a final snapshot and stops the loop.
func (p *directoryPersister) Close() {
	p.once.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
	})
}

func (p *directoryPersister) loop() {
	defer p.wg.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-p.stopCh:
			stopTimer()
			p.writeNow()
			return
		case <-p.reqCh:
			if timer == nil {
				timer = time.NewTimer(p.every)
			}
		case ack := <-p.flushCh:
			stopTimer()
			p.writeNow()
			if ack != nil {
				close(ack)
			}
		case <-timerCh:
			stopTimer()
			p.writeNow()
		}
	}
}

func (p *directoryPersister) writeNow() {
	spaces := p.co.Spaces()
	if len(spaces) == 0 {
		// Nothing learned yet; don't bury a warm snapshot under an empty one.
		return
	}
	mine := p.co.MySpaces()
	mineIDs := make([]string, 0, len(mine))
	for _, sp := range mine {
		mineIDs = append(mineIDs, sp.ID)
	}

	now := time.Now().UTC()
	snap := snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: 1, Wallet: p.co.Identity().Wallet, TakenAt: now},
		Spaces:  spaces,
		MineIDs: mineIDs,
	}
	path := filepath.Join(p.dir, snapshot.Filename(now))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		p.log.Printf("snapshot write: %v", err)
		return
	}
	p.idx.RecordSnapshot(path, len(spaces), len(mineIDs), now)
	if err := snapshot.Prune(p.dir, p.keep); err != nil {
		p.log.Printf("snapshot prune: %v", err)
	}
	p.log.Printf("snapshot written: %s (spaces=%d mine=%d)", filepath.Base(path), len(spaces), len(mineIDs))
}
