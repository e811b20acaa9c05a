// Package poller runs the sync engine for every account on a schedule.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vdavid/mailchat/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrSyncInProgress is returned by SyncAccount when the account is already being synced.
var ErrSyncInProgress = errors.New("sync already in progress for this account")

// Syncer is the operation the poller schedules.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID int64) (int, error)
}

// Store supplies the accounts to poll and the poll settings.
type Store interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	GetSettings(ctx context.Context) (models.Settings, error)
}

// Round summarizes one pass over all accounts.
type Round struct {
	Accounts int
	Synced   int
	Skipped  int
	Failed   int
	Saved    int
}

// Poller syncs accounts with bounded parallelism and never syncs one account twice at once.
type Poller struct {
	store   Store
	syncer  Syncer
	workers int
	limiter *rate.Limiter

	locks sync.Map // account ID -> *sync.Mutex
}

// New creates a poller running at most workers syncs at a time.
func New(store Store, syncer Syncer, workers int) *Poller {
	if workers <= 0 {
		workers = 1
	}
	return &Poller{
		store:   store,
		syncer:  syncer,
		workers: workers,
		limiter: rate.NewLimiter(rate.Every(models.DefaultSettings().PollInterval), 1),
	}
}

// Run polls until ctx is done. Each round starts no sooner than the configured
// poll interval after the previous one started. Rounds are skipped while auto sync
// is off. Errors are logged and never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("Poller: starting with %d workers", p.workers)
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			// Wait also fails early when the next slot lies past the context deadline.
			<-ctx.Done()
			log.Println("Poller: stopping")
			return nil
		}

		settings, err := p.store.GetSettings(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("Warning: Poller: failed to load settings: %v", err)
			continue
		}
		p.setInterval(settings.PollInterval)

		if !settings.AutoSyncEnabled {
			continue
		}

		round, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Warning: Poller: %v", err)
			}
			continue
		}
		if round.Saved > 0 || round.Failed > 0 {
			log.Printf("Poller: round done: %d accounts, %d synced, %d skipped, %d failed, %d saved",
				round.Accounts, round.Synced, round.Skipped, round.Failed, round.Saved)
		}
	}
}

// RunOnce syncs every account once and waits for all of them.
// Only listing the accounts can fail; per-account failures are counted and logged.
func (p *Poller) RunOnce(ctx context.Context) (Round, error) {
	accounts, err := p.store.ListAccounts(ctx)
	if err != nil {
		return Round{}, err
	}

	var synced, skipped, failed, saved atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, account := range accounts {
		lock := p.accountLock(account.ID)
		if !lock.TryLock() {
			skipped.Add(1)
			continue
		}

		accountID := account.ID
		g.Go(func() error {
			defer lock.Unlock()

			n, err := p.syncer.SyncAccount(ctx, accountID)
			if err != nil {
				failed.Add(1)
				log.Printf("Warning: Poller: account %d: %v", accountID, err)
				return nil
			}
			synced.Add(1)
			saved.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	return Round{
		Accounts: len(accounts),
		Synced:   int(synced.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Saved:    int(saved.Load()),
	}, nil
}

// SyncAccount runs one sync outside the schedule, for example on user request.
// It returns ErrSyncInProgress instead of waiting when the account is busy.
func (p *Poller) SyncAccount(ctx context.Context, accountID int64) (int, error) {
	lock := p.accountLock(accountID)
	if !lock.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer lock.Unlock()

	return p.syncer.SyncAccount(ctx, accountID)
}

func (p *Poller) accountLock(accountID int64) *sync.Mutex {
	lock, _ := p.locks.LoadOrStore(accountID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (p *Poller) setInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	if limit := rate.Every(interval); limit != p.limiter.Limit() {
		p.limiter.SetLimit(limit)
	}
}
