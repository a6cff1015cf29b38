// Package stock implements the Stock Engine (spec.md §4.1): a single
// coordinator serializing mutations to per-flavor inventory metadata while
// permitting per-flavor parallelism via per-flavor locks.
//
// The shape follows the teacher's broker/append_fsm.go: long-running
// operations are driven by explicit, named steps rather than one giant
// function, state transitions are logged with structured fields, and
// errors are wrapped with github.com/pkg/errors to preserve a causal
// chain. Unlike the teacher, there's no multi-step resumable FSM here —
// Reserve/Cancel/Confirm/Backup are each a single bounded operation — so
// the steps are plain private methods instead of a state enum.
package stock

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sentinel errors matching the semantic error kinds of spec.md §4.1/§7.
var (
	ErrFlavorUnknown  = errors.New("FLAVOR_UNKNOWN")
	ErrNotEnoughStock = errors.New("NOT_ENOUGH_STOCK")
	ErrBackupBusy     = errors.New("BACKUP_BUSY")
	ErrInvalidCancel  = errors.New("INVALID_CANCEL")
	ErrInvalidConfirm = errors.New("INVALID_CONFIRM")
)

// FlavorUnits names a flavor and a unit count, used for the fan-out lists
// passed to Cancel and Confirm.
type FlavorUnits struct {
	Flavor string
	Units  uint32
}

// StockResult is the single notification the Engine sends per Reserve call.
// Ok reports whether the reservation succeeded; Flavor (normalized) and Units
// are set to the requested pair on both success and failure. It mirrors the
// original StockResult message sent to the Order Router's
// Recipient<StockResult>.
type StockResult struct {
	OrderID uuid.UUID
	Flavor  string
	Units   uint32
	Ok      bool
}

// Engine is the Stock Engine coordinator. Its counters map is built once at
// construction and never mutated afterward, so ranging over it requires no
// lock; each entry's own mutex guards concurrent access to that flavor's
// three counters.
type Engine struct {
	counters map[string]*flavorCounters

	metaMu                  sync.Mutex
	backupInProgress        bool
	confirmsSinceLastBackup int

	maxConfirmsBeforeBackup int
	backupDir               string
	backupPrefix            string

	// delay is the injectable "go to the ice cream container" simulated
	// physical delay (spec.md §9's "Simulated physical delay" design note).
	// Tests override it to avoid sleeping in real time.
	delay func(units uint32) time.Duration

	log *log.Entry
}

// Config parametrizes a new Engine.
type Config struct {
	InventoryPath           string
	BackupDir               string
	BackupFilePrefix        string
	MaxConfirmsBeforeBackup int
}

// NewEngine constructs an Engine from the given inventory file. It aborts
// (returns an error, which callers should treat as fatal per spec.md §7)
// if the file is missing or unreadable.
func NewEngine(cfg Config) (*Engine, error) {
	counters, err := loadInventory(cfg.InventoryPath)
	if err != nil {
		return nil, err
	}
	var e = &Engine{
		counters:                counters,
		maxConfirmsBeforeBackup: cfg.MaxConfirmsBeforeBackup,
		backupDir:               cfg.BackupDir,
		backupPrefix:            cfg.BackupFilePrefix,
		delay:                   goToIceCreamContainerFor,
		log:                     log.WithField("component", "stock.Engine"),
	}
	e.log.WithField("flavors", len(counters)).Info("stock engine loaded")
	return e, nil
}

// goToIceCreamContainerFor simulates the travel time to retrieve `units` of
// ice cream, U[0.75,1.25] x units milliseconds, per spec.md §4.1. This is a
// deliberate design feature (contention realism), not an incidental delay,
// preserved verbatim from the original stock_manager.rs.
func goToIceCreamContainerFor(units uint32) time.Duration {
	var factor = rand.Float64()/2 + 0.75
	return time.Duration(float64(units)*factor) * time.Millisecond
}

// Reserve attempts to reserve `units` of `flavor` for `orderID`. It sends
// exactly one StockResult to notify, either synchronously (for an unknown
// flavor) or asynchronously after the simulated container-retrieval delay
// (for a known flavor). The returned error is for the caller's own
// logging/control-flow; it is not an additional notification.
func (e *Engine) Reserve(orderID uuid.UUID, flavor string, units uint32, notify chan<- StockResult) error {
	var normFlavor = normalize(flavor)
	fc, ok := e.counters[normFlavor]
	if !ok {
		e.log.WithFields(log.Fields{"order": orderID, "flavor": normFlavor}).
			Info("reserve requested for unknown flavor")
		notify <- StockResult{OrderID: orderID, Flavor: normFlavor, Units: units, Ok: false}
		return errors.Wrapf(ErrFlavorUnknown, "flavor %q", normFlavor)
	}

	go e.reserveAsync(orderID, normFlavor, units, fc, notify)
	return nil
}

func (e *Engine) reserveAsync(orderID uuid.UUID, flavor string, units uint32, fc *flavorCounters, notify chan<- StockResult) {
	time.Sleep(e.delay(units))

	fc.mu.Lock()
	ok := fc.available() >= units
	if ok {
		fc.reserved += units
	}
	fc.mu.Unlock()

	if ok {
		e.log.WithFields(log.Fields{"order": orderID, "flavor": flavor, "units": units}).
			Trace("reserved")
	} else {
		e.log.WithFields(log.Fields{"order": orderID, "flavor": flavor, "units": units}).
			WithError(ErrNotEnoughStock).Info("reserve failed")
	}
	notify <- StockResult{OrderID: orderID, Flavor: flavor, Units: units, Ok: ok}
}

// Cancel releases previously reserved units. Per-flavor entries are
// processed concurrently (distinct flavors never share a lock) and Cancel
// blocks until every entry has been applied.
func (e *Engine) Cancel(orderID uuid.UUID, items []FlavorUnits) {
	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(it FlavorUnits) {
			defer wg.Done()
			time.Sleep(e.delay(it.Units))

			var flavor = normalize(it.Flavor)
			fc, ok := e.counters[flavor]
			if !ok {
				e.log.WithFields(log.Fields{"order": orderID, "flavor": flavor}).
					Error("INVALID_CANCEL: unknown flavor")
				return
			}

			fc.mu.Lock()
			if it.Units <= fc.reserved {
				fc.reserved -= it.Units
			} else {
				e.log.WithFields(log.Fields{"order": orderID, "flavor": flavor, "units": it.Units, "reserved": fc.reserved}).
					WithError(ErrInvalidCancel).Error("cancel exceeds reserved, clamping to 0")
				fc.reserved = 0
			}
			fc.mu.Unlock()
		}(it)
	}
	wg.Wait()
}

// Confirm commits previously reserved units. If a backup is in progress,
// confirmed units are staged into `confirmed` rather than drained directly
// into `stock`, so that stock never decreases mid-backup (spec.md §4.1
// invariant 2). Once the total number of Confirm calls since the last
// backup reaches maxConfirmsBeforeBackup (and none is running), a Backup is
// scheduled asynchronously with a timestamped filename.
func (e *Engine) Confirm(orderID uuid.UUID, items []FlavorUnits) {
	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(it FlavorUnits) {
			defer wg.Done()

			var flavor = normalize(it.Flavor)
			fc, ok := e.counters[flavor]
			if !ok {
				e.log.WithFields(log.Fields{"order": orderID, "flavor": flavor}).
					Error("INVALID_CONFIRM: unknown flavor")
				return
			}

			e.metaMu.Lock()
			var backing = e.backupInProgress
			e.metaMu.Unlock()

			fc.mu.Lock()
			defer fc.mu.Unlock()
			if it.Units > fc.reserved {
				e.log.WithFields(log.Fields{"order": orderID, "flavor": flavor, "units": it.Units, "reserved": fc.reserved}).
					WithError(ErrInvalidConfirm).Error("confirm exceeds reserved, clamping to 0")
				fc.reserved = 0
				return
			}
			if backing {
				fc.confirmed += it.Units
			} else {
				fc.stock -= it.Units
			}
			fc.reserved -= it.Units
		}(it)
	}
	wg.Wait()

	e.metaMu.Lock()
	e.confirmsSinceLastBackup++
	var trigger = e.confirmsSinceLastBackup >= e.maxConfirmsBeforeBackup && !e.backupInProgress
	e.metaMu.Unlock()

	if trigger {
		var filename = fmt.Sprintf("%s-auto-%s.csv", e.backupPrefix, time.Now().UTC().Format("2006-01-02-15-04-05"))
		go func() {
			if err := e.Backup(e.backupDir, filename); err != nil {
				e.log.WithError(err).Warn("scheduled backup did not complete cleanly")
			}
		}()
	}
}

// Backup takes a point-in-time snapshot of stock to outDir/outFile, one
// `flavor,stock` line per flavor. While the backup is in progress, Confirm
// defers writes into `confirmed` instead of `stock` so the snapshot reflects
// a value of `stock` that cannot have decreased since the backup began
// (spec.md §4.1 invariant 5). Finalization always runs, even on I/O
// failure, in which case the output file is left truncated/empty — backups
// are best-effort, not a durable WAL (spec.md §1 Non-goals).
func (e *Engine) Backup(outDir, outFile string) error {
	e.metaMu.Lock()
	if e.backupInProgress {
		e.metaMu.Unlock()
		e.log.Warn("backup already in progress, rejecting request")
		return ErrBackupBusy
	}
	e.backupInProgress = true
	e.confirmsSinceLastBackup = 0
	e.metaMu.Unlock()

	e.log.WithField("file", outFile).Info("starting backup")
	defer e.finalizeBackup()

	var path = filepath.Join(outDir, outFile)
	if err := e.writeSnapshot(outDir, path); err != nil {
		e.log.WithError(err).Error("backup failed, output left truncated")
		return nil
	}
	e.log.WithField("file", path).Info("backup completed")
	return nil
}

func (e *Engine) writeSnapshot(outDir, path string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "creating backup directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating backup file")
	}
	defer f.Close()

	var bw = bufio.NewWriter(f)
	for flavor, fc := range e.counters {
		fc.mu.Lock()
		var stockVal = fc.stock
		fc.mu.Unlock()

		if _, err := fmt.Fprintf(bw, "%s,%d\n", flavor, stockVal); err != nil {
			_ = f.Truncate(0)
			return errors.Wrap(err, "writing backup line")
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Truncate(0)
		return errors.Wrap(err, "flushing backup file")
	}
	return nil
}

// finalizeBackup drains confirmed into stock for every flavor and clears
// backupInProgress, completing the Normal->BackupInProgress->Normal state
// machine spec.md §9 describes.
func (e *Engine) finalizeBackup() {
	for _, fc := range e.counters {
		fc.mu.Lock()
		fc.stock -= fc.confirmed
		fc.confirmed = 0
		fc.mu.Unlock()
	}
	e.metaMu.Lock()
	e.backupInProgress = false
	e.metaMu.Unlock()
}

// Snapshot returns the current (stock, reserved, confirmed) for a flavor,
// for tests and diagnostics. The bool reports whether the flavor exists.
func (e *Engine) Snapshot(flavor string) (stockCount, reserved, confirmed uint32, ok bool) {
	fc, ok := e.counters[normalize(flavor)]
	if !ok {
		return 0, 0, 0, false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.stock, fc.reserved, fc.confirmed, true
}

// SetDelayFunc overrides the simulated container-retrieval delay, for use
// by tests that want deterministic, fast execution.
func (e *Engine) SetDelayFunc(f func(units uint32) time.Duration) { e.delay = f }

func normalize(flavor string) string { return strings.ToUpper(flavor) }
