package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/log"
	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

const (
	productKeyPrefix = "product:"   // product:<domain>|<url>
	historyDBDir     = "product_db" // Subdirectory name within stateDir for Badger DB files
	recordBatchSize  = 500          // Links per update transaction, keeps txns under badger's size limit
)

// BadgerStore implements ProductStore using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached key count for O(1) TotalProducts
}

var _ ProductStore = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the product history database under stateDir.
// reset wipes any existing history first.
func NewBadgerStore(ctx context.Context, stateDir string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := filepath.Join(stateDir, historyDBDir)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing product history: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing history directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Opening product history database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys(productKeyPrefix)
	if err != nil {
		logger.Warnf("Failed to count existing product keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
		logger.Infof("Product history holds %d links", count)
	}
	return store, nil
}

func productKey(domain, link string) []byte {
	return []byte(productKeyPrefix + domain + "|" + link)
}

func domainPrefix(domain string) []byte {
	return []byte(productKeyPrefix + domain + "|")
}

// countKeys counts keys under prefix without loading values.
func (s *BadgerStore) countKeys(prefix string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// RecordProducts implements the ProductHistory interface
func (s *BadgerStore) RecordProducts(domain string, links []string, seenAt time.Time) (int, error) {
	if s.db == nil || s.db.IsClosed() {
		return 0, fmt.Errorf("%w: product history not open", utils.ErrDatabase)
	}

	totalNew := 0
	for start := 0; start < len(links); start += recordBatchSize {
		end := min(start+recordBatchSize, len(links))
		batch := links[start:end]

		batchNew := 0
		err := s.dbUpdate(func(txn *badger.Txn) error {
			batchNew = 0 // reset on conflict retry
			for _, link := range batch {
				key := productKey(domain, link)
				entry := models.ProductEntry{FirstSeen: seenAt, LastSeen: seenAt, SeenCount: 1}

				item, errGet := txn.Get(key)
				switch {
				case errors.Is(errGet, badger.ErrKeyNotFound):
					batchNew++
				case errGet != nil:
					return errGet
				default:
					var existing models.ProductEntry
					errVal := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) })
					if errVal != nil {
						s.log.Warnf("Corrupt history entry for '%s', starting over: %v", string(key), errVal)
					} else {
						entry.FirstSeen = existing.FirstSeen
						entry.SeenCount = existing.SeenCount + 1
						if existing.LastSeen.After(seenAt) {
							entry.LastSeen = existing.LastSeen
						}
					}
				}

				val, errJSON := json.Marshal(entry)
				if errJSON != nil {
					return fmt.Errorf("%w: failed to marshal ProductEntry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
				}
				if errSet := txn.Set(key, val); errSet != nil {
					return errSet
				}
			}
			return nil
		})
		if err != nil {
			s.log.WithField("domain", domain).Errorf("DB Update error in RecordProducts: %v", err)
			return totalNew, fmt.Errorf("%w: recording products for '%s': %w", utils.ErrDatabase, domain, err)
		}
		totalNew += batchNew
		s.keyCount.Add(int64(batchNew))
	}

	s.log.WithFields(logrus.Fields{"domain": domain, "links": len(links), "new": totalNew}).Debug("Recorded product history")
	return totalNew, nil
}

// GetProduct implements the ProductHistory interface
func (s *BadgerStore) GetProduct(domain, link string) (*models.ProductEntry, bool, error) {
	key := productKey(domain, link)
	var entry *models.ProductEntry

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.ProductEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return fmt.Errorf("%w: decoding '%s': %v", utils.ErrParsing, string(key), errJSON)
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return entry, entry != nil, nil
}

// CountProducts implements the ProductHistory interface
func (s *BadgerStore) CountProducts(domain string) (int, error) {
	count, err := s.countKeys(string(domainPrefix(domain)))
	if err != nil {
		return 0, fmt.Errorf("%w: counting products for '%s': %w", utils.ErrDatabase, domain, err)
	}
	return count, nil
}

// CountNewSince implements the ProductHistory interface
func (s *BadgerStore) CountNewSince(domain string, since time.Time) (int, error) {
	count := 0
	err := s.scanDomain(domain, true, func(_ string, entry *models.ProductEntry) error {
		if entry != nil && !entry.FirstSeen.Before(since) {
			count++
		}
		return nil
	})
	return count, err
}

// ListProducts implements the ProductHistory interface
func (s *BadgerStore) ListProducts(domain string) ([]string, error) {
	var links []string
	err := s.scanDomain(domain, false, func(link string, _ *models.ProductEntry) error {
		links = append(links, link)
		return nil
	})
	return links, err
}

// scanDomain calls fn for every link stored for domain. entry is nil when
// withValues is false or the value cannot be decoded.
func (s *BadgerStore) scanDomain(domain string, withValues bool, fn func(link string, entry *models.ProductEntry) error) error {
	prefix := domainPrefix(domain)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := s.ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			link := string(item.KeyCopy(nil)[len(prefix):])

			var entry *models.ProductEntry
			if withValues {
				errVal := item.Value(func(val []byte) error {
					var decoded models.ProductEntry
					if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
						s.log.Warnf("Skipping undecodable history entry for '%s': %v", link, errJSON)
						return nil
					}
					entry = &decoded
					return nil
				})
				if errVal != nil {
					return errVal
				}
			}
			if err := fn(link, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: scanning products for '%s': %w", utils.ErrDatabase, domain, err)
	}
	return nil
}

// Write implements output.ResultSink
func (s *BadgerStore) Write(ctx context.Context, siteDomain string, links []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	newCount, err := s.RecordProducts(siteDomain, links, time.Now())
	if err != nil {
		return err
	}
	s.log.WithField("domain", siteDomain).Infof("Product history updated: %d links, %d new", len(links), newCount)
	return nil
}

// TotalProducts implements the StoreAdmin interface.
// Returns the cached key count (O(1)) maintained by atomic increments on writes.
func (s *BadgerStore) TotalProducts() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Debug("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}

			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine due to context cancellation: %v", ctx.Err())
			return
		}
	}
}

// WriteProductLog implements the StoreAdmin interface.
func (s *BadgerStore) WriteProductLog(domain, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create product log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create product log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	writtenCount := 0

	scanErr := s.scanDomain(domain, false, func(link string, _ *models.ProductEntry) error {
		if _, err := writer.WriteString(link + "\n"); err != nil && writeErr == nil {
			writeErr = err
		}
		writtenCount++
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}

	if scanErr != nil {
		return scanErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing product log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}
	s.log.Infof("Finished writing %d product links to log: %s", writtenCount, filePath)
	return nil
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing product history DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing product history DB: %v", err)
			return err
		}
		s.log.Info("Product history DB closed.")
	}
	return nil
}
