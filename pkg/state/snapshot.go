package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"starkagent/pkg/fault"
	"starkagent/pkg/proto"
)

// snapshotVersion is the persisted document version. Loading a document with
// a different version leaves the store empty and raises an alert rather than
// guessing at a migration.
const snapshotVersion = 1

// Snapshot is an immutable point-in-time copy of every collection.
type Snapshot struct {
	Version   int                    `json:"version"`
	SavedAt   time.Time              `json:"saved_at"`
	Market    []MarketSnapshot       `json:"market"`
	Arbitrage []ArbitrageOpportunity `json:"arbitrage"`
	Whales    []WhaleMovement        `json:"whales"`
	Research  []ResearchReport       `json:"research"`
	Content   []ContentPiece         `json:"content"`
	Alerts    []proto.Alert          `json:"alerts"`
}

// Snapshot freezes all collections in a fixed order, copies their contents,
// and releases them. The copy is consistent across collections.
func (s *Store) Snapshot() Snapshot {
	// Fixed lock order prevents deadlock against concurrent snapshots.
	s.Market.freeze()
	s.Arbitrage.freeze()
	s.Whales.freeze()
	s.Research.freeze()
	s.Content.freeze()
	s.Alerts.freeze()
	defer func() {
		s.Alerts.unfreeze()
		s.Content.unfreeze()
		s.Research.unfreeze()
		s.Whales.unfreeze()
		s.Arbitrage.unfreeze()
		s.Market.unfreeze()
	}()

	return Snapshot{
		Version:   snapshotVersion,
		SavedAt:   time.Now().UTC(),
		Market:    s.Market.listLocked(),
		Arbitrage: s.Arbitrage.listLocked(),
		Whales:    s.Whales.listLocked(),
		Research:  s.Research.listLocked(),
		Content:   s.Content.listLocked(),
		Alerts:    s.Alerts.listLocked(),
	}
}

// Save writes the current snapshot atomically: marshal to a temp file in the
// target directory, fsync, then rename over the destination. A crash mid-save
// leaves the previous snapshot intact.
func (s *Store) Save() error {
	snap := s.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fault.Wrap(err, fault.KindInternal, "state", "marshal snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fault.Wrap(err, fault.KindInternal, "state", "create snapshot directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fault.Wrap(err, fault.KindInternal, "state", "create temp snapshot")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fault.Wrap(err, fault.KindInternal, "state", "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fault.Wrap(err, fault.KindInternal, "state", "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return fault.Wrap(err, fault.KindInternal, "state", "close snapshot")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fault.Wrap(err, fault.KindInternal, "state", "replace snapshot")
	}

	s.logger.Debug("saved snapshot to %s (%d bytes)", s.path, len(data))
	return nil
}

// Load restores collections from the snapshot file. A missing file starts
// empty. A malformed file or an unsupported version also starts empty, but
// publishes an alert so the condition is visible; the runtime keeps going
// either way.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no snapshot at %s, starting empty", s.path)
		return nil
	}
	if err != nil {
		s.PublishAlert(proto.NewAlert(proto.AlertStateLoadError, proto.SeverityError, map[string]any{
			"path":  s.path,
			"error": err.Error(),
		}))
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.PublishAlert(proto.NewAlert(proto.AlertStateLoadError, proto.SeverityError, map[string]any{
			"path":  s.path,
			"error": err.Error(),
		}))
		s.logger.Warn("snapshot %s is malformed, starting empty: %v", s.path, err)
		return nil
	}

	if snap.Version != snapshotVersion {
		s.PublishAlert(proto.NewAlert(proto.AlertStateVersion, proto.SeverityError, map[string]any{
			"path":      s.path,
			"version":   snap.Version,
			"supported": snapshotVersion,
		}))
		s.logger.Warn("snapshot %s has unsupported version %d, starting empty", s.path, snap.Version)
		return nil
	}

	s.Market.replaceAll(snap.Market)
	s.Arbitrage.replaceAll(snap.Arbitrage)
	s.Whales.replaceAll(snap.Whales)
	s.Research.replaceAll(snap.Research)
	s.Content.replaceAll(snap.Content)
	s.Alerts.replaceAll(snap.Alerts)

	s.logger.Info("restored snapshot from %s (saved %s)", s.path, snap.SavedAt.Format(time.RFC3339))
	return nil
}
