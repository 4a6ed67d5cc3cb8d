package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketHosts     = []byte("hosts")
	bucketSettings  = []byte("settings")
	bucketVolumes   = []byte("volumes")
	bucketSnapshots = []byte("snapshots")

	allBuckets = [][]byte{
		bucketHosts,
		bucketSettings,
		bucketVolumes,
		bucketSnapshots,
	}
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Reset empties every bucket. Used before restoring a raft snapshot.
func (s *BoltStore) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if tx.Bucket(bucket) != nil {
				if err := tx.DeleteBucket(bucket); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, key string, v interface{}) (bool, error) {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// Host operations
func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketHosts, host.UUID, host)
	})
}

func (s *BoltStore) GetHost(uuid string) (*types.Host, error) {
	var host types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx, bucketHosts, uuid, &host)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NewNotFoundError("host not found: %s", uuid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	hosts := []*types.Host{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var host types.Host
			if err := json.Unmarshal(v, &host); err != nil {
				return err
			}
			hosts = append(hosts, &host)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.CreateHost(host) // Same as create (upsert)
}

func (s *BoltStore) DeleteHost(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).Delete([]byte(uuid))
	})
}

// Setting operations
func (s *BoltStore) PutSetting(setting *types.Setting) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketSettings, setting.Name, setting)
	})
}

func (s *BoltStore) GetSetting(name string) (*types.Setting, error) {
	var setting types.Setting
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx, bucketSettings, name, &setting)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NewNotFoundError("setting not found: %s", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (s *BoltStore) ListSettings() ([]*types.Setting, error) {
	settings := []*types.Setting{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			var setting types.Setting
			if err := json.Unmarshal(v, &setting); err != nil {
				return err
			}
			settings = append(settings, &setting)
			return nil
		})
	})
	return settings, err
}

// Volume operations
func (s *BoltStore) CreateVolume(volume *types.Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketVolumes).Get([]byte(volume.Name)) != nil {
			return errdefs.NewNameConflictError("volume %q already exists", volume.Name)
		}
		if err := put(tx, bucketVolumes, volume.Name, volume); err != nil {
			return err
		}
		chain := &types.SnapshotChain{
			VolumeName: volume.Name,
			Snapshots:  map[string]*types.Snapshot{},
		}
		return put(tx, bucketSnapshots, volume.Name, chain)
	})
}

func (s *BoltStore) GetVolume(name string) (*types.Volume, error) {
	var volume types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx, bucketVolumes, name, &volume)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NewNotFoundError("volume not found: %s", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &volume, nil
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	volumes := []*types.Volume{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var volume types.Volume
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			volumes = append(volumes, &volume)
			return nil
		})
	})
	return volumes, err
}

func (s *BoltStore) UpdateVolume(volume *types.Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketVolumes).Get([]byte(volume.Name)) == nil {
			return errdefs.NewNotFoundError("volume not found: %s", volume.Name)
		}
		return put(tx, bucketVolumes, volume.Name, volume)
	})
}

func (s *BoltStore) DeleteVolume(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVolumes).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Delete([]byte(name))
	})
}

// Snapshot chain operations
func (s *BoltStore) GetSnapshotChain(volumeName string) (*types.SnapshotChain, error) {
	var chain types.SnapshotChain
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := get(tx, bucketSnapshots, volumeName, &chain)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NewNotFoundError("volume not found: %s", volumeName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if chain.Snapshots == nil {
		chain.Snapshots = map[string]*types.Snapshot{}
	}
	return &chain, nil
}

func (s *BoltStore) PutSnapshotChain(chain *types.SnapshotChain) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketVolumes).Get([]byte(chain.VolumeName)) == nil {
			return errdefs.NewNotFoundError("volume not found: %s", chain.VolumeName)
		}
		return put(tx, bucketSnapshots, chain.VolumeName, chain)
	})
}
