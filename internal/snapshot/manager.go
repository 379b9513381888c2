// Package snapshot persists point-in-time agent state keyed by turn
// number, with retention-based cleanup and checksum-verified restore.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Load when no snapshot exists for the
// requested turn. Load never fabricates partial state.
var ErrNotFound = errors.New("snapshot not found")

// Config controls snapshot behavior.
type Config struct {
	Enabled   bool
	Directory string
	// MaxSnapshots is the retention count; Cleanup deletes the oldest
	// snapshots beyond it, never the most recent MaxSnapshots.
	MaxSnapshots int
	// CompressionThreshold is the state size in bytes above which the
	// blob is gzip-compressed on disk.
	CompressionThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		Directory:            "snapshots",
		MaxSnapshots:         50,
		CompressionThreshold: 1024 * 1024,
	}
}

// Info describes a stored snapshot without its state payload.
type Info struct {
	TurnNumber int       `json:"turn_number"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Filename   string    `json:"filename"`
	Metadata   string    `json:"metadata,omitempty"`
}

// envelope is the on-disk snapshot format.
type envelope struct {
	TurnNumber int       `json:"turn_number"`
	CreatedAt  time.Time `json:"created_at"`
	Metadata   string    `json:"metadata,omitempty"`
	Checksum   string    `json:"checksum"`
	Compressed bool      `json:"compressed"`
	// State holds the raw state JSON, or the gzip of it when
	// Compressed is set (base64 via encoding/json []byte rules).
	State []byte `json:"state"`
}

// Manager stores snapshots as turn_<n>.json files in a directory.
type Manager struct {
	config Config
	logger *slog.Logger
}

// NewManager creates a snapshot manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if config.MaxSnapshots <= 0 {
		config.MaxSnapshots = DefaultConfig().MaxSnapshots
	}
	return &Manager{config: config, logger: logger}
}

func (m *Manager) path(turn int) string {
	return filepath.Join(m.config.Directory, fmt.Sprintf("turn_%d.json", turn))
}

// Save persists state for a turn. The write is atomic (temp file then
// rename) so a crash never leaves a partial snapshot behind. Saving
// the same turn again overwrites the previous snapshot.
func (m *Manager) Save(turn int, state any, metadata string) (*Info, error) {
	if !m.config.Enabled {
		return nil, nil
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	sum := sha256.Sum256(stateJSON)
	env := envelope{
		TurnNumber: turn,
		CreatedAt:  time.Now().UTC(),
		Metadata:   metadata,
		Checksum:   hex.EncodeToString(sum[:]),
	}

	if m.config.CompressionThreshold > 0 && len(stateJSON) > m.config.CompressionThreshold {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(stateJSON); err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("close gzip: %w", err)
		}
		env.Compressed = true
		env.State = buf.Bytes()
	} else {
		env.State = stateJSON
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	if err := os.MkdirAll(m.config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	path := m.path(turn)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename snapshot: %w", err)
	}

	info := &Info{
		TurnNumber: turn,
		CreatedAt:  env.CreatedAt,
		SizeBytes:  int64(len(data)),
		Filename:   filepath.Base(path),
		Metadata:   metadata,
	}

	m.logger.Debug("snapshot saved",
		"turn", turn,
		"bytes", info.SizeBytes,
		"compressed", env.Compressed,
	)

	return info, nil
}

// Load reads the snapshot for a turn into out. Returns ErrNotFound for
// a missing turn and an error when the checksum does not match.
func (m *Manager) Load(turn int, out any) error {
	data, err := os.ReadFile(m.path(turn))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("turn %d: %w", turn, ErrNotFound)
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	stateJSON := env.State
	if env.Compressed {
		gr, err := gzip.NewReader(bytes.NewReader(env.State))
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gr.Close()
		stateJSON, err = io.ReadAll(gr)
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
	}

	sum := sha256.Sum256(stateJSON)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return fmt.Errorf("turn %d: snapshot checksum mismatch", turn)
	}

	if err := json.Unmarshal(stateJSON, out); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	return nil
}

// List returns stored snapshots ordered by turn number, newest first.
// Files that do not match the turn_<n>.json pattern are skipped.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.config.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "turn_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		turnStr := strings.TrimSuffix(strings.TrimPrefix(name, "turn_"), ".json")
		turn, err := strconv.Atoi(turnStr)
		if err != nil {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}

		info := Info{
			TurnNumber: turn,
			SizeBytes:  fi.Size(),
			Filename:   name,
			CreatedAt:  fi.ModTime().UTC(),
		}
		snapshots = append(snapshots, info)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].TurnNumber > snapshots[j].TurnNumber
	})
	return snapshots, nil
}

// Cleanup deletes the oldest snapshots beyond the retention count and
// returns how many were removed.
func (m *Manager) Cleanup() (int, error) {
	snapshots, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= m.config.MaxSnapshots {
		return 0, nil
	}

	deleted := 0
	for _, s := range snapshots[m.config.MaxSnapshots:] {
		if err := os.Remove(filepath.Join(m.config.Directory, s.Filename)); err != nil {
			m.logger.Warn("failed to delete snapshot", "file", s.Filename, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		m.logger.Debug("snapshots pruned", "deleted", deleted, "kept", m.config.MaxSnapshots)
	}
	return deleted, nil
}
