package station

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evfleet/ocppsim/internal/configstore"
)

// PersistedState is the per-station file written under the data directory,
// keyed by hashId. It lets serial numbers, configuration keys and 2.0.1
// variable overrides survive process restarts and template reloads.
type PersistedState struct {
	Info             Identity          `json:"stationInfo"`
	ConfigurationKey []configstore.Key `json:"configurationKey"`
	OCPP20Variables  map[string]string `json:"ocpp20Variables,omitempty"`
	ATG              *ATGStatistics    `json:"automaticTransactionGenerator,omitempty"`
}

// ATGStatistics is the generator's persisted counter snapshot.
type ATGStatistics struct {
	StartedTransactions int64 `json:"startedTransactions"`
	StoppedTransactions int64 `json:"stoppedTransactions"`
	SkippedTransactions int64 `json:"skippedTransactions"`
	RejectedStarts      int64 `json:"rejectedStarts"`
}

func statePath(dataDir, hashID string) string {
	return filepath.Join(dataDir, hashID+".json")
}

// LoadState reads the persisted state for hashID; a missing file returns
// (nil, nil).
func LoadState(dataDir, hashID string) (*PersistedState, error) {
	data, err := os.ReadFile(statePath(dataDir, hashID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read station state: %w", err)
	}
	var st PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse station state %s: %w", hashID, err)
	}
	return &st, nil
}

// SaveState atomically writes the state file for st.Info.HashID.
func SaveState(dataDir string, st *PersistedState) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal station state: %w", err)
	}
	tmp := statePath(dataDir, st.Info.HashID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write station state: %w", err)
	}
	if err := os.Rename(tmp, statePath(dataDir, st.Info.HashID)); err != nil {
		return fmt.Errorf("commit station state: %w", err)
	}
	return nil
}
