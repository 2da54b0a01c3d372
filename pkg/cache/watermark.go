package cache

import (
	"encoding/json"
)

type watermarkRecord struct {
	LastRead int64 `json:"last_read"`
}

func watermarkKey(account string) string { return "wm:" + account }

// ReadWatermark returns the per-account last-read notification timestamp,
// zero when never set.
func (s *Store) ReadWatermark(account string) (int64, error) {
	v, ok, err := s.RawGet(watermarkKey(account))
	if err != nil || !ok {
		return 0, err
	}
	var w watermarkRecord
	if err := json.Unmarshal(v, &w); err != nil {
		return 0, err
	}
	return w.LastRead, nil
}

// SetReadWatermark persists the per-account last-read timestamp.
func (s *Store) SetReadWatermark(account string, lastRead int64) error {
	b, err := json.Marshal(watermarkRecord{LastRead: lastRead})
	if err != nil {
		return err
	}
	return s.RawSet(watermarkKey(account), b)
}
