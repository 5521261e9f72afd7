package history

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// record is the on-disk shape of one sample. Totals are kept as decimal
// strings so uint256 values survive JSON.
type record struct {
	Ts       int64  `json:"ts"`
	YesTotal string `json:"yesTotal"`
	NoTotal  string `json:"noTotal"`
}

// Encode renders snap as the persisted history document.
func Encode(snap domain.HistorySnapshot) ([]byte, error) {
	doc := make(map[string][]record, len(snap))
	for id, series := range snap {
		recs := make([]record, len(series))
		for i, smp := range series {
			recs[i] = record{
				Ts:       smp.Timestamp.UnixMilli(),
				YesTotal: amountString(smp.YesTotal),
				NoTotal:  amountString(smp.NoTotal),
			}
		}
		doc[id] = recs
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("history: encode: %w", err)
	}
	return data, nil
}

// Decode parses a persisted history document.
func Decode(data []byte) (domain.HistorySnapshot, error) {
	var doc map[string][]record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}

	snap := make(domain.HistorySnapshot, len(doc))
	for id, recs := range doc {
		series := make([]domain.HistorySample, 0, len(recs))
		for i, r := range recs {
			yes, err := parseAmount(r.YesTotal)
			if err != nil {
				return nil, fmt.Errorf("history: decode market %s entry %d yesTotal: %w", id, i, err)
			}
			no, err := parseAmount(r.NoTotal)
			if err != nil {
				return nil, fmt.Errorf("history: decode market %s entry %d noTotal: %w", id, i, err)
			}
			series = append(series, domain.HistorySample{
				Timestamp: time.UnixMilli(r.Ts).UTC(),
				YesTotal:  yes,
				NoTotal:   no,
			})
		}
		snap[id] = series
	}
	return snap, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return n, nil
}
