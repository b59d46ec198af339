package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"stakepool/core/events"
)

var csvHeader = []string{"sequence", "type", "timestamp", "attributes", "prev_hash", "hash"}

// FactsCSV builds a CSV export of archived facts and returns the serialised
// data alongside a SHA-256 checksum of the payload. Attributes are encoded as
// a JSON object in a single column so the header stays fixed across fact
// types.
func FactsCSV(facts []events.Fact) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, fact := range facts {
		attrs, err := encodeAttributes(fact.Attributes)
		if err != nil {
			return nil, "", err
		}
		record := []string{
			strconv.FormatUint(fact.Sequence, 10),
			fact.Type,
			formatTimestamp(fact.Timestamp),
			attrs,
			fact.PrevHash,
			fact.Hash,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	// json.Marshal sorts map keys, keeping exports deterministic.
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func formatTimestamp(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
