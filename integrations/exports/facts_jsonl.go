package exports

import (
	"bytes"
	"encoding/json"

	"stakepool/core/events"
)

type jsonlRecord struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Timestamp  uint64            `json:"timestamp"`
	Time       string            `json:"time"`
	Attributes map[string]string `json:"attributes"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

// FactsJSONL builds a JSON Lines export of archived facts and returns the
// serialised payload alongside a checksum.
func FactsJSONL(facts []events.Fact) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, fact := range facts {
		attrs := fact.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		record := jsonlRecord{
			Sequence:   fact.Sequence,
			Type:       fact.Type,
			Timestamp:  fact.Timestamp,
			Time:       formatTimestamp(fact.Timestamp),
			Attributes: attrs,
			PrevHash:   fact.PrevHash,
			Hash:       fact.Hash,
		}
		if err := encoder.Encode(record); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
