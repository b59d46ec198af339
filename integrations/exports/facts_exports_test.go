package exports

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"stakepool/core/events"
	"stakepool/core/types"
)

func sampleFacts() []events.Fact {
	log := events.NewLog(16)
	log.Append(1700000000, &types.Event{Type: events.TypeStaked, Attributes: map[string]string{
		"account": "0x00000000000000000000000000000000000000a1",
		"amount":  "100",
	}})
	log.Append(1700000010, &types.Event{Type: events.TypeRewardPaid, Attributes: map[string]string{
		"account": "0x00000000000000000000000000000000000000a1",
		"amount":  "7",
	}})
	facts, _ := log.Since(0)
	return facts
}

func TestFactsCSV(t *testing.T) {
	data, sum, err := FactsCSV(sampleFacts())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || len(sum) != 64 {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(lines))
	}
	if lines[0] != "sequence,type,timestamp,attributes,prev_hash,hash" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,staking.staked,2023-11-14T22:13:20Z,") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
	again, sumAgain, err := FactsCSV(sampleFacts())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if !bytes.Equal(data, again) || sum != sumAgain {
		t.Fatalf("export not deterministic")
	}
}

func TestFactsJSONL(t *testing.T) {
	facts := sampleFacts()
	data, sum, err := FactsJSONL(facts)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if sum == "" {
		t.Fatalf("expected checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	var record jsonlRecord
	if err := json.Unmarshal([]byte(lines[1]), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Sequence != 2 || record.Type != events.TypeRewardPaid {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.PrevHash != facts[0].Hash {
		t.Fatalf("prev hash not preserved")
	}
	if record.Attributes["amount"] != "7" {
		t.Fatalf("missing amount attribute: %+v", record.Attributes)
	}
}

func TestFactsParquet(t *testing.T) {
	data, sum, err := FactsParquet(sampleFacts())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if sum == "" {
		t.Fatalf("expected checksum")
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("payload is not a parquet file")
	}
}

func TestEmptyExports(t *testing.T) {
	data, _, err := FactsCSV(nil)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if strings.TrimSpace(string(data)) != strings.Join(csvHeader, ",") {
		t.Fatalf("expected header only, got %q", data)
	}
	data, _, err = FactsJSONL(nil)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty jsonl")
	}
}
