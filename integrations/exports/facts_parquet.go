package exports

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"stakepool/core/events"
)

type parquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrevHash   string `parquet:"name=prev_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash       string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// FactsParquet writes archived facts as a Snappy-compressed Parquet file and
// returns the encoded bytes with their checksum. Account and amount are
// lifted into their own columns for analytical queries; the full attribute set
// is kept as JSON.
func FactsParquet(facts []events.Fact) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, fact := range facts {
		attrs, err := encodeAttributes(fact.Attributes)
		if err != nil {
			pw.WriteStop()
			return nil, "", err
		}
		row := parquetRow{
			Sequence:   int64(fact.Sequence),
			Type:       fact.Type,
			Timestamp:  int64(fact.Timestamp),
			Account:    fact.Attributes["account"],
			Amount:     fact.Attributes["amount"],
			Attributes: attrs,
			PrevHash:   fact.PrevHash,
			Hash:       fact.Hash,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, "", fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("finalise parquet: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
