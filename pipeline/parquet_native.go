package pipeline

import (
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

type featureParquetRow struct {
	Filename string  `parquet:"name=filename, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SBP      float64 `parquet:"name=sbp, type=DOUBLE"`
	DBP      float64 `parquet:"name=dbp, type=DOUBLE"`
	HR       float64 `parquet:"name=hr, type=DOUBLE"`
	HRV      float64 `parquet:"name=hrv, type=DOUBLE"`
	RR       float64 `parquet:"name=rr, type=DOUBLE"`
	PAT      float64 `parquet:"name=pat, type=DOUBLE"`
	ENT      float64 `parquet:"name=ent, type=DOUBLE"`
	SKEW     float64 `parquet:"name=skew, type=DOUBLE"`
	KURT     float64 `parquet:"name=kurt, type=DOUBLE"`
}

func marshalTableParquet(rows []FeatureRow) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(featureParquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		row := featureParquetRow{
			Filename: r.Filename,
			SBP:      r.SBP,
			DBP:      r.DBP,
			HR:       r.HR,
			HRV:      r.HRV,
			RR:       r.RR,
			PAT:      r.PAT,
			ENT:      r.ENT,
			SKEW:     r.SKEW,
			KURT:     r.KURT,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

func readTableParquet(path string) ([]FeatureRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(featureParquetRow), 4)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	raw := make([]featureParquetRow, n)
	if n > 0 {
		if err := pr.Read(&raw); err != nil {
			return nil, err
		}
	}

	rows := make([]FeatureRow, 0, n)
	for _, r := range raw {
		rows = append(rows, FeatureRow{
			Filename: r.Filename,
			SBP:      r.SBP,
			DBP:      r.DBP,
			HR:       r.HR,
			HRV:      r.HRV,
			RR:       r.RR,
			PAT:      r.PAT,
			ENT:      r.ENT,
			SKEW:     r.SKEW,
			KURT:     r.KURT,
		})
	}
	return rows, nil
}
