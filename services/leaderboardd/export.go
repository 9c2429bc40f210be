package leaderboardd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	board "emojiboard/native/leaderboard"
)

// ExportRow is one leaderboard row in the parquet export.
type ExportRow struct {
	Period  int64  `parquet:"name=period, type=INT64"`
	Rank    int32  `parquet:"name=rank, type=INT32"`
	Address string `parquet:"name=address, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Score   uint64 `parquet:"name=score, type=UINT_64"`
}

// WriteParquet encodes the ranked board for period into w.
func WriteParquet(w io.Writer, period int64, ranked []board.RankedEntry) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(ExportRow), 1)
	if err != nil {
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, entry := range ranked {
		row := &ExportRow{
			Period:  period,
			Rank:    int32(entry.Rank),
			Address: entry.Participant.Hex(),
			Score:   entry.Score,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("export: write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("export: finalise: %w", err)
	}
	return nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	period := s.gate.LeaderboardPeriod()
	var buf bytes.Buffer
	if err := WriteParquet(&buf, period, s.gate.Leaderboard()); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=leaderboard-%d.parquet", period))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
