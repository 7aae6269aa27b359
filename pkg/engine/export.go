package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// ExportFormat is a COPY output format.
type ExportFormat string

const (
	FormatParquet ExportFormat = "parquet"
	FormatCSV     ExportFormat = "csv"
	FormatJSON    ExportFormat = "json"
)

// ExportRequest describes a COPY of a query result to a local path or an
// object storage URL.
type ExportRequest struct {
	// Query is the SELECT whose result is written
	Query string
	// Destination is a file path or s3:// URL
	Destination string
	Format      ExportFormat
	// Delimiter applies to csv
	Delimiter string
	// Header applies to csv (default true)
	Header *bool
	// PartitionBy writes a hive partitioned directory
	PartitionBy []string
	// Overwrite replaces existing partitions
	Overwrite bool
	// Compression such as "zstd", "snappy" or "gzip"
	Compression string
}

// SQL renders the COPY statement.
func (r ExportRequest) SQL() (string, error) {
	if strings.TrimSpace(r.Query) == "" {
		return "", tabulaerrors.New(tabulaerrors.KindValidation, "export query is required")
	}
	if strings.TrimSpace(r.Destination) == "" {
		return "", tabulaerrors.New(tabulaerrors.KindValidation, "export destination is required")
	}

	format := r.Format
	if format == "" {
		format = FormatParquet
	}
	switch format {
	case FormatParquet, FormatCSV, FormatJSON:
	default:
		return "", tabulaerrors.Newf(tabulaerrors.KindValidation, "unsupported export format %q", format)
	}

	opts := []string{"FORMAT " + string(format)}
	if format == FormatCSV {
		if r.Delimiter != "" {
			opts = append(opts, "DELIMITER "+sqlutil.QuoteLiteral(r.Delimiter))
		}
		header := true
		if r.Header != nil {
			header = *r.Header
		}
		opts = append(opts, fmt.Sprintf("HEADER %t", header))
	}
	if len(r.PartitionBy) > 0 {
		cols := make([]string, len(r.PartitionBy))
		for i, c := range r.PartitionBy {
			cols[i] = sqlutil.QuoteIdent(c)
		}
		opts = append(opts, "PARTITION_BY ("+strings.Join(cols, ", ")+")")
	}
	if r.Overwrite {
		opts = append(opts, "OVERWRITE_OR_IGNORE true")
	}
	if r.Compression != "" {
		if !sqlutil.IsBareIdent(r.Compression) {
			return "", tabulaerrors.Newf(tabulaerrors.KindValidation, "invalid compression %q", r.Compression)
		}
		opts = append(opts, "COMPRESSION "+sqlutil.QuoteLiteral(r.Compression))
	}

	return fmt.Sprintf("COPY (%s) TO %s (%s)",
		r.Query, sqlutil.QuoteLiteral(r.Destination), strings.Join(opts, ", ")), nil
}

// Export writes the result of req.Query to req.Destination. Object storage
// destinations use the secret registered at initialization; failures there
// are KindStorage.
func (e *Engine) Export(ctx context.Context, req ExportRequest) error {
	stmt, err := req.SQL()
	if err != nil {
		return err
	}
	conn, err := e.connection()
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = execConn(ctx, conn, stmt)
	metrics.ObserveQuery("export", start, err)
	if err != nil {
		if isRemote(req.Destination) {
			return tabulaerrors.Wrap(err, tabulaerrors.KindStorage, "export to "+req.Destination+" failed")
		}
		return err
	}

	e.logger.Info("export completed",
		zap.String("destination", req.Destination),
		zap.String("format", string(req.Format)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func isRemote(dest string) bool {
	for _, scheme := range []string{"s3://", "s3a://", "s3n://", "r2://", "gcs://", "gs://"} {
		if strings.HasPrefix(dest, scheme) {
			return true
		}
	}
	return false
}
