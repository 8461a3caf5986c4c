package ledger

import (
	"encoding/csv"
	"io"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteReportCSV renders report rows as CSV for download.
func WriteReportCSV(w io.Writer, rows []ReportRow) error {
	printer := message.NewPrinter(language.English)
	writer := csv.NewWriter(w)
	header := []string{"sku", "location_id", "available_quantity", "total_received", "total_sold", "active_lots", "avg_cost"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.SKU,
			strconv.FormatInt(row.LocationID, 10),
			strconv.FormatInt(row.AvailableQuantity, 10),
			strconv.FormatInt(row.TotalReceived, 10),
			strconv.FormatInt(row.TotalSold, 10),
			strconv.FormatInt(row.LotCount, 10),
			printer.Sprintf("%.2f", row.AvgCost),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
