package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-json"

	"landmarkload/internal/runner"
)

// ExportCSV writes one row per attempt, completion order of users preserved.
func ExportCSV(res *runner.RunResult, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"timeStamp", "elapsed", "user", "seq", "responseCode",
		"outcome", "success", "bytes", "failureMessage",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, a := range res.Attempts() {
		record := []string{
			strconv.FormatInt(a.TimeStamp.UnixMilli(), 10),
			strconv.FormatInt(a.Latency.Milliseconds(), 10),
			"User-" + strconv.Itoa(a.User),
			strconv.Itoa(a.Seq),
			strconv.Itoa(a.Status),
			string(a.Outcome),
			strconv.FormatBool(a.Success()),
			strconv.FormatInt(a.Bytes, 10),
			a.Reason,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON writes the report.
func ExportJSON(rep *Report, filename string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Export writes <prefix>.csv and <prefix>_summary.json.
func Export(res *runner.RunResult, rep *Report, prefix string) error {
	if prefix == "" {
		return nil
	}
	if err := ExportCSV(res, prefix+".csv"); err != nil {
		return err
	}
	return ExportJSON(rep, prefix+"_summary.json")
}
