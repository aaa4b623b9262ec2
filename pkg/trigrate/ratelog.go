package trigrate

import (
	"fmt"
	"os"
)

// AppendRateLog adds one "<trig_timestamp> <trig_rate> <rate_err>" line to the
// rate log at path, creating it if needed.
func AppendRateLog(path string, rec *Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening rate log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d %v %v\n", rec.TrigTimestamp, rec.TrigRate, rec.RateErr); err != nil {
		f.Close()
		return fmt.Errorf("writing rate log: %w", err)
	}
	return f.Close()
}
