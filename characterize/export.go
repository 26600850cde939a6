package characterize

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/erbth/ctlab-go/ctlab"
)

var characteristicHeader = []string{
	"B-E voltage", "B-E current", "C-E voltage", "C-E current", "C-E current limited", "hFE",
}

var sweepHeader = []string{"setpoint", "voltage", "current", "time"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes one row per point with a header row.
func (c *Characteristic) WriteCSV(w io.Writer) error {
	if c.Len() == 0 {
		return ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(characteristicHeader); err != nil {
		return err
	}
	for _, p := range c.Points {
		row := []string{
			formatFloat(p.BaseVoltage),
			formatFloat(p.BaseCurrent),
			formatFloat(p.CollectorVoltage),
			formatFloat(p.CollectorCurrent),
			strconv.FormatBool(p.Limited),
			formatFloat(p.Gain()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the characteristic to a CSV file.
func (c *Characteristic) SaveCSV(filename string) error {
	if c.Len() == 0 {
		return ErrNoData
	}
	if filename == "" {
		return fmt.Errorf("%w: empty file name", ctlab.ErrInvalidValue)
	}
	return saveFile(filename, c.WriteCSV)
}

// WriteTable prints the points as an aligned text table.
func (c *Characteristic) WriteTable(w io.Writer) error {
	if c.Len() == 0 {
		return ErrNoData
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "V_BE [V]\tI_B [A]\tV_CE [V]\tI_C [A]\tlimited\thFE\t")
	for _, p := range c.Points {
		fmt.Fprintf(tw, "%.4f\t%.3e\t%.3f\t%.4f\t%t\t%.1f\t\n",
			p.BaseVoltage, p.BaseCurrent, p.CollectorVoltage, p.CollectorCurrent, p.Limited, p.Gain())
	}
	return tw.Flush()
}

// WriteCSV writes one row per measurement with a header row. The current
// column is empty for modules without current measurement.
func (r *Result) WriteCSV(w io.Writer) error {
	if r.Len() == 0 {
		return ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(sweepHeader); err != nil {
		return err
	}
	for _, m := range r.Measurements {
		current := ""
		if m.HasCurrent() {
			current = formatFloat(m.Current)
		}
		row := []string{
			formatFloat(m.Setpoint),
			formatFloat(m.Voltage),
			current,
			m.Time.Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func saveFile(filename string, write func(io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
