package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatPlain Format = "plain"
)

// Stdout receives the status helpers' output.
var Stdout io.Writer = os.Stdout

// Report is data that renders as a table in table mode and is serialized
// as Data() otherwise.
type Report interface {
	Headers() []string
	Rows() [][]string
	Data() interface{}
}

// Printer handles formatted output
type Printer struct {
	format Format
	out    io.Writer
}

// NewPrinter creates a new printer with the specified format, writing to
// stdout
func NewPrinter(format string) *Printer {
	return NewPrinterTo(format, os.Stdout)
}

// NewPrinterTo creates a printer writing to w
func NewPrinterTo(format string, w io.Writer) *Printer {
	f := Format(strings.ToLower(format))
	switch f {
	case FormatTable, FormatJSON, FormatYAML, FormatPlain:
		return &Printer{format: f, out: w}
	default:
		return &Printer{format: FormatTable, out: w}
	}
}

// Format returns the effective output format
func (p *Printer) Format() Format { return p.format }

// Print outputs data in the configured format
func (p *Printer) Print(data interface{}) error {
	switch p.format {
	case FormatJSON:
		return p.printJSON(data)
	case FormatYAML:
		return p.printYAML(data)
	case FormatPlain:
		return p.printPlain(data)
	default:
		return p.printTable(data)
	}
}

// Report prints r as a table in table and plain modes, and serializes its
// data in json and yaml modes
func (p *Printer) Report(r Report) error {
	switch p.format {
	case FormatJSON:
		return p.printJSON(r.Data())
	case FormatYAML:
		return p.printYAML(r.Data())
	case FormatPlain:
		for _, row := range r.Rows() {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return nil
	default:
		p.Table(r.Headers(), r.Rows())
		return nil
	}
}

func (p *Printer) printJSON(data interface{}) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out, string(output))
	return nil
}

func (p *Printer) printYAML(data interface{}) error {
	output, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprint(p.out, string(output))
	return nil
}

func (p *Printer) printPlain(data interface{}) error {
	switch v := data.(type) {
	case []string:
		for _, s := range v {
			fmt.Fprintln(p.out, s)
		}
	case []int:
		for _, i := range v {
			fmt.Fprintln(p.out, i)
		}
	case string:
		fmt.Fprintln(p.out, v)
	default:
		fmt.Fprintf(p.out, "%v\n", v)
	}
	return nil
}

func (p *Printer) printTable(data interface{}) error {
	switch v := data.(type) {
	case []string:
		rows := make([][]string, 0, len(v))
		for _, s := range v {
			rows = append(rows, []string{s})
		}
		p.Table([]string{"Value"}, rows)
	case []int:
		rows := make([][]string, 0, len(v))
		for _, i := range v {
			rows = append(rows, []string{fmt.Sprint(i)})
		}
		p.Table([]string{"Value"}, rows)
	default:
		return p.printJSON(data)
	}
	return nil
}

// Table prints a table with headers
func (p *Printer) Table(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(p.out)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(true)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

// Colors for terminal output
var (
	Green  = color.New(color.FgGreen).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Yellow = color.New(color.FgYellow).SprintFunc()
	Blue   = color.New(color.FgBlue).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "%s %s\n", Green("✓"), fmt.Sprintf(format, args...))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "%s %s\n", Red("✗"), fmt.Sprintf(format, args...))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "%s %s\n", Yellow("⚠"), fmt.Sprintf(format, args...))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "%s %s\n", Blue("ℹ"), fmt.Sprintf(format, args...))
}

// Step prints a step message
func Step(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "%s %s\n", Cyan("→"), fmt.Sprintf(format, args...))
}

// Header prints a header
func Header(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "\n%s\n", Bold(fmt.Sprintf(format, args...)))
	fmt.Fprintln(Stdout, strings.Repeat("─", 50))
}

// SubHeader prints a sub-header
func SubHeader(format string, args ...interface{}) {
	fmt.Fprintf(Stdout, "\n%s\n", Cyan(fmt.Sprintf(format, args...)))
}

// YesNo renders a verdict with color.
func YesNo(ok bool, yes, no string) string {
	if ok {
		return Green(yes)
	}
	return Red(no)
}
