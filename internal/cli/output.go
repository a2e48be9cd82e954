package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/shaiso/meshflow/internal/domain"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// JSONMode сообщает, включён ли вывод в JSON.
func (o *Output) JSONMode() bool {
	return o.jsonMode
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Line выводит одну строку данных в stdout.
func (o *Output) Line(format string, args ...any) {
	fmt.Fprintf(o.w, format+"\n", args...)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// RunSnapshot выводит run: заголовок и таблицу шагов.
func (o *Output) RunSnapshot(snap *domain.RunSnapshot) {
	if o.jsonMode {
		o.JSON(snap)
		return
	}

	goal := ""
	if snap.Plan != nil {
		goal = snap.Plan.Goal
	}
	o.Table(
		[]string{"RUN_ID", "GOAL", "STATUS", "ATTEMPT", "CREATED", "DURATION"},
		[][]string{{
			snap.RunID.String(),
			goal,
			string(snap.Status),
			fmt.Sprint(snap.Attempt),
			formatTime(&snap.CreatedAt),
			formatDuration(snap.Duration()),
		}},
	)
	if snap.Error != "" {
		o.Line("error: %s", snap.Error)
	}
	o.Line("")
	o.Table([]string{"STEP", "STATE", "ATTEMPT", "REASON", "DETAIL"}, stepRows(snap.Steps))
}

func stepRows(steps []domain.StepSnapshot) [][]string {
	rows := make([][]string, len(steps))
	for i, s := range steps {
		var reason, detail string
		if s.Result != nil {
			reason = string(s.Result.Reason)
			detail = s.Result.Summary
			if s.Result.Error != "" {
				detail = s.Result.Error
			}
		}
		rows[i] = []string{s.ID, string(s.State), fmt.Sprint(s.Attempt), reason, truncate(detail, 60)}
	}
	return rows
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

// truncate обрезает строку до n символов.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
