package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resolve"
	"github.com/sells-group/prospect-cli/internal/scorer"
	"github.com/sells-group/prospect-cli/internal/view"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score, filter and sort a file of leads",
	Long: `Score leads read from a JSON or YAML file with the six-factor lead scorer,
then apply the same filters and sort the dashboard uses.

The input is either an array of lead rows or an object with a "leads" array.

Examples:
  # Score every lead and print a table
  score --input leads.json

  # Senior leads with an email, best first
  score --input leads.yaml --title "vp, director" --has-email true --sort score --dir desc

  # Export qualified leads to CSV
  score --input leads.json --min-score 40 --format csv --output qualified.csv`,
	RunE: runScore,
}

// filterFlags map score flags to view query parameters.
var filterFlags = map[string]string{
	"name":      "name",
	"title":     "title",
	"company":   "company",
	"email":     "email",
	"location":  "location",
	"industry":  "industry",
	"has-email": "has_email",
	"has-phone": "has_phone",
	"min-score": "score_min",
	"max-score": "score_max",
	"sort":      "sort",
	"dir":       "dir",
}

func init() {
	addScoreFlags(scoreCmd)
	rootCmd.AddCommand(scoreCmd)
}

func addScoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("input", "", "lead file path, or - for stdin (required)")
	f.String("input-format", "", "input format: json or yaml (default from file extension)")
	f.String("name", "", "name contains")
	f.String("title", "", "title contains any of these words")
	f.String("company", "", "company contains")
	f.String("email", "", "email contains")
	f.String("location", "", "location contains")
	f.String("industry", "", "industry contains")
	f.String("has-email", "", "true or false")
	f.String("has-phone", "", "true or false")
	f.String("min-score", "", "minimum score")
	f.String("max-score", "", "maximum score")
	f.String("sort", "", "sort column (name, title, company, email, phone, location, industry, company_size, linkedin_url, score)")
	f.String("dir", "asc", "sort direction: asc or desc")
	f.Int("limit", 0, "maximum number of results (0 = all)")
	f.String("format", "table", "output format: table, csv or json")
	f.String("output", "", "output file path (default: stdout)")
	_ = cmd.MarkFlagRequired("input")
}

func runScore(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate("score"); err != nil {
		return err
	}
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return err
	}

	f := cmd.Flags()
	input, _ := f.GetString("input")
	inputFormat, _ := f.GetString("input-format")
	format, _ := f.GetString("format")
	outputPath, _ := f.GetString("output")
	limit, _ := f.GetInt("limit")

	if format != "table" && format != "csv" && format != "json" {
		return eris.Errorf("score: --format must be table, csv or json (got %q)", format)
	}

	q, err := scoreQuery(cmd)
	if err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}
	leads, err := decodeLeads(data, inputFormat, input)
	if err != nil {
		return err
	}

	scored := scorer.New(cfg.Scoring).Apply(leads)
	results := view.Run(scored, q)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	zap.L().Info("score: complete",
		zap.Int("read", len(leads)),
		zap.Int("matched", len(results)),
	)

	w := cmd.OutOrStdout()
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer file.Close() //nolint:errcheck
		w = file
	}
	return writeLeads(w, results, format)
}

// scoreQuery builds the view query from the filter flags.
func scoreQuery(cmd *cobra.Command) (view.Query, error) {
	v := url.Values{}
	for flag, param := range filterFlags {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		val, _ := cmd.Flags().GetString(flag)
		v.Set(param, val)
	}
	q, err := view.ParseQuery(v)
	if err != nil {
		return view.Query{}, eris.Wrap(err, "score: parse filters")
	}
	return q, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "score: read stdin")
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "score: read %s", path)
	}
	return data, nil
}

// decodeLeads parses a lead array, or an object holding one under "leads".
// YAML is converted to JSON first so both go through the same tolerant
// lead decoding.
func decodeLeads(data []byte, format, path string) ([]model.Lead, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = "yaml"
		default:
			format = "json"
		}
	}

	switch format {
	case "json":
	case "yaml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "score: parse yaml")
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, eris.Wrap(err, "score: convert yaml")
		}
		data = b
	default:
		return nil, eris.Errorf("score: --input-format must be json or yaml (got %q)", format)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Leads []model.Lead `json:"leads"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, eris.Wrap(err, "score: decode leads")
		}
		return wrapped.Leads, nil
	}

	var leads []model.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		return nil, eris.Wrap(err, "score: decode leads")
	}
	return leads, nil
}

func writeLeads(w io.Writer, leads []model.Lead, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(leads); err != nil {
			return eris.Wrap(err, "score: write json")
		}
		return nil
	case "csv":
		return writeLeadsCSV(w, leads)
	default:
		return writeLeadsTable(w, leads)
	}
}

func scoreOf(l model.Lead) int {
	if l.Score == nil {
		return 0
	}
	return *l.Score
}

func writeLeadsCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"id", "name", "title", "company", "email", "phone", "score", "grade"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}

	for _, l := range leads {
		score := scoreOf(l)
		row := []string{
			l.ID,
			resolve.Value(&l, resolve.FieldName),
			resolve.Value(&l, resolve.FieldTitle),
			resolve.Value(&l, resolve.FieldCompany),
			resolve.Value(&l, resolve.FieldEmail),
			resolve.Value(&l, resolve.FieldPhone),
			strconv.Itoa(score),
			string(scorer.TierFor(score).Grade),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	return nil
}

func writeLeadsTable(w io.Writer, leads []model.Lead) error {
	header := fmt.Sprintf("%-30s %-30s %-30s %5s %-5s %-12s\n",
		"Name", "Title", "Company", "Score", "Grade", "Tier")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "score: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 118)); err != nil {
		return eris.Wrap(err, "score: write table separator")
	}

	for _, l := range leads {
		score := scoreOf(l)
		tier := scorer.TierFor(score)
		line := fmt.Sprintf("%-30s %-30s %-30s %5d %-5s %-12s\n",
			truncate(resolve.Display(&l, resolve.FieldName), 30),
			truncate(resolve.Display(&l, resolve.FieldTitle), 30),
			truncate(resolve.Display(&l, resolve.FieldCompany), 30),
			score, tier.Grade, tier.Label)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "score: write table row")
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
