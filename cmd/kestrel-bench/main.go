// Back-test tool scoring a labeled applicant CSV through the Kestrel engine.
//
// Usage:
//
//	go run ./cmd/kestrel-bench -csv applicants.csv -model models/scorecard.yaml
//
// This tool:
//  1. Reads applicants with a "defaulted" label (1/0, true/false, yes/no)
//  2. Scores each one against the model file, fully offline
//  3. Treats High and Very High tiers as a default prediction
//  4. Reports the tier distribution, precision, recall and the KS statistic
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/modelfile"
)

// LabelColumn holds the observed outcome.
const LabelColumn = "defaulted"

// Row is one labeled applicant.
type Row struct {
	Applicant *domain.ApplicantData
	Defaulted bool
}

// Outcome is the scoring result for one row.
type Outcome struct {
	Score     float64
	Tier      domain.RiskTier
	Defaulted bool
	Err       error
}

// Report summarizes a back-test.
type Report struct {
	Total      int
	Errors     int
	Defaults   int
	TierCounts map[domain.RiskTier]int
	TierBads   map[domain.RiskTier]int

	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int

	Precision float64
	Recall    float64
	KS        float64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labeled applicant CSV")
	modelPath := flag.String("model", "", "Path to a model definition file (YAML or JSON)")
	modelID := flag.String("model-id", "", "Model to use when the file defines several")
	limit := flag.Int("limit", 0, "Maximum applicants to score (0 = all)")
	workers := flag.Int("workers", 8, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each applicant result")
	flag.Parse()

	if *csvPath == "" || *modelPath == "" {
		fmt.Println("Usage: kestrel-bench -csv applicants.csv -model scorecard.yaml")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	model, err := loadModel(*modelPath, *modelID)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := ReadRows(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL BACK-TEST - Default Prediction           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Model:       %s v%s (%s)\n", model.ID, model.Version, model.ModelType)
	fmt.Printf("Applicants:  %d\n", len(rows))
	fmt.Printf("Workers:     %d\n", *workers)

	start := time.Now()
	outcomes := Run(engine.New(engine.Options{}), model, rows, *workers)
	duration := time.Since(start)

	if *verbose {
		for i, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("ERROR: %s -> %v\n", rows[i].Applicant.ApplicantID, o.Err)
				continue
			}
			fmt.Printf("%-12s | Score: %8.2f | Tier: %-9s | Defaulted: %v\n",
				rows[i].Applicant.ApplicantID, o.Score, o.Tier, o.Defaulted)
		}
	}

	printReport(Summarize(outcomes), duration)
}

func loadModel(path, id string) (*domain.RiskModel, error) {
	models, err := modelfile.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if len(models) > 1 {
			return nil, fmt.Errorf("%s defines %d models; pick one with -model-id", path, len(models))
		}
		return models[0], nil
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("model %s not found in %s", id, path)
}

// columns maps CSV headers onto structured applicant fields.
var columns = map[string]func(a *domain.ApplicantData, s string) error{
	"applicant_id":              func(a *domain.ApplicantData, s string) error { a.ApplicantID = s; return nil },
	"date_of_birth":             func(a *domain.ApplicantData, s string) error { a.PersonalInfo.DateOfBirth = s; return nil },
	"years_at_address":          floatField(func(a *domain.ApplicantData, v *float64) { a.PersonalInfo.YearsAtAddress = v }),
	"dependents":                intField(func(a *domain.ApplicantData, v *int) { a.PersonalInfo.Dependents = v }),
	"annual_income":             floatField(func(a *domain.ApplicantData, v *float64) { a.FinancialInfo.AnnualIncome = v }),
	"monthly_housing_payment":   floatField(func(a *domain.ApplicantData, v *float64) { a.FinancialInfo.MonthlyHousingPayment = v }),
	"monthly_debt_payments":     floatField(func(a *domain.ApplicantData, v *float64) { a.FinancialInfo.MonthlyDebtPayments = v }),
	"total_assets":              floatField(func(a *domain.ApplicantData, v *float64) { a.FinancialInfo.TotalAssets = v }),
	"liquid_assets":             floatField(func(a *domain.ApplicantData, v *float64) { a.FinancialInfo.LiquidAssets = v }),
	"debt_to_income_ratio":      floatField(func(a *domain.ApplicantData, v *float64) { a.FinancialInfo.DebtToIncomeRatio = v }),
	"credit_score":              floatField(func(a *domain.ApplicantData, v *float64) { a.CreditInfo.CreditScore = v }),
	"open_accounts":             intField(func(a *domain.ApplicantData, v *int) { a.CreditInfo.OpenAccounts = v }),
	"delinquent_accounts":       intField(func(a *domain.ApplicantData, v *int) { a.CreditInfo.DelinquentAccounts = v }),
	"inquiries_last_6_months":   intField(func(a *domain.ApplicantData, v *int) { a.CreditInfo.InquiriesLast6Months = v }),
	"oldest_account_age_months": intField(func(a *domain.ApplicantData, v *int) { a.CreditInfo.OldestAccountAgeMonths = v }),
	"total_credit_limit":        floatField(func(a *domain.ApplicantData, v *float64) { a.CreditInfo.TotalCreditLimit = v }),
	"total_current_balance":     floatField(func(a *domain.ApplicantData, v *float64) { a.CreditInfo.TotalCurrentBalance = v }),
	"credit_utilization":        floatField(func(a *domain.ApplicantData, v *float64) { a.CreditInfo.CreditUtilization = v }),
	"public_records":            intField(func(a *domain.ApplicantData, v *int) { a.CreditInfo.PublicRecords = v }),
	"collections":               intField(func(a *domain.ApplicantData, v *int) { a.CreditInfo.Collections = v }),
	"employment_status": func(a *domain.ApplicantData, s string) error {
		a.EmploymentInfo.Status = domain.EmploymentStatus(s)
		return nil
	},
	"years_at_employer": floatField(func(a *domain.ApplicantData, v *float64) { a.EmploymentInfo.YearsAtEmployer = v }),
	"industry":          func(a *domain.ApplicantData, s string) error { a.EmploymentInfo.Industry = s; return nil },
}

func floatField(set func(*domain.ApplicantData, *float64)) func(*domain.ApplicantData, string) error {
	return func(a *domain.ApplicantData, s string) error {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		set(a, &f)
		return nil
	}
}

func intField(set func(*domain.ApplicantData, *int)) func(*domain.ApplicantData, string) error {
	return func(a *domain.ApplicantData, s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		set(a, &n)
		return nil
	}
}

// ReadRows parses a CSV with a header row. Known columns fill the
// structured record, other columns become additional attributes, and the
// defaulted column is required.
func ReadRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	label := -1
	for i, col := range header {
		if col == LabelColumn {
			label = i
		}
	}
	if label < 0 {
		return nil, fmt.Errorf("missing %q column", LabelColumn)
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		defaulted, err := parseLabel(record[label])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		a := &domain.ApplicantData{ApplicantID: fmt.Sprintf("row-%d", line)}
		for i, col := range header {
			if i == label || record[i] == "" {
				continue
			}
			if set, ok := columns[col]; ok {
				if err := set(a, record[i]); err != nil {
					return nil, fmt.Errorf("line %d, column %s: %w", line, col, err)
				}
				continue
			}
			if a.AdditionalAttributes == nil {
				a.AdditionalAttributes = make(domain.Values)
			}
			a.AdditionalAttributes[col] = parseCell(record[i])
		}

		rows = append(rows, Row{Applicant: a, Defaulted: defaulted})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func parseLabel(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true, nil
	case "0", "false", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value %q", LabelColumn, s)
}

func parseCell(s string) domain.Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return domain.Number(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return domain.Bool(b)
	}
	return domain.String(s)
}

// Run scores every row with a bounded worker pool. Outcomes keep row order.
func Run(e *engine.Engine, model *domain.RiskModel, rows []Row, workers int) []Outcome {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]Outcome, len(rows))

	work := make(chan int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				o := Outcome{Defaulted: rows[i].Defaulted}
				res, err := e.Score(rows[i].Applicant, model)
				if err != nil {
					o.Err = err
				} else {
					o.Score = res.Output.Score
					o.Tier = res.Output.Tier
				}
				outcomes[i] = o
			}
		}()
	}

	for i := range rows {
		work <- i
	}
	close(work)
	wg.Wait()

	return outcomes
}

// Predicted reports whether a tier counts as a default prediction.
func Predicted(t domain.RiskTier) bool {
	return t == domain.TierHigh || t == domain.TierVeryHigh
}

// Summarize builds the report. Errored rows count only toward Errors.
func Summarize(outcomes []Outcome) Report {
	rep := Report{
		TierCounts: make(map[domain.RiskTier]int),
		TierBads:   make(map[domain.RiskTier]int),
	}

	var bad, good []float64
	for _, o := range outcomes {
		rep.Total++
		if o.Err != nil {
			rep.Errors++
			continue
		}
		rep.TierCounts[o.Tier]++

		if o.Defaulted {
			rep.Defaults++
			rep.TierBads[o.Tier]++
			bad = append(bad, o.Score)
		} else {
			good = append(good, o.Score)
		}

		switch p := Predicted(o.Tier); {
		case p && o.Defaulted:
			rep.TruePositives++
		case p && !o.Defaulted:
			rep.FalsePositives++
		case !p && !o.Defaulted:
			rep.TrueNegatives++
		default:
			rep.FalseNegatives++
		}
	}

	if n := rep.TruePositives + rep.FalsePositives; n > 0 {
		rep.Precision = float64(rep.TruePositives) / float64(n)
	}
	if n := rep.TruePositives + rep.FalseNegatives; n > 0 {
		rep.Recall = float64(rep.TruePositives) / float64(n)
	}
	rep.KS = KS(bad, good)
	return rep
}

// KS returns the two-sample Kolmogorov-Smirnov statistic: the largest gap
// between the empirical score distributions of the two groups. It is 0 when
// either group is empty.
func KS(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	a = append([]float64(nil), a...)
	b = append([]float64(nil), b...)
	sort.Float64s(a)
	sort.Float64s(b)

	var i, j int
	var max float64
	for i < len(a) && j < len(b) {
		x := a[i]
		if b[j] < x {
			x = b[j]
		}
		for i < len(a) && a[i] <= x {
			i++
		}
		for j < len(b) && b[j] <= x {
			j++
		}
		d := float64(i)/float64(len(a)) - float64(j)/float64(len(b))
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}

var tierOrder = []domain.RiskTier{domain.TierVeryLow, domain.TierLow, domain.TierModerate, domain.TierHigh, domain.TierVeryHigh}

func printReport(r Report, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       BACK-TEST RESULTS                       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Scored:     %d\n", r.Total-r.Errors)
	fmt.Printf("   Defaults:         %d\n", r.Defaults)
	fmt.Printf("   Errors:           %d\n", r.Errors)

	fmt.Printf("\nTIER DISTRIBUTION\n")
	for _, t := range tierOrder {
		n := r.TierCounts[t]
		rate := 0.0
		if n > 0 {
			rate = 100 * float64(r.TierBads[t]) / float64(n)
		}
		fmt.Printf("   %-10s %8d   default rate %6.2f%%\n", t, n, rate)
	}

	fmt.Printf("\nCONFUSION MATRIX (High + Very High = predicted default)\n")
	fmt.Println("                     Predicted")
	fmt.Println("                 Default    Repaid")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Default    │ %8d │ %8d │  (TP, FN)\n", r.TruePositives, r.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("   Repaid     │ %8d │ %8d │  (FP, TN)\n", r.FalsePositives, r.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\nDISCRIMINATION\n")
	fmt.Printf("   Precision:  %.4f\n", r.Precision)
	fmt.Printf("   Recall:     %.4f\n", r.Recall)
	fmt.Printf("   KS:         %.4f\n", r.KS)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if scored := r.Total; scored > 0 {
		fmt.Printf("   Throughput:       %.2f applicants/sec\n", float64(scored)/duration.Seconds())
	}
	fmt.Println()
}
