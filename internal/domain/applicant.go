package domain

import "time"

// ApplicantData is an immutable snapshot of one applicant.
type ApplicantData struct {
	ApplicantID          string         `json:"applicantId"`
	PersonalInfo         PersonalInfo   `json:"personalInfo"`
	FinancialInfo        FinancialInfo  `json:"financialInfo"`
	CreditInfo           CreditInfo     `json:"creditInfo"`
	EmploymentInfo       EmploymentInfo `json:"employmentInfo"`
	AdditionalAttributes Values         `json:"additionalAttributes,omitempty"`
	CreatedAt            time.Time      `json:"createdAt,omitempty"`
}

// Structured numeric fields are pointers: nil means the caller did not
// supply the value, which is distinct from a supplied zero.

// PersonalInfo holds identity and household details.
type PersonalInfo struct {
	Name           string      `json:"name,omitempty"`
	DateOfBirth    string      `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	Address        Address     `json:"address"`
	Contact        ContactInfo `json:"contact"`
	YearsAtAddress *float64    `json:"yearsAtAddress,omitempty"`
	Dependents     *int        `json:"dependents,omitempty"`
}

// Address is a residential address.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// ContactInfo holds contact channels.
type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// FinancialInfo holds income, obligations and assets.
type FinancialInfo struct {
	AnnualIncome          *float64 `json:"annualIncome,omitempty"`
	MonthlyHousingPayment *float64 `json:"monthlyHousingPayment,omitempty"`
	MonthlyDebtPayments   *float64 `json:"monthlyDebtPayments,omitempty"`
	TotalAssets           *float64 `json:"totalAssets,omitempty"`
	LiquidAssets          *float64 `json:"liquidAssets,omitempty"`
	MonthlyFreeCashFlow   *float64 `json:"monthlyFreeCashFlow,omitempty"`
	DebtToIncomeRatio     *float64 `json:"debtToIncomeRatio,omitempty"`
}

// CreditInfo holds bureau data.
type CreditInfo struct {
	CreditScore            *float64 `json:"creditScore,omitempty"`
	OpenAccounts           *int     `json:"openAccounts,omitempty"`
	DelinquentAccounts     *int     `json:"delinquentAccounts,omitempty"`
	InquiriesLast6Months   *int     `json:"inquiriesLast6Months,omitempty"`
	OldestAccountAgeMonths *int     `json:"oldestAccountAgeMonths,omitempty"`
	TotalCreditLimit       *float64 `json:"totalCreditLimit,omitempty"`
	TotalCurrentBalance    *float64 `json:"totalCurrentBalance,omitempty"`
	CreditUtilization      *float64 `json:"creditUtilization,omitempty"`
	PublicRecords          *int     `json:"publicRecords,omitempty"`
	Collections            *int     `json:"collections,omitempty"`
}

// EmploymentStatus is the applicant's employment situation.
type EmploymentStatus string

const (
	EmploymentEmployed     EmploymentStatus = "employed"
	EmploymentSelfEmployed EmploymentStatus = "self_employed"
	EmploymentRetired      EmploymentStatus = "retired"
	EmploymentUnemployed   EmploymentStatus = "unemployed"
	EmploymentStudent      EmploymentStatus = "student"
	EmploymentOther        EmploymentStatus = "other"
)

// EmploymentInfo holds employment details.
type EmploymentInfo struct {
	Status            EmploymentStatus `json:"status,omitempty"`
	Employer          string           `json:"employer,omitempty"`
	Title             string           `json:"title,omitempty"`
	YearsAtEmployer   *float64         `json:"yearsAtEmployer,omitempty"`
	YearsInProfession *float64         `json:"yearsInProfession,omitempty"`
	Industry          string           `json:"industry,omitempty"`
}

// Ptr returns a pointer to v, for filling optional structured fields.
func Ptr[T any](v T) *T {
	return &v
}

// Attributes flattens the structured record into named attributes. Each
// supplied structured field appears under its canonical name and its short
// alias; nil numeric fields and empty text fields are omitted. Additional
// attributes fill every name the structured record did not supply.
func (a *ApplicantData) Attributes() Values {
	out := make(Values, 48)

	num := func(v *float64, names ...string) {
		if v == nil {
			return
		}
		for _, n := range names {
			out[n] = Number(*v)
		}
	}
	count := func(v *int, names ...string) {
		if v == nil {
			return
		}
		for _, n := range names {
			out[n] = Number(float64(*v))
		}
	}
	text := func(v string, names ...string) {
		if v == "" {
			return
		}
		for _, n := range names {
			out[n] = String(v)
		}
	}

	p := a.PersonalInfo
	text(p.Name, "name")
	text(p.DateOfBirth, "date_of_birth")
	num(p.YearsAtAddress, "years_at_address", "address_years")
	count(p.Dependents, "dependents")
	text(p.Address.City, "city")
	text(p.Address.State, "state")
	text(p.Address.PostalCode, "postal_code")
	text(p.Address.Country, "country")

	f := a.FinancialInfo
	num(f.AnnualIncome, "annual_income")
	num(f.MonthlyHousingPayment, "monthly_housing_payment", "monthly_housing")
	num(f.MonthlyDebtPayments, "monthly_debt_payments", "monthly_debt")
	num(f.TotalAssets, "total_assets")
	num(f.LiquidAssets, "liquid_assets")
	num(f.MonthlyFreeCashFlow, "monthly_free_cash_flow", "free_cash_flow")
	num(f.DebtToIncomeRatio, "debt_to_income_ratio", "dti")

	c := a.CreditInfo
	num(c.CreditScore, "credit_score")
	count(c.OpenAccounts, "open_accounts")
	count(c.DelinquentAccounts, "delinquent_accounts")
	count(c.InquiriesLast6Months, "inquiries_last_6_months", "inquiries")
	count(c.OldestAccountAgeMonths, "oldest_account_age_months", "account_age")
	num(c.TotalCreditLimit, "total_credit_limit", "credit_limit")
	num(c.TotalCurrentBalance, "total_current_balance", "credit_balance")
	num(c.CreditUtilization, "credit_utilization", "utilization")
	count(c.PublicRecords, "public_records")
	count(c.Collections, "collections")

	e := a.EmploymentInfo
	text(string(e.Status), "employment_status")
	text(e.Employer, "employer")
	text(e.Title, "job_title")
	num(e.YearsAtEmployer, "years_at_employer")
	num(e.YearsInProfession, "years_in_profession")
	text(e.Industry, "industry")

	for k, v := range a.AdditionalAttributes {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

// WithAttribute returns a copy of the applicant with one additional
// attribute set. The receiver is not modified.
func (a *ApplicantData) WithAttribute(name string, v Value) *ApplicantData {
	cp := *a
	cp.AdditionalAttributes = make(Values, len(a.AdditionalAttributes)+1)
	for k, val := range a.AdditionalAttributes {
		cp.AdditionalAttributes[k] = val
	}
	cp.AdditionalAttributes[name] = v
	return &cp
}
