package ingest

import "strings"

// Canonical column names understood by the reconciliation pipeline. Uploaded
// portfolios come from several banks and rarely agree on spelling, so headers
// are funnelled through NormalizeHeaders before any row is read.
const (
	ColAgreementNo   = "Agreement_No"
	ColCustomerName  = "Customer_Name"
	ColEmployer      = "Employer"
	ColMaskedCompany = "Masked_Company"
	ColContactNo     = "Contact_No"
	ColAddress       = "Address"
	ColOutstanding   = "Outstanding"
	ColAssignedTo    = "Assigned_To"
	ColTRCCode       = "TRC_Code"
)

// canonicalByKey maps the normalized key form to the canonical spelling.
var canonicalByKey = map[string]string{
	"agreement_no":   ColAgreementNo,
	"customer_name":  ColCustomerName,
	"employer":       ColEmployer,
	"masked_company": ColMaskedCompany,
	"contact_no":     ColContactNo,
	"address":        ColAddress,
	"outstanding":    ColOutstanding,
	"assigned_to":    ColAssignedTo,
	"trc_code":       ColTRCCode,
}

// typoTable corrects misspellings seen in real uploads. Applied after key
// normalization, before alias resolution.
var typoTable = map[string]string{
	"agrement_no":   "agreement_no",
	"aggrement_no":  "agreement_no",
	"agreemeent_no": "agreement_no",
	"costumer_name": "customer_name",
	"cutomer_name":  "customer_name",
	"employeer":     "employer",
	"emloyer":       "employer",
	"adress":        "address",
	"oustanding":    "outstanding",
	"asigned_to":    "assigned_to",
	"trc_kode":      "trc_code",
}

// aliasTable maps alternative column names to the canonical key.
var aliasTable = map[string]string{
	"agreement_number":   "agreement_no",
	"agreement":          "agreement_no",
	"agr_no":             "agreement_no",
	"debtor_name":        "customer_name",
	"borrower_name":      "customer_name",
	"employer_name":      "employer",
	"company":            "employer",
	"masked_comp":        "masked_company",
	"masked_employer":    "masked_company",
	"phone":              "contact_no",
	"phone_no":           "contact_no",
	"mobile_no":          "contact_no",
	"home_address":       "address",
	"amount_outstanding": "outstanding",
	"os_balance":         "outstanding",
	"outstanding_amount": "outstanding",
	"assignee":           "assigned_to",
	"assign_to":          "assigned_to",
	"tracer_code":        "trc_code",
}

// NormalizeHeaders maps raw spreadsheet headers onto canonical column names.
// Headers that do not resolve to a canonical column are passed through
// unchanged so extra columns survive. The function is pure and idempotent:
// normalizing an already-normalized header list is a no-op.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		if canonical, ok := resolveHeader(h); ok {
			out[i] = canonical
		} else {
			out[i] = h
		}
	}
	return out
}

func resolveHeader(header string) (string, bool) {
	key := normalizeKey(header)
	if fixed, ok := typoTable[key]; ok {
		key = fixed
	}
	if target, ok := aliasTable[key]; ok {
		key = target
	}
	canonical, ok := canonicalByKey[key]
	return canonical, ok
}

// normalizeKey reduces a header to its comparison form: BOM and surrounding
// whitespace stripped, internal whitespace runs collapsed to single
// underscores, lower-cased.
func normalizeKey(header string) string {
	h := strings.TrimPrefix(header, "\ufeff")
	h = strings.Join(strings.Fields(h), "_")
	return strings.ToLower(h)
}
