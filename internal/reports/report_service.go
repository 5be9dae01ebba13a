// Package reports aggregates transactions and matched documents into the
// accounting overview and the VAT declaration report.
package reports

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"openvera/internal/models"
	"openvera/internal/repositories"
)

// CatchAllParty buckets expenses whose reference matches no party pattern.
const CatchAllParty = "Övriga"

// TransactionSource provides the flat transaction rows reports aggregate over.
type TransactionSource interface {
	ListForReport(f repositories.ReportFilter) ([]*repositories.ReportRow, error)
}

// DocumentSource provides deduplicated matched documents for the VAT report.
type DocumentSource interface {
	VATDocuments(companyID int64, dateFrom, dateTo string) ([]*repositories.VATDocRow, error)
}

// PartySource provides party reference patterns for the supplier breakdown.
type PartySource interface {
	ListPatternsForCompany(companyID int64) ([]*repositories.PartyPatterns, error)
}

// ChartSource provides chart-of-accounts names.
type ChartSource interface {
	BASAccountNames() (map[string]string, error)
}

type Service struct {
	transactions TransactionSource
	documents    DocumentSource
	parties      PartySource
	chart        ChartSource
	log          zerolog.Logger
}

func NewService(transactions TransactionSource, documents DocumentSource, parties PartySource, chart ChartSource, log zerolog.Logger) *Service {
	return &Service{
		transactions: transactions,
		documents:    documents,
		parties:      parties,
		chart:        chart,
		log:          log,
	}
}

type AccountTotal struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

type PeriodTotal struct {
	Period   string  `json:"period"`
	Expenses float64 `json:"expenses"`
	Income   float64 `json:"income"`
}

type PartyTotal struct {
	Party string  `json:"party"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

type MissingReceipt struct {
	Date      string  `json:"date"`
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
	Account   string  `json:"account"`
}

type GeneralReport struct {
	TotalExpenses float64          `json:"total_expenses"`
	TotalIncome   float64          `json:"total_income"`
	ByAccount     []AccountTotal   `json:"by_account"`
	ByPeriod      []PeriodTotal    `json:"by_period"`
	ByParty       []PartyTotal     `json:"by_party"`
	Missing       []MissingReceipt `json:"missing"`
	MissingCount  int              `json:"missing_count"`
}

// GeneralReport builds the accounting overview for a company and period.
// Internal transfers are excluded from every aggregate except the monthly
// breakdown, which covers all transactions.
func (s *Service) GeneralReport(companyID int64, dateFrom, dateTo string) (*GeneralReport, error) {
	rows, err := s.transactions.ListForReport(repositories.ReportFilter{
		CompanyID: companyID,
		DateFrom:  dateFrom,
		DateTo:    dateTo,
	})
	if err != nil {
		return nil, err
	}

	basNames, err := s.chart.BASAccountNames()
	if err != nil {
		return nil, err
	}
	patterns, err := s.parties.ListPatternsForCompany(companyID)
	if err != nil {
		return nil, err
	}

	report := &GeneralReport{}
	accountTotals := map[string]*AccountTotal{}
	periodTotals := map[string]*PeriodTotal{}
	partyTotals := map[string]*PartyTotal{}

	for _, row := range rows {
		// Monthly breakdown covers transfers too.
		if len(row.Date) >= 7 {
			period := row.Date[:7]
			pt, ok := periodTotals[period]
			if !ok {
				pt = &PeriodTotal{Period: period}
				periodTotals[period] = pt
			}
			if row.Amount < 0 {
				pt.Expenses += row.Amount
			} else {
				pt.Income += row.Amount
			}
		}

		if row.IsInternalTransfer {
			continue
		}

		if row.Amount < 0 {
			report.TotalExpenses += row.Amount
		} else {
			report.TotalIncome += row.Amount
		}

		if row.Amount < 0 {
			code := row.AccountingCode.String
			at, ok := accountTotals[code]
			if !ok {
				at = &AccountTotal{Code: code, Name: basNames[code]}
				accountTotals[code] = at
			}
			at.Count++
			at.Total += row.Amount

			party := matchParty(patterns, row.Reference.String)
			pt, ok := partyTotals[party]
			if !ok {
				pt = &PartyTotal{Party: party}
				partyTotals[party] = pt
			}
			pt.Count++
			pt.Total += row.Amount

			needsReceipt := !row.NeedsReceipt.Valid || row.NeedsReceipt.Bool
			if needsReceipt && !row.Matched {
				report.Missing = append(report.Missing, MissingReceipt{
					Date:      row.Date,
					Reference: row.Reference.String,
					Amount:    row.Amount,
					Account:   row.AccountName,
				})
			}
		}
	}

	for _, at := range accountTotals {
		report.ByAccount = append(report.ByAccount, *at)
	}
	sort.Slice(report.ByAccount, func(i, j int) bool {
		return report.ByAccount[i].Code < report.ByAccount[j].Code
	})

	for _, pt := range periodTotals {
		report.ByPeriod = append(report.ByPeriod, *pt)
	}
	sort.Slice(report.ByPeriod, func(i, j int) bool {
		return report.ByPeriod[i].Period < report.ByPeriod[j].Period
	})

	for _, pt := range partyTotals {
		report.ByParty = append(report.ByParty, *pt)
	}
	sort.Slice(report.ByParty, func(i, j int) bool {
		return report.ByParty[i].Total < report.ByParty[j].Total
	})

	// Rows came in date ascending; missing receipts list newest first.
	sort.SliceStable(report.Missing, func(i, j int) bool {
		return report.Missing[i].Date > report.Missing[j].Date
	})
	report.MissingCount = len(report.Missing)
	return report, nil
}

// matchParty returns the first party whose pattern occurs in the reference,
// case-insensitively.
func matchParty(parties []*repositories.PartyPatterns, reference string) string {
	ref := strings.ToUpper(reference)
	for _, party := range parties {
		for _, pattern := range party.Patterns {
			if pattern != "" && strings.Contains(ref, strings.ToUpper(pattern)) {
				return party.Name
			}
		}
	}
	return CatchAllParty
}

type RateTotal struct {
	Rate   float64 `json:"rate"`
	NetSEK float64 `json:"net_sek"`
	VATSEK float64 `json:"vat_sek"`
	Count  int     `json:"count"`
}

type VATTotals struct {
	NetSEK   float64 `json:"net_sek"`
	VATSEK   float64 `json:"vat_sek"`
	GrossSEK float64 `json:"gross_sek"`
}

type VATPeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type VATReport struct {
	Period         VATPeriod   `json:"period"`
	ByRate         []RateTotal `json:"by_rate"`
	Totals         VATTotals   `json:"totals"`
	IncomingVATSEK float64     `json:"incoming_vat_sek"`
	OutgoingVATSEK float64     `json:"outgoing_vat_sek"`
}

// VATReport aggregates matched documents for the VAT declaration. Period
// filtering is cash basis (transaction date); only manual and auto matches
// count; a document matched several times is counted once. Documents without
// a parseable rate breakdown land in the rate 0 bucket.
func (s *Service) VATReport(companyID int64, dateFrom, dateTo string) (*VATReport, error) {
	docs, err := s.documents.VATDocuments(companyID, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}

	report := &VATReport{Period: VATPeriod{From: dateFrom, To: dateTo}}
	byRate := map[float64]*RateTotal{}
	bucket := func(rate float64) *RateTotal {
		rt, ok := byRate[rate]
		if !ok {
			rt = &RateTotal{Rate: rate}
			byRate[rate] = rt
		}
		return rt
	}

	for _, doc := range docs {
		if !doc.VATSEK.Valid && !doc.NetSEK.Valid {
			continue
		}
		vatSEK := doc.VATSEK.Float64
		netSEK := doc.NetSEK.Float64
		grossSEK := doc.GrossSEK.Float64
		if !doc.GrossSEK.Valid {
			grossSEK = doc.GrossAmount.Float64
		}

		report.Totals.NetSEK += netSEK
		report.Totals.VATSEK += vatSEK
		report.Totals.GrossSEK += grossSEK

		if doc.DocType == models.DocTypeOutgoingInvoice {
			report.OutgoingVATSEK += vatSEK
		} else {
			report.IncomingVATSEK += vatSEK
		}

		lines, err := models.ParseVATBreakdown(doc.BreakdownJSON.String)
		if err != nil {
			s.log.Warn().Err(err).Int64("document_id", doc.DocID).
				Msg("unparseable VAT breakdown, using document totals")
			rt := bucket(0)
			rt.NetSEK += netSEK
			rt.VATSEK += vatSEK
			rt.Count++
			continue
		}
		if len(lines) == 0 {
			if vatSEK != 0 {
				rt := bucket(0)
				rt.NetSEK += netSEK
				rt.VATSEK += vatSEK
				rt.Count++
			}
			continue
		}

		// Breakdown amounts are in the document currency; scale by the
		// document's own gross ratio for foreign currencies.
		fxRate := 1.0
		foreign := doc.Currency.Valid && doc.Currency.String != "SEK"
		if foreign && doc.GrossAmount.Valid && doc.GrossAmount.Float64 != 0 {
			fxRate = doc.GrossSEK.Float64 / doc.GrossAmount.Float64
		}

		for _, line := range lines {
			net := line.Net
			vat := line.VAT
			if foreign {
				net = round2(net * fxRate)
				vat = round2(vat * fxRate)
			}
			rt := bucket(line.Rate)
			rt.NetSEK += net
			rt.VATSEK += vat
			rt.Count++
		}
	}

	for _, rt := range byRate {
		rt.NetSEK = round2(rt.NetSEK)
		rt.VATSEK = round2(rt.VATSEK)
		report.ByRate = append(report.ByRate, *rt)
	}
	sort.Slice(report.ByRate, func(i, j int) bool {
		return report.ByRate[i].Rate < report.ByRate[j].Rate
	})

	report.Totals.NetSEK = round2(report.Totals.NetSEK)
	report.Totals.VATSEK = round2(report.Totals.VATSEK)
	report.Totals.GrossSEK = round2(report.Totals.GrossSEK)
	report.IncomingVATSEK = round2(report.IncomingVATSEK)
	report.OutgoingVATSEK = round2(report.OutgoingVATSEK)
	return report, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
