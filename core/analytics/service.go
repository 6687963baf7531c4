package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/institution"
)

const summaryKey = "analytics:summary"

var reportColumns = []string{
	"id", "institution_id", "institution_name", "period", "installment_number", "amount",
	"status", "auto_approved", "distribution_date", "processed_at", "transaction_hash",
}

// Cache stores serialized values. Get reports false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Summary struct {
	Institutions          int             `json:"institutions"`
	EligibleInstitutions  int             `json:"eligible_institutions"`
	SuspendedInstitutions int             `json:"suspended_institutions"`
	InstitutionsByType    map[string]int  `json:"institutions_by_type"`
	ActiveStudents        int             `json:"active_students"`
	AverageScore          decimal.Decimal `json:"average_eligibility_score"`
	DistributionsByStatus map[string]int  `json:"distributions_by_status"`
	TotalDistributed      decimal.Decimal `json:"total_distributed"`
	GeneratedAt           time.Time       `json:"generated_at"`
}

// Report describes a written distributions report.
type Report struct {
	Rows  int
	Total decimal.Decimal
}

type (
	Service interface {
		// Summary returns the foundation dashboard figures, from the cache when possible.
		Summary(ctx context.Context) (Summary, error)
		// DistributionReport writes the matching distributions to w as CSV.
		DistributionReport(ctx context.Context, w io.Writer, filter *distribution.QueryFilter) (Report, error)
		// SendDistributionReport emails the report of a period as a CSV attachment.
		SendDistributionReport(ctx context.Context, period core.Period, to ...mail.Address) (Report, error)
		distribution.Observer
	}

	service struct {
		institutionRepo  institution.Repository
		distributionRepo distribution.Repository
		cache            Cache // optional
		ttl              time.Duration
		locale           string
		mailSvc          core.EmailService
		logger           core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	institutionRepo institution.Repository,
	distributionRepo distribution.Repository,
	cache Cache,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) Service {
	return &service{
		institutionRepo:  institutionRepo,
		distributionRepo: distributionRepo,
		cache:            cache,
		ttl:              conf.Redis.AnalyticsTTL,
		locale:           conf.Locale,
		mailSvc:          mailSvc,
		logger:           logger,
	}
}

func (svc *service) Summary(ctx context.Context) (Summary, error) {
	if svc.cache != nil {
		raw, ok, err := svc.cache.Get(ctx, summaryKey)
		if err != nil {
			svc.logger.Warn("reading cached summary", err)
		} else if ok {
			var s Summary
			if err = json.Unmarshal(raw, &s); err == nil {
				return s, nil
			}
			svc.logger.Warn("decoding cached summary", err)
		}
	}

	s, err := svc.compute(ctx)
	if err != nil {
		return Summary{}, err
	}

	if svc.cache != nil {
		raw, err := json.Marshal(s)
		if err == nil {
			err = svc.cache.Set(ctx, summaryKey, raw, svc.ttl)
		}
		if err != nil {
			svc.logger.Warn("caching summary", err)
		}
	}
	return s, nil
}

func (svc *service) compute(ctx context.Context) (Summary, error) {
	insts, err := svc.institutionRepo.QueryInstitutions(ctx, nil, nil)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying institutions")
	}
	ds, err := svc.distributionRepo.QueryDistributions(ctx, nil, nil)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying distributions")
	}

	s := Summary{
		Institutions:          len(insts),
		InstitutionsByType:    make(map[string]int),
		AverageScore:          decimal.Zero,
		DistributionsByStatus: make(map[string]int),
		TotalDistributed:      decimal.Zero,
		GeneratedAt:           core.NowFunc(),
	}
	for _, typ := range institution.Types {
		s.InstitutionsByType[typ] = 0
	}
	for _, st := range distribution.Statuses {
		s.DistributionsByStatus[string(st)] = 0
	}

	scoreSum := 0
	for _, inst := range insts {
		s.InstitutionsByType[inst.Type]++
		scoreSum += inst.EligibilityScore
		if inst.Suspended {
			s.SuspendedInstitutions++
			continue
		}
		s.ActiveStudents += inst.StudentCount
		if inst.Status == eligibility.StatusEligible {
			s.EligibleInstitutions++
		}
	}
	if len(insts) > 0 {
		s.AverageScore = decimal.NewFromInt(int64(scoreSum)).Div(decimal.NewFromInt(int64(len(insts)))).Round(2)
	}

	for _, d := range ds {
		s.DistributionsByStatus[string(d.Status)]++
		if d.Status == distribution.StatusCompleted {
			s.TotalDistributed = s.TotalDistributed.Add(d.Amount)
		}
	}
	return s, nil
}

// DistributionFinalized drops the cached summary.
func (svc *service) DistributionFinalized(ctx context.Context, d distribution.Distribution) {
	if svc.cache == nil {
		return
	}
	if err := svc.cache.Delete(ctx, summaryKey); err != nil {
		svc.logger.Warn("invalidating cached summary", "distribution_id", d.ID, err)
	}
}

func (svc *service) DistributionReport(ctx context.Context, w io.Writer, filter *distribution.QueryFilter) (Report, error) {
	ds, err := svc.distributionRepo.QueryDistributions(ctx, filter, []core.DBOrdering{
		{Field: "distribution_date", Ascending: true},
		{Field: "installment_number", Ascending: true},
	})
	if err != nil {
		return Report{}, errors.Wrap(err, "querying distributions")
	}

	rep := Report{Rows: len(ds), Total: decimal.Zero}
	if len(ds) == 0 {
		_, err = io.WriteString(w, strings.Join(reportColumns, ",")+"\n")
		return rep, errors.Wrap(err, "writing report")
	}

	names := make(map[string]string)
	records := make([][]string, 0, len(ds)+1)
	records = append(records, reportColumns)
	for _, d := range ds {
		name, ok := names[d.InstitutionID]
		if !ok {
			inst, err := svc.institutionRepo.GetInstitution(ctx, d.InstitutionID)
			if err != nil && !core.IsNotFound(err) {
				return Report{}, errors.Wrap(err, "finding institution")
			}
			name = inst.Name
			names[d.InstitutionID] = name
		}

		processedAt := ""
		if d.ProcessedAt != nil {
			processedAt = d.ProcessedAt.UTC().Format(time.RFC3339)
		}
		if d.Status != distribution.StatusFailed {
			rep.Total = rep.Total.Add(d.Amount)
		}
		records = append(records, []string{
			d.ID,
			d.InstitutionID,
			name,
			d.Period().String(),
			strconv.Itoa(d.InstallmentNumber),
			d.Amount.StringFixed(2),
			string(d.Status),
			strconv.FormatBool(d.AutoApproved),
			d.DistributionDate.UTC().Format("2006-01-02"),
			processedAt,
			d.TransactionHash,
		})
	}

	// every column stays a string so amounts and IDs are written untouched
	df := dataframe.LoadRecords(records, dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	if df.Err != nil {
		return Report{}, errors.Wrap(df.Err, "building report")
	}
	if err = df.WriteCSV(w); err != nil {
		return Report{}, errors.Wrap(err, "writing report")
	}
	return rep, nil
}

func (svc *service) SendDistributionReport(ctx context.Context, period core.Period, to ...mail.Address) (Report, error) {
	if err := period.Validate(); err != nil {
		return Report{}, err
	}
	if len(to) == 0 {
		return Report{}, core.NewValidationError(nil, core.FieldError{Field: "to", Error: "at least one recipient is required"})
	}

	var buf bytes.Buffer
	rep, err := svc.DistributionReport(ctx, &buf, &distribution.QueryFilter{Year: period.Year, Month: period.Month})
	if err != nil {
		return Report{}, err
	}

	msg := &core.EmailMessage{
		To:           to,
		Subject:      "Distributions report " + period.String(),
		TemplateName: "distributions_report",
		TemplateData: map[string]interface{}{
			"Period": period.String(),
			"Count":  rep.Rows,
			"Total":  core.FormatAmount(svc.locale, rep.Total),
		},
	}
	if err = msg.Attach(&buf, "distributions-"+period.String()+".csv", "text/csv"); err != nil {
		return Report{}, err
	}
	svc.mailSvc.SendMessages(msg)
	return rep, nil
}
