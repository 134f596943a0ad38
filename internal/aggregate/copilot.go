package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/model"
	"github.com/devpulse/devpulse/internal/storage"
)

// SeatPricePerMonth is the per-seat monthly license price in USD used for
// the derived cost fields.
const SeatPricePerMonth = 19.0

// SeatUsage is one billing cycle's seat utilization for a team.
type SeatUsage struct {
	TotalSeats        int
	ActiveThisCycle   int
	InactiveThisCycle int
}

// SeatCosts is the derived cost view of a SeatUsage.
type SeatCosts struct {
	UtilizationRate   float64
	MonthlyCost       float64
	WastedSpend       float64
	CostPerActiveUser float64
}

// DeriveSeatCosts computes the cost fields for one usage sample. Ratios with
// an empty denominator come out as 0.
func DeriveSeatCosts(usage SeatUsage) SeatCosts {
	costs := SeatCosts{
		MonthlyCost: round2(float64(usage.TotalSeats) * SeatPricePerMonth),
		WastedSpend: round2(float64(usage.InactiveThisCycle) * SeatPricePerMonth),
	}
	if usage.TotalSeats > 0 {
		costs.UtilizationRate = round2(float64(usage.ActiveThisCycle) / float64(usage.TotalSeats) * 100)
	}
	if usage.ActiveThisCycle > 0 {
		costs.CostPerActiveUser = round2(costs.MonthlyCost / float64(usage.ActiveThisCycle))
	}
	return costs
}

// SeatBillingClient is the slice of the Copilot billing API the snapshot
// service consumes.
type SeatBillingClient interface {
	GetCopilotBilling(ctx context.Context, org string) (*github.CopilotOrganizationDetails, *github.Response, error)
}

// SeatSnapshotService captures one seat utilization snapshot per team per
// day from the organization's Copilot billing summary.
type SeatSnapshotService struct {
	Store   storage.Store
	Billing SeatBillingClient
	Logger  *zap.Logger
	Now     func() time.Time
}

// Capture fetches the current billing summary for org and upserts the
// team's snapshot for today. Re-capturing the same day overwrites it.
func (s SeatSnapshotService) Capture(ctx context.Context, teamID uint, org string) (*model.CopilotSeatSnapshot, error) {
	details, _, err := s.Billing.GetCopilotBilling(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("fetch copilot billing for %s: %w", org, err)
	}
	if details == nil || details.SeatBreakdown == nil {
		return nil, fmt.Errorf("copilot billing for %s has no seat breakdown", org)
	}

	usage := SeatUsage{
		TotalSeats:        details.SeatBreakdown.Total,
		ActiveThisCycle:   details.SeatBreakdown.ActiveThisCycle,
		InactiveThisCycle: details.SeatBreakdown.InactiveThisCycle,
	}
	snapshot := s.BuildSnapshot(teamID, usage)
	if err := s.Store.UpsertCopilotSeatSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("upsert seat snapshot: %w", err)
	}

	if s.Logger != nil {
		s.Logger.Info("copilot seat snapshot captured",
			zap.Uint("team_id", teamID),
			zap.String("org", org),
			zap.Int("total_seats", usage.TotalSeats),
			zap.Float64("utilization", snapshot.UtilizationRate),
		)
	}
	return snapshot, nil
}

// BuildSnapshot assembles the persisted snapshot row for one usage sample,
// stamped with today's date.
func (s SeatSnapshotService) BuildSnapshot(teamID uint, usage SeatUsage) *model.CopilotSeatSnapshot {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	capturedOn := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	costs := DeriveSeatCosts(usage)
	return &model.CopilotSeatSnapshot{
		TeamID:            teamID,
		CapturedOn:        capturedOn,
		TotalSeats:        usage.TotalSeats,
		ActiveThisCycle:   usage.ActiveThisCycle,
		InactiveThisCycle: usage.InactiveThisCycle,
		UtilizationRate:   costs.UtilizationRate,
		MonthlyCost:       costs.MonthlyCost,
		WastedSpend:       costs.WastedSpend,
		CostPerActiveUser: costs.CostPerActiveUser,
	}
}
