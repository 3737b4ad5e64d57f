package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/config"
	"github.com/smallbiznis/contentmarket/internal/feepolicy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Defaults *config.FeeDefaultsHolder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	defaults *config.FeeDefaultsHolder
	validate *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("feepolicy.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		defaults: p.Defaults,
		validate: validator.New(),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.FeePolicy, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return domain.FeePolicy{}, classifyValidation(err)
	}
	if req.ScopeType == domain.ScopeGlobal && req.ScopeRef != 0 {
		return domain.FeePolicy{}, domain.ErrInvalidScope
	}

	from := req.EffectiveFrom.UTC()
	var to *time.Time
	if req.EffectiveTo != nil {
		end := req.EffectiveTo.UTC()
		if !end.After(from) {
			return domain.FeePolicy{}, domain.ErrInvalidPeriod
		}
		to = &end
	}

	platform, err := parseRate("platformFeeRate", req.PlatformFeeRate)
	if err != nil {
		return domain.FeePolicy{}, err
	}
	gateway, err := parseRate("gatewayFeeRate", req.GatewayFeeRate)
	if err != nil {
		return domain.FeePolicy{}, err
	}

	now := s.clock.Now()
	policy := domain.FeePolicy{
		ID:              s.genID.Generate(),
		Name:            req.Name,
		ScopeType:       req.ScopeType,
		ScopeRef:        req.ScopeRef,
		PlatformFeeRate: platform,
		GatewayFeeRate:  gateway,
		EffectiveFrom:   from,
		EffectiveTo:     to,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	optional := []struct {
		field string
		raw   string
		dst   **decimal.Decimal
	}{
		{"platformFeeDisplayRate", req.PlatformFeeDisplayRate, &policy.PlatformFeeDisplayRate},
		{"platformFeeBaselineRate", req.PlatformFeeBaselineRate, &policy.PlatformFeeBaselineRate},
		{"gatewayFeeDisplayRate", req.GatewayFeeDisplayRate, &policy.GatewayFeeDisplayRate},
		{"gatewayFeeBaselineRate", req.GatewayFeeBaselineRate, &policy.GatewayFeeBaselineRate},
		{"vatRate", req.VatRate, &policy.VatRate},
	}
	for _, o := range optional {
		if strings.TrimSpace(o.raw) == "" {
			continue
		}
		rate, err := parseRate(o.field, o.raw)
		if err != nil {
			return domain.FeePolicy{}, err
		}
		*o.dst = &rate
	}

	if err := s.repo.Insert(ctx, s.db, &policy); err != nil {
		return domain.FeePolicy{}, err
	}
	s.log.Info("fee policy created",
		zap.String("policy_id", policy.ID.String()),
		zap.String("scope_type", string(policy.ScopeType)),
		zap.String("scope_ref", policy.ScopeRef.String()),
		zap.Time("effective_from", policy.EffectiveFrom),
	)
	return policy, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.FeePolicy, error) {
	policy, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.FeePolicy{}, err
	}
	if policy == nil {
		return domain.FeePolicy{}, domain.ErrNotFound
	}
	return *policy, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	changed, err := s.repo.Deactivate(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		return domain.ErrNotFound
	}
	s.log.Info("fee policy deactivated", zap.String("policy_id", id.String()))
	return nil
}

func (s *Service) FindEffectivePolicy(ctx context.Context, scope domain.ScopeType, ref snowflake.ID, at time.Time) (*domain.FeePolicy, error) {
	switch scope {
	case domain.ScopeGlobal:
		ref = 0
	case domain.ScopeSeller:
		if ref == 0 {
			return nil, domain.ErrInvalidScope
		}
	default:
		return nil, domain.ErrInvalidScope
	}
	return s.repo.FindEffective(ctx, s.db, scope, ref, at.UTC())
}

func (s *Service) ResolveSnapshot(ctx context.Context, sellerID snowflake.ID, at time.Time) (domain.Snapshot, error) {
	defaults := s.defaults.Get()

	if sellerID != 0 {
		policy, err := s.FindEffectivePolicy(ctx, domain.ScopeSeller, sellerID, at)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if policy != nil {
			return policy.Snapshot(defaults.VatRate), nil
		}
	}

	policy, err := s.FindEffectivePolicy(ctx, domain.ScopeGlobal, 0, at)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if policy != nil {
		return policy.Snapshot(defaults.VatRate), nil
	}

	return domain.DefaultSnapshot(defaults.PlatformFeeRate, defaults.GatewayFeeRate, defaults.VatRate), nil
}

func (s *Service) SnapshotOf(ctx context.Context, id snowflake.ID) (domain.FeePolicy, domain.Snapshot, error) {
	policy, err := s.Get(ctx, id)
	if err != nil {
		return domain.FeePolicy{}, domain.Snapshot{}, err
	}
	return policy, policy.Snapshot(s.defaults.Get().VatRate), nil
}

func parseRate(field, raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrInvalidRate, field)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: %s must be in [0, 1)", domain.ErrInvalidRate, field)
	}
	return rate, nil
}

func classifyValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.StructField() {
	case "Name":
		return domain.ErrInvalidName
	case "ScopeType", "ScopeRef":
		return domain.ErrInvalidScope
	case "EffectiveFrom":
		return domain.ErrInvalidPeriod
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidRate, fe.Field())
}
