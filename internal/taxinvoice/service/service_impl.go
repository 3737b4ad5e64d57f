package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/config"
	settlementdomain "github.com/smallbiznis/contentmarket/internal/settlement/domain"
	"github.com/smallbiznis/contentmarket/internal/taxinvoice/domain"
	"github.com/smallbiznis/contentmarket/internal/taxinvoice/render"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"github.com/smallbiznis/contentmarket/pkg/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg         config.Config
	Txn         *txn.Manager
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Settlements settlementdomain.Service
	Renderer    render.Renderer
	IssuePolicy *retry.Policy `optional:"true"`
}

// DefaultIssuePolicy bounds how often issuance is replayed after another
// transaction claimed the settlement first.
func DefaultIssuePolicy() retry.Policy {
	return retry.Exponential(3, 20*time.Millisecond, 2)
}

type Service struct {
	supplier    string
	txn         *txn.Manager
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	settlements settlementdomain.Service
	renderer    render.Renderer
	issue       retry.Policy
}

func New(p Params) domain.Service {
	policy := DefaultIssuePolicy()
	if p.IssuePolicy != nil {
		policy = *p.IssuePolicy
	}
	return &Service{
		supplier:    p.Cfg.AppName,
		txn:         p.Txn,
		log:         p.Log.Named("taxinvoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		settlements: p.Settlements,
		renderer:    p.Renderer,
		issue:       policy,
	}
}

// IssueForSettlement bills a settlement's fee totals once it is being paid
// out. Settlements with per-item invoices cannot also get a monthly one.
func (s *Service) IssueForSettlement(ctx context.Context, settlementID snowflake.ID) (domain.TaxInvoice, error) {
	settlement, err := s.settlements.Get(ctx, settlementID)
	if err != nil {
		return domain.TaxInvoice{}, err
	}
	if settlement.Status != settlementdomain.StatusProcessing && settlement.Status != settlementdomain.StatusCompleted {
		return domain.TaxInvoice{}, domain.ErrSettlementNotClosing
	}

	invoice := domain.NewMonthly(s.genID.Generate(), settlement, s.clock.Now())
	err = s.issueFor(ctx, settlement.ID, func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.repo.FindIssuedByKey(ctx, tx, domain.MonthlyKey(settlement.ID))
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyIssued
		}
		count, err := s.repo.CountIssuedTransactions(ctx, tx, settlement.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrCoveredByTransaction
		}
		return s.repo.Insert(ctx, tx, &invoice)
	})
	if err != nil {
		return domain.TaxInvoice{}, err
	}
	s.logIssued(invoice)
	return invoice, nil
}

// IssueForItem bills the fees of one purchase. Refunded items are rejected.
func (s *Service) IssueForItem(ctx context.Context, itemID snowflake.ID) (domain.TaxInvoice, error) {
	item, err := s.settlements.GetItem(ctx, itemID)
	if err != nil {
		return domain.TaxInvoice{}, err
	}
	if item.IsRefunded {
		return domain.TaxInvoice{}, domain.ErrItemRefunded
	}

	invoice := domain.NewTransaction(s.genID.Generate(), item, s.clock.Now())
	err = s.issueFor(ctx, item.SettlementID, func(ctx context.Context, tx *gorm.DB) error {
		monthly, err := s.repo.FindIssuedByKey(ctx, tx, domain.MonthlyKey(item.SettlementID))
		if err != nil {
			return err
		}
		if monthly != nil {
			return domain.ErrCoveredByMonthly
		}
		existing, err := s.repo.FindIssuedByKey(ctx, tx, domain.TransactionKey(item.ID))
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyIssued
		}
		return s.repo.Insert(ctx, tx, &invoice)
	})
	if err != nil {
		return domain.TaxInvoice{}, err
	}
	s.logIssued(invoice)
	return invoice, nil
}

// issueFor runs fn in a transaction that first claims the settlement's issue
// guard. Losing the claim replays the whole transaction, so fn always checks
// against invoices committed by the winner.
func (s *Service) issueFor(ctx context.Context, settlementID snowflake.ID, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return retry.Run(ctx, s.issue, isIssueConflict, func(ctx context.Context) error {
		return s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
			if err := s.claim(ctx, tx, settlementID); err != nil {
				return err
			}
			return fn(ctx, tx)
		})
	})
}

func (s *Service) claim(ctx context.Context, tx *gorm.DB, settlementID snowflake.ID) error {
	now := s.clock.Now()
	guard, err := s.repo.FindGuard(ctx, tx, settlementID)
	if err != nil {
		return err
	}
	if guard == nil {
		return s.repo.InsertGuard(ctx, tx, &domain.IssueGuard{SettlementID: settlementID, UpdatedAt: now})
	}
	return s.repo.BumpGuard(ctx, tx, guard, now)
}

func isIssueConflict(err error) bool {
	return errors.Is(err, domain.ErrIssueConflict)
}

func (s *Service) Cancel(ctx context.Context, invoiceID snowflake.ID, reason string) (domain.TaxInvoice, error) {
	var result domain.TaxInvoice
	err := s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrNotFound
		}
		if err := invoice.Cancel(strings.TrimSpace(reason), s.clock.Now()); err != nil {
			return err
		}
		changed, err := s.repo.MarkCancelled(ctx, tx, invoice)
		if err != nil {
			return err
		}
		if !changed {
			return domain.ErrAlreadyCancelled
		}
		result = *invoice
		return nil
	})
	if err != nil {
		return domain.TaxInvoice{}, err
	}
	s.log.Info("tax invoice cancelled",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("invoice_number", result.InvoiceNumber),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, invoiceID snowflake.ID) (domain.TaxInvoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.txn.DB(), invoiceID)
	if err != nil {
		return domain.TaxInvoice{}, err
	}
	if invoice == nil {
		return domain.TaxInvoice{}, domain.ErrNotFound
	}
	return *invoice, nil
}

func (s *Service) RenderPDF(ctx context.Context, invoiceID snowflake.ID) (io.Reader, error) {
	invoice, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	settlement, err := s.settlements.Get(ctx, invoice.SettlementID)
	if err != nil {
		return nil, err
	}

	doc := render.Document{
		Title:         "Tax Invoice",
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.IssuedAt.Format("2006-01-02"),
		Period:        period(invoice),
		Status:        string(invoice.Status),
		SupplierName:  s.supplier,
		SellerRef:     invoice.SellerID.String(),
		BankDetails:   bankDetails(settlement),
		Supply:        invoice.SupplyAmount.StringFixed(2),
		Vat:           invoice.VatAmount.StringFixed(2),
		Total:         invoice.TotalAmount.StringFixed(2),
	}

	items, err := s.settlements.ListItems(ctx, invoice.SettlementID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.IsRefunded {
			continue
		}
		if invoice.ItemID != nil && *invoice.ItemID != item.ID {
			continue
		}
		doc.Lines = append(doc.Lines, render.Line{
			Description: item.ContentTitle,
			Sales:       fmt.Sprintf("%d", item.SalesAmount),
			Fee:         fmt.Sprintf("%d", item.PlatformFee+item.GatewayFee),
			Vat:         fmt.Sprintf("%d", item.FeeVat),
		})
	}

	s.log.Debug("rendering tax invoice",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("file", invoice.FileName()),
		zap.Int("lines", len(doc.Lines)),
	)
	return s.renderer.Render(ctx, doc)
}

func (s *Service) logIssued(invoice domain.TaxInvoice) {
	s.log.Info("tax invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("kind", string(invoice.Kind)),
		zap.String("settlement_id", invoice.SettlementID.String()),
		zap.String("total", invoice.TotalAmount.StringFixed(2)),
	)
}

func period(invoice domain.TaxInvoice) string {
	if invoice.Kind == domain.KindTransaction {
		return invoice.PeriodStart.Format("2006-01-02")
	}
	return invoice.PeriodStart.Format("2006-01-02") + " - " + invoice.PeriodEnd.AddDate(0, 0, -1).Format("2006-01-02")
}

func bankDetails(s settlementdomain.Settlement) string {
	if !s.HasBankAccount() {
		return ""
	}
	return fmt.Sprintf("%s %s (%s)", s.BankName, maskAccount(s.AccountNumber), s.AccountHolder)
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
