package domain

import (
	"context"
	"io"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	IssueForSettlement(ctx context.Context, settlementID snowflake.ID) (TaxInvoice, error)
	IssueForItem(ctx context.Context, itemID snowflake.ID) (TaxInvoice, error)
	Cancel(ctx context.Context, invoiceID snowflake.ID, reason string) (TaxInvoice, error)
	Get(ctx context.Context, invoiceID snowflake.ID) (TaxInvoice, error)
	RenderPDF(ctx context.Context, invoiceID snowflake.ID) (io.Reader, error)
}
