package render

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Document is the printable view of a tax invoice. Amounts are preformatted.
type Document struct {
	Title         string
	InvoiceNumber string
	IssueDate     string
	Period        string
	Status        string

	SupplierName string
	SellerRef    string
	BankDetails  string

	Lines []Line

	Supply string
	Vat    string
	Total  string
}

type Line struct {
	Description string
	Sales       string
	Fee         string
	Vat         string
}

type Renderer interface {
	Render(ctx context.Context, doc Document) (io.Reader, error)
}

type PDFRenderer struct{}

func New() Renderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, doc Document) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, doc.Title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Issued: "+doc.IssueDate, props.Text{Top: 4}),
			text.New("Period: "+doc.Period, props.Text{Top: 8}),
			text.New("Status: "+doc.Status, props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New(doc.SupplierName, props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New("Seller "+doc.SellerRef, props.Text{Top: 5, Align: align.Right}),
			text.New(doc.BankDetails, props.Text{Top: 10, Size: 8, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Sales", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Fee", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "VAT", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range doc.Lines {
		m.AddRow(8,
			text.NewCol(6, line.Description, props.Text{Size: 9}),
			text.NewCol(2, line.Sales, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Fee, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Vat, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Supply", props.Text{Size: 9}),
		text.NewCol(2, doc.Supply, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "VAT", props.Text{Size: 9}),
		text.NewCol(2, doc.Vat, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, doc.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(out.GetBytes()), nil
}
