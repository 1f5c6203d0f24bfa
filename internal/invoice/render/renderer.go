package render

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Data is the fully formatted content of one printable invoice. All
// money values arrive pre-formatted; the renderer does layout only.
type Data struct {
	UtilityName    string
	UtilityAddress string

	InvoiceNumber string
	Period        string
	IssueDate     string
	DueDate       string
	Status        string

	CustomerName  string
	AccountNumber string

	PreviousReading int64
	CurrentReading  int64
	Consumption     int64

	Lines []Line
	Total string
}

// Line is one charge row on the invoice.
type Line struct {
	Description string
	Amount      string
}

type Renderer interface {
	Render(ctx context.Context, data Data) ([]byte, error)
}

type marotoRenderer struct{}

func New() Renderer {
	return &marotoRenderer{}
}

func (r *marotoRenderer) Render(ctx context.Context, data Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(12, "Water Bill", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Invoice number: "+data.InvoiceNumber, props.Text{Top: 0}),
			text.New("Billing period: "+data.Period, props.Text{Top: 4}),
			text.New("Date of issue: "+data.IssueDate, props.Text{Top: 8}),
			text.New("Date due: "+data.DueDate, props.Text{Top: 12}),
			text.New("Status: "+data.Status, props.Text{Top: 16}),
		),
		col.New(6).Add(
			text.New(data.UtilityName, props.Text{Style: fontstyle.Bold}),
			text.New(data.UtilityAddress, props.Text{Top: 5}),
		),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(data.CustomerName, props.Text{Top: 5}),
			text.New("Account "+data.AccountNumber, props.Text{Top: 9}),
		),
		col.New(6),
	)

	m.AddRow(10,
		text.NewCol(6, "Meter reading", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(6, "", props.Text{Size: 9}),
	)
	m.AddRow(18,
		col.New(12).Add(
			text.New(fmt.Sprintf("Previous: %d", data.PreviousReading), props.Text{Size: 9}),
			text.New(fmt.Sprintf("Current: %d", data.CurrentReading), props.Text{Size: 9, Top: 4}),
			text.New(fmt.Sprintf("Consumption: %d units", data.Consumption), props.Text{Size: 9, Top: 8}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(8, line.Description, props.Text{Size: 9}),
			text.NewCol(4, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(2, data.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
