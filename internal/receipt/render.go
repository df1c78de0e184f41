// Package receipt renders PDF receipts for settled payment orders.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Data is everything printed on a receipt.
type Data struct {
	Issuer           string
	SchoolName       string
	OrderID          string
	TrackingID       string
	PlanName         string
	BillingPeriod    string
	ServiceStart     time.Time
	ServiceEnd       time.Time
	DatePaid         time.Time
	PaymentMethod    string
	ConfirmationCode string
	Amount           string
}

const dateLayout = "02 Jan 2006"

// Render lays out a single page receipt.
func Render(data Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(14,
		text.NewCol(8, data.Issuer, props.Text{Size: 14, Style: fontstyle.Bold}),
		text.NewCol(4, "Receipt", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(26,
		col.New(6).Add(
			text.New("Receipt for", props.Text{Style: fontstyle.Bold}),
			text.New(data.SchoolName, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Order: "+data.OrderID, props.Text{Top: 0, Align: align.Right, Size: 9}),
			text.New("Tracking: "+orDash(data.TrackingID), props.Text{Top: 4, Align: align.Right, Size: 9}),
			text.New("Date paid: "+formatDate(data.DatePaid), props.Text{Top: 8, Align: align.Right, Size: 9}),
			text.New("Method: "+orDash(data.PaymentMethod), props.Text{Top: 12, Align: align.Right, Size: 9}),
			text.New("Confirmation: "+orDash(data.ConfirmationCode), props.Text{Top: 16, Align: align.Right, Size: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	m.AddRow(12,
		col.New(8).Add(
			text.New(fmt.Sprintf("%s plan, %s", data.PlanName, data.BillingPeriod), props.Text{Size: 9}),
			text.New(formatDate(data.ServiceStart)+" to "+formatDate(data.ServiceEnd), props.Text{Size: 8, Top: 4}),
		),
		text.NewCol(4, data.Amount, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(2, line.NewCol(12))
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Paid", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, data.Amount, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
