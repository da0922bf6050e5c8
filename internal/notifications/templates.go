package notifications

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/wellbeing-clinic/booking/internal/models"
)

var clientTmpl = template.Must(template.New("client").Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Your appointment is confirmed</h2>
<p>Dear {{.ClientName}},</p>
<p>Thank you for booking with {{.Clinic}}. Your session is scheduled for <strong>{{.Date}}</strong> at <strong>{{.Time}}</strong>.</p>
<table cellpadding="4">
<tr><td>Booking reference</td><td><strong>{{.ShortReference}}</strong></td></tr>
<tr><td>Service</td><td>{{.ServiceID}}</td></tr>
<tr><td>Amount paid</td><td>{{.Price}} BDT</td></tr>
{{if .PromoCode}}<tr><td>Promo code</td><td>{{.PromoCode}}</td></tr>{{end}}
<tr><td>Transaction ID</td><td>{{.TrxID}}</td></tr>
</table>
<p>Please quote your booking reference if you need to contact us.</p>
</body></html>`))

var operatorTmpl = template.Must(template.New("operator").Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>New appointment {{.ShortReference}}</h2>
<table cellpadding="4">
<tr><td>Client</td><td>{{.ClientName}} &lt;{{.ClientEmail}}&gt;, {{.ClientPhone}}</td></tr>
<tr><td>Counselor</td><td>{{.CounselorID}}</td></tr>
<tr><td>Service</td><td>{{.ServiceID}}</td></tr>
<tr><td>Slot</td><td>{{.Date}} {{.Time}}</td></tr>
<tr><td>Amount</td><td>{{.Price}} BDT (list {{.BasePrice}}){{if .PromoCode}} with {{.PromoCode}}{{end}}</td></tr>
<tr><td>Transaction ID</td><td>{{.TrxID}}</td></tr>
{{if .Notes}}<tr><td>Notes</td><td>{{.Notes}}</td></tr>{{end}}
</table>
</body></html>`))

type view struct {
	Clinic         string
	ShortReference string
	ClientName     string
	ClientEmail    string
	ClientPhone    string
	CounselorID    string
	ServiceID      string
	Date           string
	Time           string
	Price          string
	BasePrice      string
	PromoCode      string
	TrxID          string
	Notes          string
}

func newView(clinic string, a *models.Appointment) view {
	return view{
		Clinic:         clinic,
		ShortReference: a.ShortReference,
		ClientName:     a.ClientName,
		ClientEmail:    a.ClientEmail,
		ClientPhone:    a.ClientPhone,
		CounselorID:    a.CounselorID,
		ServiceID:      a.ServiceID,
		Date:           a.Date,
		Time:           a.Time,
		Price:          a.Price.StringFixed(2),
		BasePrice:      a.BasePrice.StringFixed(2),
		PromoCode:      a.PromoCode,
		TrxID:          a.TrxID,
		Notes:          a.Notes,
	}
}

// ClientConfirmation renders the subject and HTML body sent to the client.
func ClientConfirmation(clinic string, a *models.Appointment) (string, string, error) {
	var buf bytes.Buffer
	if err := clientTmpl.Execute(&buf, newView(clinic, a)); err != nil {
		return "", "", fmt.Errorf("render client email: %w", err)
	}
	return fmt.Sprintf("Appointment confirmed: %s on %s at %s", a.ShortReference, a.Date, a.Time), buf.String(), nil
}

// OperatorConfirmation renders the subject and HTML body sent to the clinic.
func OperatorConfirmation(clinic string, a *models.Appointment) (string, string, error) {
	var buf bytes.Buffer
	if err := operatorTmpl.Execute(&buf, newView(clinic, a)); err != nil {
		return "", "", fmt.Errorf("render operator email: %w", err)
	}
	return fmt.Sprintf("New booking %s: %s, %s %s", a.ShortReference, a.ClientName, a.Date, a.Time), buf.String(), nil
}
