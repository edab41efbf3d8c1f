package reservation

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// MailKind distinguishes the two messages sent for every reservation.
type MailKind string

const (
	MailOwnerNotification    MailKind = "owner_notification"
	MailCustomerConfirmation MailKind = "customer_confirmation"

	ownerSubject        = "New Spot Reservation from Lennox Local Ads Flyer Website"
	confirmationSubject = "Your Lennox Local Ads Flyer Spot Reservation"
	brandName           = "Lennox Local Ads Flyer"
)

// MailJob is the payload handed to the mail worker through the queue.
type MailJob struct {
	ID            string    `json:"id"`
	Kind          MailKind  `json:"kind"`
	ReservationID string    `json:"reservationId"`
	To            string    `json:"to"`
	From          string    `json:"from,omitempty"`
	ReplyTo       string    `json:"replyTo,omitempty"`
	Subject       string    `json:"subject"`
	HTML          string    `json:"html"`
	CreatedAt     time.Time `json:"createdAt"`
}

var ownerTemplate = template.Must(template.New("owner").Parse(`<div class="container">
<h2>New Reservation Request</h2>
<div class="info">
<div class="field"><span class="label">Name:</span> <span class="value">{{.Name}}</span></div>
<div class="field"><span class="label">Phone:</span> <span class="value">{{.Phone}}</span></div>
<div class="field"><span class="label">Email:</span> <span class="value">{{.Email}}</span></div>
<div class="field"><span class="label">Company:</span> <span class="value">{{.Company}}</span></div>
<div class="field"><span class="label">Website:</span> <span class="value">{{.Website}}</span></div>
<div class="field"><span class="label">SMS consent:</span> <span class="value">{{.SMSConsent}}</span></div>
</div>
<h3>Comments:</h3>
<p>{{.Comments}}</p>
</div>`))

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<div class="container">
<h2>Thank you for your reservation, {{.FirstName}}!</h2>
<p>We have received your request to secure a spot in our upcoming direct mail campaign.</p>
<p>A member of our team will contact you shortly to confirm the details.</p>
<h3>Your submitted information:</h3>
<div class="info">
<div class="field"><span class="label">Name:</span> <span class="value">{{.Name}}</span></div>
<div class="field"><span class="label">Phone:</span> <span class="value">{{.Phone}}</span></div>
<div class="field"><span class="label">Email:</span> <span class="value">{{.Email}}</span></div>
<div class="field"><span class="label">Company:</span> <span class="value">{{.Company}}</span></div>
<div class="field"><span class="label">Comments:</span> <span class="value">{{.Comments}}</span></div>
</div>
<div class="footer">
<p>If you have any questions, please contact us at:</p>
<p>Phone: {{.ContactPhone}}</p>
<p>Email: {{.OwnerEmail}}</p>
<p>Thank you for choosing {{.Brand}}!</p>
</div>
</div>`))

type mailView struct {
	FirstName    string
	Name         string
	Phone        string
	Email        string
	Company      string
	Website      string
	Comments     string
	SMSConsent   string
	ContactPhone string
	OwnerEmail   string
	Brand        string
}

// mailPolicy limits outgoing bodies to the markup the templates emit.
func mailPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span", "h2", "h3", "p", "strong", "hr")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div", "span")
	return p
}

type composer struct {
	ownerEmail   string
	contactPhone string
	policy       *bluemonday.Policy
}

func newComposer(ownerEmail, contactPhone string) *composer {
	return &composer{ownerEmail: ownerEmail, contactPhone: contactPhone, policy: mailPolicy()}
}

func (c *composer) view(res Reservation) mailView {
	consent := "No"
	if res.SMSConsent {
		consent = "Yes"
	}
	return mailView{
		FirstName:    res.FirstName,
		Name:         res.FullName(),
		Phone:        res.Phone,
		Email:        res.Email,
		Company:      orDefault(res.Company, notProvided),
		Website:      orDefault(res.Website, notProvided),
		Comments:     orDefault(res.Comments, noComments),
		SMSConsent:   consent,
		ContactPhone: c.contactPhone,
		OwnerEmail:   c.ownerEmail,
		Brand:        brandName,
	}
}

// Owner builds the notification for the site owner. Replies go straight to the visitor.
func (c *composer) Owner(res Reservation) (MailJob, error) {
	body, err := c.render(ownerTemplate, c.view(res))
	if err != nil {
		return MailJob{}, err
	}
	return MailJob{
		Kind:          MailOwnerNotification,
		ReservationID: res.ID,
		To:            c.ownerEmail,
		ReplyTo:       res.Email,
		Subject:       ownerSubject,
		HTML:          body,
	}, nil
}

// Confirmation builds the receipt sent back to the visitor.
func (c *composer) Confirmation(res Reservation) (MailJob, error) {
	body, err := c.render(confirmationTemplate, c.view(res))
	if err != nil {
		return MailJob{}, err
	}
	return MailJob{
		Kind:          MailCustomerConfirmation,
		ReservationID: res.ID,
		To:            res.Email,
		From:          fmt.Sprintf("%s <%s>", brandName, c.ownerEmail),
		ReplyTo:       c.ownerEmail,
		Subject:       confirmationSubject,
		HTML:          body,
	}, nil
}

func (c *composer) render(tmpl *template.Template, view mailView) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render %s mail: %w", tmpl.Name(), err)
	}
	return c.policy.Sanitize(buf.String()), nil
}
