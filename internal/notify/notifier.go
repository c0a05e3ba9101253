package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"conti/internal/core"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/*.html.tmpl"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/*.txt.tmpl"))
)

// UserDirectory resolves the recipient of a schedule's emails.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (core.User, error)
}

// Notifier renders schedule emails and hands them to a Mailer.
type Notifier struct {
	mailer   Mailer
	users    UserDirectory
	from     string
	location *time.Location
}

func NewNotifier(mailer Mailer, users UserDirectory, from string, loc *time.Location) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		mailer:   mailer,
		users:    users,
		from:     from,
		location: loc,
	}
}

type confirmationData struct {
	Name          string
	Description   string
	Amount        string
	Kind          string
	TransactionID int64
	ExecutedOn    string
}

type reminderData struct {
	Name        string
	Description string
	Amount      string
	Kind        string
	DueDate     string
	LeadDays    int
	Automatic   bool
}

// SendExecutionConfirmation tells the owner that an occurrence was booked.
func (n *Notifier) SendExecutionConfirmation(ctx context.Context, s core.RecurringSchedule, tx core.Transaction) error {
	user, err := n.users.GetUser(ctx, s.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	data := confirmationData{
		Name:          user.Name,
		Description:   s.Description,
		Amount:        s.Amount.String(),
		Kind:          string(s.Kind),
		TransactionID: tx.ID,
		ExecutedOn:    tx.CreatedAt.In(s.Location(n.location)).Format(time.DateOnly),
	}
	subject := fmt.Sprintf("Recurring %s booked: %s", s.Kind, s.Description)
	return n.send(ctx, user, subject, "confirmation", data)
}

// SendReminder tells the owner that an occurrence is coming up on due.
func (n *Notifier) SendReminder(ctx context.Context, s core.RecurringSchedule, due core.Date) error {
	user, err := n.users.GetUser(ctx, s.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	data := reminderData{
		Name:        user.Name,
		Description: s.Description,
		Amount:      s.Amount.String(),
		Kind:        string(s.Kind),
		DueDate:     due.String(),
		LeadDays:    s.LeadDays(),
		Automatic:   s.AutomaticExecution,
	}
	subject := fmt.Sprintf("Upcoming %s on %s: %s", s.Kind, due.String(), s.Description)
	return n.send(ctx, user, subject, "reminder", data)
}

func (n *Notifier) send(ctx context.Context, user core.User, subject, name string, data any) error {
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html.tmpl", data); err != nil {
		return fmt.Errorf("render %s html: %w", name, err)
	}
	if err := textTemplates.ExecuteTemplate(&text, name+".txt.tmpl", data); err != nil {
		return fmt.Errorf("render %s text: %w", name, err)
	}

	id, err := n.mailer.Send(ctx, Email{
		From:    n.from,
		To:      []string{user.Email},
		Subject: subject,
		HTML:    html.String(),
		Text:    text.String(),
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "Email sent", "template", name, "user_id", user.ID, "message_id", id)
	return nil
}
