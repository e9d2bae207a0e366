package reminders

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

const DefaultTemplate = `Hi {{.PatientName}}, this is a reminder of your appointment` +
	`{{if .ProfessionalName}} with {{.ProfessionalName}}{{end}}` +
	` on {{.Date}} at {{.Time}}` +
	`{{if .Clinic}} at {{.Clinic}}{{end}}.`

type messageData struct {
	PatientName      string
	ProfessionalName string
	Title            string
	Date             string
	Time             string
	Clinic           string
}

// Formatter renders reminder bodies in a fixed zone.
type Formatter struct {
	tmpl   *template.Template
	clinic string
	loc    *time.Location
}

func NewFormatter(text, clinic string, loc *time.Location) (*Formatter, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("reminder").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("reminders: parse template: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{tmpl: tmpl, clinic: clinic, loc: loc}, nil
}

func (f *Formatter) Format(d model.ReminderDetails) (string, error) {
	start := d.Appointment.StartTime.In(f.loc)
	name := d.PatientName
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err := f.tmpl.Execute(&buf, messageData{
		PatientName:      name,
		ProfessionalName: d.ProfessionalName,
		Title:            d.Appointment.Title,
		Date:             start.Format("Mon 02 Jan 2006"),
		Time:             start.Format("15:04"),
		Clinic:           f.clinic,
	})
	if err != nil {
		return "", fmt.Errorf("reminders: render: %w", err)
	}
	return buf.String(), nil
}
