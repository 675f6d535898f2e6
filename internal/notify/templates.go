package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const (
	TemplateReminder    = "reminder"
	TemplateDischarge   = "discharge"
	TemplateObservation = "observation"
	TemplateGeneric     = "generic"
)

const layoutHTML = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { color: #fff; padding: 20px; text-align: center; }
.header.reminder, .header.generic { background-color: #4a6fa5; }
.header.discharge { background-color: #28a745; }
.header.observation { background-color: #ffc107; color: #333; }
.content { padding: 20px; background-color: #f9f9f9; }
.details { margin: 20px 0; padding: 15px; background-color: #fff; border-left: 4px solid #4a6fa5; }
.aspect { margin: 10px 0; padding: 10px; background-color: #f8f9fa; }
.footer { padding: 10px; text-align: center; font-size: 12px; color: #666; }
</style>
</head>
<body>
<div class="container">
<div class="header {{.Theme}}"><h1>{{.Title}}</h1></div>
<div class="content">
{{template "body" .Data}}
</div>
<div class="footer">
<p>Este es un mensaje automático del Sistema de Gestión Psicológica.</p>
<p>Por favor, no responda a este correo.</p>
</div>
</div>
</body>
</html>{{end}}`

const appointmentDetailsHTML = `{{define "details"}}<div class="details">
<p><strong>Fecha:</strong> {{.Date}}</p>
<p><strong>Hora:</strong> {{.Time}}</p>
<p><strong>Modalidad:</strong> {{if .Virtual}}Virtual{{else}}Presencial{{end}}</p>
{{if not .Virtual}}<p><strong>Ubicación:</strong> {{if .Location}}{{.Location}}{{else}}Consultorio asignado{{end}}</p>{{end}}
<p><strong>Psicólogo/a:</strong> {{.ClinicianName}}</p>
</div>
{{if and .Virtual .Location}}<p><strong>Enlace para la sesión virtual:</strong> <a href="{{.Location}}">{{.Location}}</a></p>{{end}}{{end}}`

var bodies = map[string]string{
	TemplateReminder: `{{define "body"}}<p>Estimado/a <strong>{{.RecipientName}}</strong>,</p>
<p>Le recordamos que tiene programada una cita de terapia psicológica:</p>
{{template "details" .}}
<p>Por favor, confirme su asistencia respondiendo a este correo o contactando a su terapeuta.</p>
<p>Si necesita reprogramar o cancelar su cita, hágalo con al menos {{.NoticeHours}} horas de anticipación.</p>{{end}}`,

	TemplateGeneric: `{{define "body"}}<p>Estimado/a <strong>{{.RecipientName}}</strong>,</p>
<p>{{.Intro}}</p>
{{template "details" .}}
{{if .PreviousDate}}<p>Fecha anterior: {{.PreviousDate}} a las {{.PreviousTime}}.</p>{{end}}
{{if .Reason}}<p><strong>Motivo:</strong> {{.Reason}}</p>{{end}}{{end}}`,

	TemplateDischarge: `{{define "body"}}<p>Estimado/a <strong>{{.PatientName}}</strong>,</p>
<p>Le informamos que se ha completado su proceso terapéutico en nuestro centro.</p>
<div class="details">
<p><strong>Fecha de alta:</strong> {{.DischargeDate}}</p>
<p><strong>Tipo de alta:</strong> {{.KindLabel}}</p>
<p><strong>Psicólogo/a responsable:</strong> {{.ClinicianName}}</p>
</div>
{{if .Recommendations}}<h3>Recomendaciones:</h3>
<p>{{.Recommendations}}</p>{{end}}
<p>Le agradecemos la confianza depositada en nosotros y le deseamos lo mejor en su continuo crecimiento personal.</p>
<p>Si en el futuro requiere apoyo psicológico, no dude en contactarnos nuevamente.</p>{{end}}`,

	TemplateObservation: `{{define "body"}}<p>Estimado/a <strong>{{.InternName}}</strong>,</p>
<p>Su supervisor {{.SupervisorName}} ha registrado una nueva observación sobre su desempeño.</p>
<div class="details">
<p><strong>Fecha:</strong> {{.Date}}</p>
<p><strong>Calificación general:</strong> {{.Score}}/10</p>
</div>
{{if .Aspects}}<h3>Aspectos evaluados:</h3>
{{range .Aspects}}<div class="aspect">
<p><strong>{{.Name}}:</strong> {{.Score}}/10</p>
{{if .Comment}}<p><em>{{.Comment}}</em></p>{{end}}
</div>
{{end}}{{end}}
<p>Revise su panel para ver los detalles completos y las recomendaciones de mejora.</p>
<p>Esta retroalimentación tiene como objetivo apoyar su desarrollo profesional.</p>{{end}}`,
}

var titles = map[string]string{
	TemplateReminder:    "Recordatorio de Cita",
	TemplateDischarge:   "Proceso de Alta Completado",
	TemplateObservation: "Nueva Observación de Supervisión",
	TemplateGeneric:     "Aviso de Cita",
}

type page struct {
	Title string
	Theme string
	Data  any
}

// Templates holds one parsed set per canonical message.
type Templates struct {
	sets map[string]*template.Template
}

func NewTemplates() (*Templates, error) {
	base, err := template.New("layout").Parse(layoutHTML)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if _, err := base.Parse(appointmentDetailsHTML); err != nil {
		return nil, fmt.Errorf("parse details: %w", err)
	}

	t := &Templates{sets: make(map[string]*template.Template, len(bodies))}
	for name, body := range bodies {
		set, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := set.Parse(body); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		t.sets[name] = set
	}
	return t, nil
}

// Render executes the named template. title overrides the default header.
func (t *Templates) Render(name, title string, data any) (string, error) {
	set, ok := t.sets[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	if title == "" {
		title = titles[name]
	}

	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, "layout", page{Title: title, Theme: name, Data: data}); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

type appointmentView struct {
	RecipientName string
	Intro         string
	Date          string
	Time          string
	Virtual       bool
	Location      string
	ClinicianName string
	PreviousDate  string
	PreviousTime  string
	Reason        string
	NoticeHours   int
}

type dischargeView struct {
	PatientName     string
	DischargeDate   string
	KindLabel       string
	ClinicianName   string
	Recommendations string
}

type observationView struct {
	InternName     string
	SupervisorName string
	Date           string
	Score          int
	Aspects        []ObservationAspect
}

var dischargeKinds = map[string]string{
	"terapeutica": "Alta Terapéutica (Objetivos cumplidos)",
	"abandono":    "Abandono del Tratamiento",
	"traslado":    "Traslado a otro centro",
	"graduacion":  "Graduación del Programa",
	"no_continua": "No Continúa el Tratamiento",
	"otro":        "Otro motivo",
}

func dischargeLabel(kind string) string {
	if label, ok := dischargeKinds[kind]; ok {
		return label
	}
	return kind
}
