package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEscapesUserInput(t *testing.T) {
	tpl, err := NewTemplates()
	require.NoError(t, err)

	html, err := tpl.Render(TemplateGeneric, "Nueva Cita Programada", appointmentView{
		RecipientName: "<script>alert(1)</script>",
		Intro:         "Se ha programado una cita.",
		Date:          "2025-03-10",
		Time:          "10:00",
		ClinicianName: "Luis",
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "<h1>Nueva Cita Programada</h1>")
	assert.Contains(t, html, "Consultorio asignado")
}

func TestRenderRejectsUnsafeLinks(t *testing.T) {
	tpl, err := NewTemplates()
	require.NoError(t, err)

	html, err := tpl.Render(TemplateReminder, "", appointmentView{
		Virtual:  true,
		Location: "javascript:alert(1)",
	})
	require.NoError(t, err)
	assert.NotContains(t, html, `href="javascript:`)
	assert.Contains(t, html, "<h1>Recordatorio de Cita</h1>")
}

func TestRenderUnknownTemplate(t *testing.T) {
	tpl, err := NewTemplates()
	require.NoError(t, err)

	_, err = tpl.Render("invoice", "", nil)
	assert.ErrorContains(t, err, "unknown template")
}

func TestDischargeLabelFallsBackToKind(t *testing.T) {
	assert.Equal(t, "Traslado a otro centro", dischargeLabel("traslado"))
	assert.Equal(t, "derivacion", dischargeLabel("derivacion"))
}

func TestNewAttachmentContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", NewAttachment("informe.PDF", nil).ContentType)
	assert.Equal(t, "text/csv", NewAttachment("citas.csv", nil).ContentType)
	assert.Equal(t, "application/octet-stream", NewAttachment("nota.txt", nil).ContentType)
}
