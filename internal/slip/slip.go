// Package slip renders the printable queue ticket a patient shows at the
// front desk.
package slip

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
)

const (
	slipWidth  = 420
	slipHeight = 300

	margin = 24
)

var (
	bgColor     = color.White
	inkColor    = color.RGBA{R: 0x20, G: 0x24, B: 0x2b, A: 0xff}
	accentColor = color.RGBA{R: 0x0f, G: 0x62, B: 0xfe, A: 0xff}
	mutedColor  = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}
)

// Render draws the reservation's ticket as a PNG: department code and queue
// number front and center, the rest as supporting detail.
func Render(r models.Reservation) ([]byte, error) {
	dc := gg.NewContext(slipWidth, slipHeight)
	dc.SetColor(bgColor)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetColor(accentColor)
	dc.SetLineWidth(4)
	dc.DrawLine(0, 0, slipWidth, 0)
	dc.Stroke()

	dc.SetColor(mutedColor)
	dc.DrawStringAnchored("NOMOR ANTRIAN", slipWidth/2, margin+8, 0.5, 0.5)

	// basicfont has one size; scale the context for the big number instead.
	dc.Push()
	dc.ScaleAbout(6, 6, slipWidth/2, 120)
	dc.SetColor(inkColor)
	dc.DrawStringAnchored(fmt.Sprintf("%d", r.QueueNumber), slipWidth/2, 120, 0.5, 0.5)
	dc.Pop()

	dc.Push()
	dc.ScaleAbout(2, 2, slipWidth/2, 185)
	dc.SetColor(accentColor)
	dc.DrawStringAnchored(r.DepartmentCode, slipWidth/2, 185, 0.5, 0.5)
	dc.Pop()

	dc.SetColor(inkColor)
	lines := []string{
		r.Patient.Name,
		r.Department,
		r.VisitDate.Format("Monday, 02 Jan 2006"),
		"Kode registrasi: " + r.RegistrationCode,
	}
	y := float64(215)
	for _, line := range lines {
		dc.DrawStringAnchored(line, slipWidth/2, y, 0.5, 0.5)
		y += 18
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
