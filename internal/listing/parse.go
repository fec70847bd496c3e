package listing

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultRowSelector matches data rows of the expired-domain listing table.
const DefaultRowSelector = "table.base1 tbody tr"

// RawRow is the text content of one table record, one entry per cell.
type RawRow struct {
	Cells []string
}

// ParseTable extracts rows matched by DefaultRowSelector.
func ParseTable(r io.Reader, minColumns int) ([]RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing html: %w", err)
	}
	return rowsFromDocument(doc, DefaultRowSelector, minColumns), nil
}

// rowsFromDocument returns one RawRow per matched <tr> with at least
// minColumns <td> cells. Header rows (th only) have no td cells and drop out.
func rowsFromDocument(doc *goquery.Document, selector string, minColumns int) []RawRow {
	var rows []RawRow
	doc.Find(selector).Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() == 0 || tds.Length() < minColumns {
			return
		}
		cells := make([]string, 0, tds.Length())
		tds.Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(td.Text()), " "))
		})
		rows = append(rows, RawRow{Cells: cells})
	})
	return rows
}

// looksLikeLogin reports whether a document is a login surface rather than
// the listing.
func looksLikeLogin(doc *goquery.Document) bool {
	return doc.Find(`form[action*="login"], input[type="password"]`).Length() > 0
}
