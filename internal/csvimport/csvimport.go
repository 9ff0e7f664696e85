package csvimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jo-hoe/shopglot/internal/catalog"
)

// ParseProducts reads a storefront export CSV into product records. The
// export lists one image per row and repeats the handle across a product's
// rows, so consecutive rows with the same handle are folded into one
// product. Only Handle, Title and Image Src are meaningful here; exported
// rows carry no numeric ids, which is why CSV-sourced jobs run against the
// local download destination.
func ParseProducts(r io.Reader) ([]catalog.Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // exports pad trailing columns inconsistently

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	handleIdx := columnIndex(header, "Handle")
	titleIdx := columnIndex(header, "Title")
	imageIdx := columnIndex(header, "Image Src")
	bodyIdx := columnIndex(header, "Body (HTML)")
	if handleIdx < 0 || imageIdx < 0 {
		return nil, fmt.Errorf("csv is missing Handle or Image Src column")
	}

	var products []catalog.Product
	byHandle := make(map[string]int)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		handle := field(row, handleIdx)
		src := field(row, imageIdx)
		if handle == "" || !strings.HasPrefix(src, "http") {
			continue
		}

		idx, ok := byHandle[handle]
		if !ok {
			idx = len(products)
			byHandle[handle] = idx
			products = append(products, catalog.Product{
				Handle:   handle,
				Title:    field(row, titleIdx),
				BodyHTML: field(row, bodyIdx),
			})
		}
		p := &products[idx]
		// Title and description appear only on a product's first row.
		if p.Title == "" {
			p.Title = field(row, titleIdx)
		}
		if p.BodyHTML == "" {
			p.BodyHTML = field(row, bodyIdx)
		}
		p.Images = append(p.Images, catalog.Image{Src: src})
	}

	if len(products) == 0 {
		return nil, fmt.Errorf("no product images found in csv")
	}
	return products, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
